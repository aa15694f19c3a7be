package sqspipe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// extendConcurrency bounds the number of ChangeMessageVisibility calls made
// in parallel during a single sweep.
const extendConcurrency = 3

// inFlightMessage tracks one delivery from fetch until it is acknowledged,
// released, or dropped from tracking.
type inFlightMessage struct {
	messageID    string
	receivedAt   time.Time
	lastExtended time.Time
	visibility   time.Duration
	size         int64

	mu       sync.Mutex
	extendFn func(ctx context.Context) error
}

func newInFlightMessage(messageID string, visibilityTimeoutSeconds int32, size int) *inFlightMessage {
	now := time.Now()

	return &inFlightMessage{
		messageID:    messageID,
		receivedAt:   now,
		lastExtended: now,
		visibility:   time.Duration(visibilityTimeoutSeconds) * time.Second,
		size:         int64(size),
	}
}

func (m *inFlightMessage) setExtendFunc(f func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.extendFn = f
}

// settle marks the message as acknowledged or released so that no further
// visibility extensions are attempted. Safe to call more than once.
func (m *inFlightMessage) settle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.extendFn = nil
}

func (m *inFlightMessage) settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.extendFn == nil
}

// dueForExtension reports whether the message is past the midpoint of its
// current visibility window.
func (m *inFlightMessage) dueForExtension() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.extendFn != nil && time.Since(m.lastExtended) > m.visibility/2
}

// extend pushes the message's visibility timeout out by one full window.
// lastExtended is only advanced on success; extension is best-effort and a
// failed message is dropped from tracking by the caller.
func (m *inFlightMessage) extend(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The message may have been settled between the due check and now.
	if m.extendFn == nil {
		return nil
	}

	if err := m.extendFn(ctx); err != nil {
		return err
	}

	m.lastExtended = time.Now()

	return nil
}

// inFlightTracker owns the set of fetched-but-unacknowledged messages. It
// serves two purposes: the fetch loop consults it to pause receiving when
// too many messages are outstanding, and its run loop periodically extends
// the visibility timeout of tracked messages so they are not redelivered
// while still being processed.
//
// Extension is best-effort: a message whose extension call fails is removed
// from tracking and will become visible in SQS again after its current
// timeout expires, so downstream processing should be idempotent.
type inFlightTracker struct {
	messages map[string]*inFlightMessage
	count    atomic.Int64
	bytes    atomic.Int64
	opts     *Options
	logger   Logger
}

func newInFlightTracker(opts *Options, logger Logger) *inFlightTracker {
	return &inFlightTracker{
		messages: make(map[string]*inFlightMessage),
		opts:     opts,
		logger:   logger,
	}
}

// hasCapacity reports whether the fetch loop may receive more messages.
func (t *inFlightTracker) hasCapacity() bool {
	return t.count.Load() < int64(t.opts.maxInFlightMessages) &&
		t.bytes.Load() < int64(t.opts.maxInFlightBytes)
}

// run consumes newly fetched messages from sourceCh and sweeps the tracked
// set on a fixed interval. It exits when ctx is cancelled or sourceCh is
// closed.
func (t *inFlightTracker) run(ctx context.Context, sourceCh <-chan *inFlightMessage) {
	t.logger.Info("In-flight message tracker started")
	defer t.logger.Info("In-flight message tracker exited")

	sweepInterval := max(time.Duration(t.opts.visibilityTimeoutSeconds/3)*time.Second, 5*time.Second)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep(ctx)
		case msg, ok := <-sourceCh:
			if !ok {
				return
			}

			t.add(msg)
		}
	}
}

// sweep drops settled and over-age messages from tracking, then extends the
// visibility of those past the midpoint of their window.
func (t *inFlightTracker) sweep(ctx context.Context) {
	if len(t.messages) == 0 {
		return
	}

	due := []*inFlightMessage{}

	for _, msg := range t.messages {
		if msg.settled() {
			t.remove(msg)
			continue
		}

		if time.Since(msg.receivedAt)+msg.visibility >= t.opts.maxExtensionAge {
			t.logger.WithField("message_id", msg.messageID).Warn("Message reached the extension age limit, dropping from in-flight tracking")
			t.remove(msg)
			continue
		}

		if msg.dueForExtension() {
			due = append(due, msg)
		}
	}

	if len(due) == 0 {
		return
	}

	for _, msg := range t.extendDue(ctx, due) {
		t.remove(msg)
	}
}

// extendDue extends the given messages with bounded concurrency and returns
// the ones whose extension failed.
func (t *inFlightTracker) extendDue(ctx context.Context, due []*inFlightMessage) []*inFlightMessage {
	started := time.Now()

	wg := sync.WaitGroup{}
	sem := semaphore.NewWeighted(extendConcurrency)
	var mu sync.Mutex
	failed := []*inFlightMessage{}

	for _, msg := range due {
		msg := msg
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			if err := msg.extend(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}

				t.logger.WithField("message_id", msg.messageID).Errorf("Failed to extend message visibility, dropping from in-flight tracking: %v", err)

				mu.Lock()
				failed = append(failed, msg)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if ctx.Err() != nil {
		return nil
	}

	t.logger.WithFields(map[string]any{"extended": len(due) - len(failed), "elapsed": time.Since(started)}).Debug("Completed in-flight visibility sweep")

	return failed
}

func (t *inFlightTracker) add(msg *inFlightMessage) {
	t.count.Add(1)
	t.bytes.Add(msg.size)

	t.messages[msg.messageID] = msg
}

func (t *inFlightTracker) remove(msg *inFlightMessage) {
	t.count.Add(-1)
	t.bytes.Add(-msg.size)

	delete(t.messages, msg.messageID)
}
