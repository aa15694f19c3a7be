//nolint:paralleltest,testpackage // Tests use shared resources and need access to unexported functions
package sqspipe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestInFlightMessage_Settle(t *testing.T) {
	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error { return nil })

	if msg.settled() {
		t.Error("expected message to be unsettled after creation")
	}

	msg.settle()

	if !msg.settled() {
		t.Error("expected message to be settled")
	}

	// settle is safe to call more than once
	msg.settle()
}

func TestInFlightMessage_DueForExtension(t *testing.T) {
	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error { return nil })

	if msg.dueForExtension() {
		t.Error("expected freshly received message not to be due")
	}

	msg.lastExtended = time.Now().Add(-31 * time.Second)

	if !msg.dueForExtension() {
		t.Error("expected message past the window midpoint to be due")
	}

	msg.settle()

	if msg.dueForExtension() {
		t.Error("expected settled message never to be due")
	}
}

func TestInFlightMessage_Extend(t *testing.T) {
	var extendCount atomic.Int32

	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error {
		extendCount.Add(1)
		return nil
	})

	before := msg.lastExtended
	msg.lastExtended = time.Now().Add(-31 * time.Second)

	if err := msg.extend(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if extendCount.Load() != 1 {
		t.Errorf("expected 1 extension call, got %d", extendCount.Load())
	}

	if !msg.lastExtended.After(before) {
		t.Error("expected lastExtended to advance on success")
	}
}

func TestInFlightMessage_ExtendAfterSettle(t *testing.T) {
	var extendCount atomic.Int32

	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error {
		extendCount.Add(1)
		return nil
	})

	msg.settle()

	if err := msg.extend(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if extendCount.Load() != 0 {
		t.Error("expected no extension call after settle")
	}
}

func TestInFlightMessage_ExtendFailure(t *testing.T) {
	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error {
		return errors.New("throttled")
	})

	before := msg.lastExtended

	if err := msg.extend(context.Background()); err == nil {
		t.Fatal("expected error from failing extend func")
	}

	if msg.lastExtended != before {
		t.Error("expected lastExtended to stay put on failure")
	}
}

func TestInFlightTracker_Capacity(t *testing.T) {
	opts := newOptions()
	opts.maxInFlightMessages = 2

	tracker := newInFlightTracker(opts, newMockLogger())

	if !tracker.hasCapacity() {
		t.Fatal("expected capacity for an empty tracker")
	}

	tracker.add(newInFlightMessage("msg-1", 60, 100))

	if !tracker.hasCapacity() {
		t.Error("expected capacity below the message limit")
	}

	tracker.add(newInFlightMessage("msg-2", 60, 100))

	if tracker.hasCapacity() {
		t.Error("expected no capacity at the message limit")
	}

	tracker.remove(tracker.messages["msg-1"])

	if !tracker.hasCapacity() {
		t.Error("expected capacity after removal")
	}
}

func TestInFlightTracker_ByteCapacity(t *testing.T) {
	opts := newOptions()
	opts.maxInFlightBytes = 100000

	tracker := newInFlightTracker(opts, newMockLogger())

	tracker.add(newInFlightMessage("msg-1", 60, 100001))

	if tracker.hasCapacity() {
		t.Error("expected no capacity past the byte limit")
	}
}

func TestInFlightTracker_SweepRemovesSettled(t *testing.T) {
	tracker := newInFlightTracker(newOptions(), newMockLogger())

	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error { return nil })
	tracker.add(msg)

	msg.settle()
	tracker.sweep(context.Background())

	if len(tracker.messages) != 0 {
		t.Error("expected settled message to be removed by sweep")
	}

	if tracker.count.Load() != 0 {
		t.Errorf("expected in-flight count 0, got %d", tracker.count.Load())
	}
}

func TestInFlightTracker_SweepRemovesOverAge(t *testing.T) {
	opts := newOptions()

	tracker := newInFlightTracker(opts, newMockLogger())

	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error { return nil })
	msg.receivedAt = time.Now().Add(-opts.maxExtensionAge)
	tracker.add(msg)

	tracker.sweep(context.Background())

	if len(tracker.messages) != 0 {
		t.Error("expected over-age message to be removed by sweep")
	}
}

func TestInFlightTracker_SweepExtendsDue(t *testing.T) {
	var extendCount atomic.Int32

	tracker := newInFlightTracker(newOptions(), newMockLogger())

	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error {
		extendCount.Add(1)
		return nil
	})
	msg.lastExtended = time.Now().Add(-31 * time.Second)
	tracker.add(msg)

	tracker.sweep(context.Background())

	if extendCount.Load() != 1 {
		t.Errorf("expected 1 extension, got %d", extendCount.Load())
	}

	if len(tracker.messages) != 1 {
		t.Error("expected successfully extended message to stay tracked")
	}
}

func TestInFlightTracker_SweepDropsFailedExtension(t *testing.T) {
	tracker := newInFlightTracker(newOptions(), newMockLogger())

	msg := newInFlightMessage("msg-1", 60, 100)
	msg.setExtendFunc(func(_ context.Context) error {
		return errors.New("throttled")
	})
	msg.lastExtended = time.Now().Add(-31 * time.Second)
	tracker.add(msg)

	tracker.sweep(context.Background())

	if len(tracker.messages) != 0 {
		t.Error("expected message with failed extension to be dropped")
	}
}

func TestInFlightTracker_RunAddsFromChannel(t *testing.T) {
	tracker := newInFlightTracker(newOptions(), newMockLogger())

	sourceCh := make(chan *inFlightMessage)
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		tracker.run(ctx, sourceCh)
		close(done)
	}()

	sourceCh <- newInFlightMessage("msg-1", 60, 100)

	deadline := time.After(2 * time.Second)
	for tracker.count.Load() != 1 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for tracker to add message")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tracker run loop to exit")
	}
}

func TestInFlightTracker_RunExitsOnClosedChannel(t *testing.T) {
	tracker := newInFlightTracker(newOptions(), newMockLogger())

	sourceCh := make(chan *inFlightMessage)
	done := make(chan struct{})

	go func() {
		tracker.run(context.Background(), sourceCh)
		close(done)
	}()

	close(sourceCh)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for tracker run loop to exit")
	}
}
