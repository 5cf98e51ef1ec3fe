package events

import (
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	event := TaskDispatchedEvent{
		ID:        "task-1",
		Tool:      "aider",
		Repo:      "/repo",
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskDispatched {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskDispatched, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies multiple subscribers receive the same event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	event := TaskCompletedEvent{
		ID:        "task-2",
		Tool:      "codex",
		Success:   true,
		Exit:      0,
		Attempts:  1,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, event)

	// Both channels should receive the event
	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	// Subscribe with buffer size 1
	ch := bus.Subscribe(TopicTask, 1)

	// Publish 10 events - should not deadlock
	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			event := TaskDispatchedEvent{
				ID:        "task-" + string(rune(i)),
				Tool:      "aider",
				Timestamp: time.Now(),
			}
			bus.Publish(TopicTask, event)
		}
		done <- true
	}()

	// Publisher should complete immediately (non-blocking)
	select {
	case <-done:
		// Success - publisher didn't block
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	// Verify we received at least one event (buffer size 1)
	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

// TestCloseSignalsSubscribers verifies that closing the bus closes subscriber channels.
func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(TopicTask, 10)

	// Close the bus
	bus.Close()

	// Channel should be closed (range loop should exit immediately)
	received := 0
	for range ch {
		received++
	}

	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

// TestPublishAfterClose verifies publishing after close doesn't panic.
func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(TopicTask, 10)

	bus.Close()

	// This should not panic
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	event := TaskDispatchedEvent{
		ID:        "task-1",
		Tool:      "aider",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, event)

	// Channel is closed, so we shouldn't receive anything
	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
		// Expected - channel closed, no data
	}
}

// TestMultipleTopics verifies topic isolation.
func TestMultipleTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(TopicTask, 10)
	breakerCh := bus.Subscribe(TopicBreaker, 10)

	taskEvent := TaskDispatchedEvent{
		ID:        "task-1",
		Tool:      "aider",
		Timestamp: time.Now(),
	}

	breakerEvent := BreakerStateChangedEvent{
		Tool:      "aider",
		Open:      true,
		Timestamp: time.Now(),
	}

	bus.Publish(TopicTask, taskEvent)
	bus.Publish(TopicBreaker, breakerEvent)

	// Task channel should receive task event
	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskDispatched {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	// Breaker channel should receive breaker event
	select {
	case received := <-breakerCh:
		if received.EventType() != EventTypeBreakerOpened {
			t.Errorf("breaker channel: expected breaker event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("breaker channel: timeout waiting for event")
	}

	// Task channel should NOT have breaker event
	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}

	// Breaker channel should NOT have task event
	select {
	case <-breakerCh:
		t.Error("breaker channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

// TestSubscribeAll verifies that SubscribeAll receives events from all topics.
func TestSubscribeAll(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	// Publish task event
	taskEvent := TaskDispatchedEvent{
		ID:        "task-1",
		Tool:      "aider",
		Timestamp: time.Now(),
	}
	bus.Publish(TopicTask, taskEvent)

	// Publish breaker event
	breakerEvent := BreakerStateChangedEvent{
		Tool:      "aider",
		Open:      true,
		Timestamp: time.Now(),
	}
	bus.Publish(TopicBreaker, breakerEvent)

	// SubscribeAll channel should receive both events
	receivedTypes := make(map[string]bool)

	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	// Verify we received both types
	if !receivedTypes[EventTypeTaskDispatched] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeBreakerOpened] {
		t.Error("SubscribeAll did not receive breaker event")
	}

	// Should not have any more events
	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
		// Expected - no more events
	}
}
