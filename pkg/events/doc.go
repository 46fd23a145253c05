/*
Package events provides an in-memory pub/sub broker for the master's
operator event stream.

# Architecture

Publish into a buffered channel (Publish blocks only while that buffer is
full), fanned out to per-subscriber buffered channels by a single broadcast
loop:

	Publisher → eventCh (buffer 100) → broadcast loop → subscriber channels (buffer 50 each)

A full subscriber buffer causes that subscriber to miss the event rather
than blocking the publisher — a slow operator client falls behind, it never
stalls the master.

# Event Types

	agent.added, agent.removed, agent.unreachable
	framework.added, framework.removed, framework.disconnected
	task.added, task.updated
	heartbeat

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("%s: %s\n", event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventTaskUpdated,
		Message: "task t1 is now TASK_RUNNING",
		Metadata: map[string]string{"task_id": "t1", "state": "TASK_RUNNING"},
	})

# Integration

pkg/master publishes here on every lifecycle transition; pkg/api's
websocket Subscribe handler registers one Subscriber per connected operator
client and relays events as they arrive. pkg/metrics.Collector reads
broker.SubscriberCount() to populate master_subscribers_connected.
*/
package events
