/*
Package events provides an in-memory event broker for Vault's pub/sub
notifications.

The events package implements a lightweight event bus for broadcasting
domain events to interested subscribers: service lifecycle transitions,
ingestion outcomes, and task completions. It supports non-blocking,
topic-agnostic delivery over buffered channels, decoupling the
components that notice something happened from whatever wants to react
to it (an audit log, a metrics exporter, a future webhook sink).

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s: %s\n", event.Timestamp.Format(time.RFC3339), event.Type, event.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:    events.EventServiceStateChanged,
		Message: "index: STARTING -> RUNNING",
		Metadata: map[string]string{
			"service": "index",
			"from":    "STARTING",
			"to":      "RUNNING",
		},
	})

# Design

Publish never blocks on a slow or absent subscriber: a full subscriber
buffer drops the event rather than stalling the publisher. This trades
guaranteed delivery for throughput, which fits this package's role —
secondary observability, not the path that actually fails a task or
fails a service.
*/
package events
