// Package bus provides the message bus shared by a coordination system's
// coordinator, policy engine and external publishers.
//
// # Delivery
//
// Publish does three things before returning:
//
//   - fills in ID (a UUID), Timestamp and Priority when they are missing
//   - appends the message to the pending queue and the bounded history
//   - calls subscribers of the message type, then wildcard subscribers
//
// Handlers run on the publisher's goroutine without any bus lock held, so a
// handler may publish again. Each handler is isolated: an error or panic is
// logged and emitted as EventSubscriberFailed, and delivery continues.
//
//	b := bus.New(bus.DefaultConfig())
//	stop := b.Subscribe("doc", func(ctx context.Context, m *bus.Message) error {
//	    fmt.Println(m.Payload["title"])
//	    return nil
//	})
//	defer stop()
//
//	b.Publish(ctx, bus.Message{Type: "doc", Sender: "u1"})
//
// # Queue
//
// The queue is consumed by the swarm coordinator with Drain, which takes the
// pending messages and clears the queue atomically. Queue and ClearQueue are
// available for inspection and manual resets.
//
// # History
//
// History keeps the most recent HistoryCapacity messages (10000 by default)
// and evicts the oldest first. Clearing the queue never touches history.
package bus
