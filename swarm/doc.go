// Package swarm provides the coordinator that dispatches queued bus messages
// to registered agents.
//
// # Routing
//
// Each tick drains the bus queue and routes every message in publish order:
//
//   - a message with a Recipient goes to that agent, or is unrouted if the
//     agent is not registered
//   - otherwise the first-registered agent whose capabilities include the
//     message type receives it
//
// Unrouted messages produce EventMessageUnrouted. Agent errors and panics
// produce EventMessageFailed and count as failures. Nothing is retried: the
// queue is empty after every tick.
//
// # Lifecycle
//
//	coord := swarm.New("s1", b, swarm.DefaultConfig())
//	coord.RegisterAgent(writer)
//	coord.Start(50 * time.Millisecond)
//	defer coord.Stop()
//
// Tick can also be called directly, which is how tests drive dispatch
// deterministically.
//
// There is no timeout on Process. An agent that never returns stalls every
// later tick of its coordinator.
package swarm
