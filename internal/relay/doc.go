// Package relay validates control commands and fans them out to every live
// session as events.
//
// The Broadcaster owns three paths into the shared state:
//   - Execute, for commands arriving over REST, MQTT or a session socket
//   - Report, for state self-reported by controller sessions
//   - Run, the periodic controller-activity sweep
//
// All three take one dispatch mutex around "mutate state, enqueue events",
// so events reach each session in the order the inputs arrived. Delivery is
// fire-and-forget: a session that leaves mid-broadcast is skipped silently.
//
// Reports are re-broadcast as state-changed and never re-enter Execute, so a
// controller echoing a change cannot trigger the command again.
package relay
