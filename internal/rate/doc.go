// Package rate implements fixed-window attempt counters in the shared counter store.
//
// # Window semantics
//
// One Lua script increments the counter, starts the window on the first hit and
// returns the remaining window, so check and increment are a single atomic step.
// Keys have the form <prefix>:<scope>:<identifier>, for example rl:login:ip:1.2.3.4.
// Records are removed only by store expiry.
//
// # What this package must NOT do
//
//   - Open, close or reconnect the store client. The client is borrowed from
//     whoever constructed it; the limiter only observes its errors.
//   - Decide HTTP responses (those live in middleware).
package rate
