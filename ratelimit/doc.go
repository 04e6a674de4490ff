// Package ratelimit provides keyed token-bucket rate limiting.
//
// A Limiter holds one bucket per key, created full on first use. Policy
// rules use it to cap how many messages a single sender may publish per
// window:
//
//	limiter, _ := ratelimit.New(ratelimit.Config{Capacity: 10, Window: time.Minute})
//	if !limiter.Allow(msg.Sender) {
//	    // over budget
//	}
//
// Tokens refill continuously at Capacity per Window. Release returns a
// token early for semaphore-style use.
package ratelimit
