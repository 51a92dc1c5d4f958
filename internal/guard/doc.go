// Package guard throttles credential-guessing attempts. It keeps
// fixed-window failure counters in Redis, keyed by principal and by
// origin, and escalates repeat offenders into exponentially longer
// lockouts. Backend failures block rather than allow.
package guard
