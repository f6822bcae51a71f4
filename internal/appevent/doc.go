// Package appevent carries workspace lifecycle signals (focus,
// visibility, location changes) over an explicit bus instead of
// ambient global handlers. Components take the bus as a constructor
// dependency, subscribe with typed variants, and hold the returned
// unsubscribe for teardown.
package appevent
