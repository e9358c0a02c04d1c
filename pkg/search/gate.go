package search

import "time"

// Gate is the single-flight admission gate in front of search. A request
// that cannot acquire the slot within its wait budget runs a degraded pass
// instead of queueing behind slow neighbours.
type Gate struct {
	slot chan struct{}
}

// NewGate returns an open gate.
func NewGate() *Gate {
	g := &Gate{slot: make(chan struct{}, 1)}
	g.slot <- struct{}{}
	return g
}

// Acquire tries to take the slot within wait. On success it returns a
// release func and true; on timeout it returns a no-op and false.
func (g *Gate) Acquire(wait time.Duration) (release func(), ok bool) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-g.slot:
		return func() { g.slot <- struct{}{} }, true
	case <-timer.C:
		return func() {}, false
	}
}
