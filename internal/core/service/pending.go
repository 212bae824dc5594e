package service

// pendingChange is an optimistic value waiting for a confirming read.
type pendingChange[T comparable] struct {
	Requested  T
	CyclesLeft uint
	seq        uint64
	// written is set once the device acknowledged the write; reads before
	// that do not count against CyclesLeft.
	written bool
}

// acknowledge marks the change written if seq identifies it.
func (p *pendingChange[T]) acknowledge(seq uint64) bool {
	if p == nil || p.seq != seq {
		return false
	}
	p.written = true
	return true
}

type verifyResult int

const (
	verifyWaiting verifyResult = iota
	verifyConfirmed
	verifyExpired
)

func (p *pendingChange[T]) observe(reported T) verifyResult {
	if !p.written {
		return verifyWaiting
	}
	if reported == p.Requested {
		return verifyConfirmed
	}
	if p.CyclesLeft > 0 {
		p.CyclesLeft--
	}
	if p.CyclesLeft == 0 {
		return verifyExpired
	}
	return verifyWaiting
}
