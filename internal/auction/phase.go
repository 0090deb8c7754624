package auction

import "blindbid.org/internal/chain"

// Phase is derived from a record and the current height; it is never stored.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseCommit
	PhaseReveal
	PhaseClaim
	PhaseElapsed
)

func (p Phase) String() string {
	switch p {
	case PhaseNone:
		return "none"
	case PhaseCommit:
		return "commit"
	case PhaseReveal:
		return "reveal"
	case PhaseClaim:
		return "claim"
	case PhaseElapsed:
		return "elapsed"
	default:
		return "unknown"
	}
}

// Running reports whether a new auction must wait for p to end.
func (p Phase) Running() bool {
	return p == PhaseCommit || p == PhaseReveal || p == PhaseClaim
}

// PhaseOf returns the phase of rec at height h.
func PhaseOf(rec *Record, h chain.Height) Phase {
	switch {
	case rec == nil || !rec.Active:
		return PhaseNone
	case h <= rec.CommitEnd:
		return PhaseCommit
	case h <= rec.RevealEnd:
		return PhaseReveal
	case h <= rec.ClaimEnd:
		return PhaseClaim
	default:
		return PhaseElapsed
	}
}
