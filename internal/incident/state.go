package incident

import "github.com/linnemanlabs/aegis/internal/fault"

// transitions is the status state machine. CLOSED is terminal except for the
// explicit reopen back to OPEN. The check runs before any store write; the
// write itself additionally carries a status==current precondition so two
// concurrent status changes cannot both win.
var transitions = map[Status][]Status{
	StatusOpen:         {StatusAcknowledged, StatusResolved, StatusClosed},
	StatusAcknowledged: {StatusMitigating, StatusResolved, StatusClosed},
	StatusMitigating:   {StatusResolved, StatusClosed},
	StatusResolved:     {StatusClosed, StatusOpen}, // reopen
	StatusClosed:       {StatusOpen},               // reopen
}

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// ValidateTransition fails with fault.KindInvalidTransition unless requested
// is reachable from current in one step.
func ValidateTransition(current, requested Status) error {
	allowed, ok := transitions[current]
	if !ok {
		return fault.Newf(fault.KindInvalidTransition, "unknown current status %q", current)
	}
	for _, s := range allowed {
		if s == requested {
			return nil
		}
	}
	return fault.Newf(fault.KindInvalidTransition, "cannot transition from %s to %s", current, requested)
}
