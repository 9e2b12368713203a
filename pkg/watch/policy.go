package watch

// StatusSet is a membership table of source status labels.
type StatusSet map[string]struct{}

// NewStatusSet builds a StatusSet from labels.
func NewStatusSet(labels ...string) StatusSet {
	s := make(StatusSet, len(labels))
	for _, l := range labels {
		s[l] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s StatusSet) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// Policy is the pure transition classifier for one source family. Platform
// differences are data: the three status sets fully determine the outcome
// for any (previous, current) pair.
type Policy struct {
	// Family names the source family ("snapshot", "tally", ...). Used only
	// for logging.
	Family string
	// Active holds the statuses worth opening a thread for when an entity
	// is first observed.
	Active StatusSet
	// Update holds secondary active statuses that warrant a threaded
	// follow-up when reached from an active status.
	Update StatusSet
	// Terminal holds the statuses from which no further transition is
	// monitored. Reaching one triggers the closing notification.
	Terminal StatusSet
	// MissingStatus is the status to assume when a tracked entity no
	// longer resolves upstream on a probe (deleted proposal, expired
	// poll). Empty means missing entities are left untouched.
	MissingStatus string
}

// Classify maps a transition to an outcome. previous is the stored status;
// seen is false when the entity has never been observed. The classification
// follows a strict order:
//
//   - unseen + active current ⇒ NotifyInitial; unseen otherwise ⇒ NoOp
//     (silently tracked, a thread is never opened retroactively)
//   - terminal current ⇒ NotifyTerminal. This fires even when previous
//     equals current: a successful terminal send removes the record, so a
//     record still carrying a terminal status means the closing send
//     failed and is pending retry.
//   - unchanged status ⇒ NoOp
//   - active previous + update current ⇒ NotifyUpdate
//   - any other delta ⇒ NoOp, but the caller must still persist the new
//     status so the next comparison is accurate
func (p Policy) Classify(previous string, seen bool, current string) Outcome {
	if !seen {
		if p.Active.Has(current) {
			return NotifyInitial
		}
		return NoOp
	}
	if p.Terminal.Has(current) {
		return NotifyTerminal
	}
	if previous == current {
		return NoOp
	}
	if p.Active.Has(previous) && p.Update.Has(current) {
		return NotifyUpdate
	}
	return NoOp
}

// Built-in family tables. Status labels are the exact strings the upstream
// sources report; fetchers are responsible for any case normalization
// (tally statuses arrive lowercased).

// SnapshotPolicy covers snapshot.org spaces. Deleted proposals are reported
// by the fetcher as status "deleted".
func SnapshotPolicy() Policy {
	return Policy{
		Family:        "snapshot",
		Active:        NewStatusSet("active"),
		Update:        NewStatusSet(),
		Terminal:      NewStatusSet("closed", "deleted"),
		MissingStatus: "deleted",
	}
}

// TallyPolicy covers Tally governor contracts.
func TallyPolicy() Policy {
	return Policy{
		Family: "tally",
		Active: NewStatusSet("active"),
		Update: NewStatusSet("extended"),
		Terminal: NewStatusSet(
			"succeeded", "archived", "canceled", "callexecuted",
			"defeated", "executed", "expired", "queued",
			"pendingexecution", "crosschainexecuted",
		),
	}
}

// CosmosPolicy covers Cosmos SDK gov modules.
func CosmosPolicy() Policy {
	return Policy{
		Family: "cosmos",
		Active: NewStatusSet("PROPOSAL_STATUS_VOTING_PERIOD"),
		Update: NewStatusSet(),
		Terminal: NewStatusSet(
			"PROPOSAL_STATUS_PASSED",
			"PROPOSAL_STATUS_REJECTED",
			"PROPOSAL_STATUS_FAILED",
		),
	}
}

// XRPLPolicy covers XRP Ledger amendments. The fetcher maps the amendment
// lifecycle onto two labels: "supported" (majority-seeking) and "enabled".
func XRPLPolicy() Policy {
	return Policy{
		Family:   "xrpl",
		Active:   NewStatusSet("supported"),
		Update:   NewStatusSet(),
		Terminal: NewStatusSet("enabled"),
	}
}

// SkyPollPolicy covers Sky governance polls.
func SkyPollPolicy() Policy {
	return Policy{
		Family:        "sky-poll",
		Active:        NewStatusSet("active"),
		Update:        NewStatusSet(),
		Terminal:      NewStatusSet("ended"),
		MissingStatus: "ended",
	}
}

// SkyExecutivePolicy covers Sky executive votes, which pass before they
// execute. "passed" is the update-equivalent intermediate state.
func SkyExecutivePolicy() Policy {
	return Policy{
		Family:   "sky-executive",
		Active:   NewStatusSet("active"),
		Update:   NewStatusSet("passed"),
		Terminal: NewStatusSet("executed"),
	}
}

// PolicyForFamily resolves a family name from configuration to its table.
// Unknown families return (Policy{}, false).
func PolicyForFamily(family string) (Policy, bool) {
	switch family {
	case "snapshot":
		return SnapshotPolicy(), true
	case "tally":
		return TallyPolicy(), true
	case "cosmos":
		return CosmosPolicy(), true
	case "xrpl":
		return XRPLPolicy(), true
	case "sky-poll":
		return SkyPollPolicy(), true
	case "sky-executive":
		return SkyExecutivePolicy(), true
	default:
		return Policy{}, false
	}
}
