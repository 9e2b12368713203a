package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestClassifyUnseenEntities(t *testing.T) {
	p := SnapshotPolicy()

	assert.Equal(t, NotifyInitial, p.Classify("", false, "active"))
	assert.Equal(t, NoOp, p.Classify("", false, "closed"))
	assert.Equal(t, NoOp, p.Classify("", false, "pending"))
}

func TestClassifyTerminalTransitions(t *testing.T) {
	p := SnapshotPolicy()

	assert.Equal(t, NotifyTerminal, p.Classify("active", true, "closed"))
	assert.Equal(t, NotifyTerminal, p.Classify("active", true, "deleted"))

	// A record still carrying a terminal status means the closing send
	// failed; classifying it again retries the notification.
	assert.Equal(t, NotifyTerminal, p.Classify("closed", true, "closed"))
	assert.Equal(t, NotifyTerminal, p.Classify("closed", true, "deleted"))
}

func TestClassifyUnchangedIsNoOp(t *testing.T) {
	p := SkyExecutivePolicy()

	assert.Equal(t, NoOp, p.Classify("active", true, "active"))
	assert.Equal(t, NoOp, p.Classify("passed", true, "passed"))
}

func TestClassifyUpdateTransitions(t *testing.T) {
	exec := SkyExecutivePolicy()
	assert.Equal(t, NotifyUpdate, exec.Classify("active", true, "passed"))

	tally := TallyPolicy()
	assert.Equal(t, NotifyUpdate, tally.Classify("active", true, "extended"))

	// Update statuses reached from anywhere but an active status stay
	// silent.
	assert.Equal(t, NoOp, tally.Classify("pending", true, "extended"))
}

func TestClassifySilentDeltas(t *testing.T) {
	p := CosmosPolicy()

	// Unknown intermediate statuses are tracked without alerting.
	assert.Equal(t, NoOp, p.Classify("PROPOSAL_STATUS_VOTING_PERIOD", true, "PROPOSAL_STATUS_DEPOSIT_PERIOD"))
	assert.Equal(t, NotifyTerminal, p.Classify("PROPOSAL_STATUS_DEPOSIT_PERIOD", true, "PROPOSAL_STATUS_PASSED"))
}

func TestFamilyTables(t *testing.T) {
	tests := []struct {
		family   string
		active   string
		terminal string
	}{
		{"snapshot", "active", "closed"},
		{"tally", "active", "defeated"},
		{"cosmos", "PROPOSAL_STATUS_VOTING_PERIOD", "PROPOSAL_STATUS_REJECTED"},
		{"xrpl", "supported", "enabled"},
		{"sky-poll", "active", "ended"},
		{"sky-executive", "active", "executed"},
	}

	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			p, ok := PolicyForFamily(tt.family)
			require.True(t, ok)
			assert.Equal(t, tt.family, p.Family)
			assert.True(t, p.Active.Has(tt.active))
			assert.True(t, p.Terminal.Has(tt.terminal))
		})
	}

	_, ok := PolicyForFamily("moloch")
	assert.False(t, ok)
}

func TestMissingStatusIsTerminal(t *testing.T) {
	// Families that probe for vanished entities must map absence onto a
	// terminal status, or the synthesized transition would never close
	// the thread.
	for _, family := range []string{"snapshot", "tally", "cosmos", "xrpl", "sky-poll", "sky-executive"} {
		p, ok := PolicyForFamily(family)
		require.True(t, ok)
		if p.MissingStatus != "" {
			assert.True(t, p.Terminal.Has(p.MissingStatus), "family %s", family)
		}
	}
}

func statusGen(p Policy) *rapid.Generator[string] {
	statuses := []string{"", "pending", "unknown"}
	for _, set := range []StatusSet{p.Active, p.Update, p.Terminal} {
		for s := range set {
			statuses = append(statuses, s)
		}
	}
	return rapid.SampledFrom(statuses)
}

func TestClassifyNeverAlertsWithoutDeltaProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := TallyPolicy()
		status := statusGen(p).Draw(rt, "status")

		// Same status in and out alerts only in the pending-terminal
		// retry case.
		outcome := p.Classify(status, true, status)
		if p.Terminal.Has(status) {
			assert.Equal(rt, NotifyTerminal, outcome)
		} else {
			assert.Equal(rt, NoOp, outcome)
		}
	})
}

func TestClassifyInitialOnlyForActiveProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		p := SkyExecutivePolicy()
		current := statusGen(p).Draw(rt, "current")

		outcome := p.Classify("", false, current)
		if p.Active.Has(current) {
			assert.Equal(rt, NotifyInitial, outcome)
		} else {
			assert.Equal(rt, NoOp, outcome)
		}
	})
}

func TestSplitKeyRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		// Scopes may carry the separator (tally governor ids do); ids
		// never do.
		scope := rapid.StringMatching(`[a-z0-9:.-]{1,32}`).Draw(rt, "scope")
		id := rapid.StringMatching(`[a-zA-Z0-9.-]{1,40}`).Draw(rt, "id")

		ent := Entity{ID: id, Scope: scope}
		gotScope, gotID, ok := SplitKey(ent.Key())
		require.True(rt, ok)
		assert.Equal(rt, scope, gotScope)
		assert.Equal(rt, id, gotID)
	})
}

func TestSplitKeyGovernorScope(t *testing.T) {
	scope, id, ok := SplitKey("eip155:1:0x408ED6354d4973f66138C91495F2f2FCbd8724C3:77")
	require.True(t, ok)
	assert.Equal(t, "eip155:1:0x408ED6354d4973f66138C91495F2f2FCbd8724C3", scope)
	assert.Equal(t, "77", id)
}
