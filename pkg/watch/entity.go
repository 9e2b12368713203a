// Package watch defines the data model for watched governance entities and
// the pure transition policy that classifies status changes into alert
// outcomes. Everything here is free of I/O; persistence and delivery live in
// pkg/store and pkg/alert.
package watch

import "strings"

// Entity is one observation of a governance object (proposal, poll,
// executive vote, amendment) as returned by a source fetcher. It is
// ephemeral: the core compares its status against the stored record and
// discards it at the end of the pass.
type Entity struct {
	// ID is unique within the entity's scope.
	ID string
	// Scope disambiguates sub-sources sharing one store (chain name,
	// snapshot space, proposal type).
	Scope string
	// Status is the source-defined status label. The core treats it as an
	// opaque string beyond equality checks and policy table lookups.
	Status string
	// Title is optional display text for notifications.
	Title string
	// URL is the optional canonical link for the notification action button.
	URL string
	// Support is an optional numeric attribute (e.g. executive vote support
	// percentage). Nil when the source does not report one.
	Support *float64
}

// Key returns the composite store key for the entity.
func (e Entity) Key() string {
	return e.Scope + ":" + e.ID
}

// SplitKey inverts Key. IDs never contain the separator (they are numeric
// ids, hex hashes, or addresses across all families), so the split is on the
// last colon; scopes may contain further colons freely, as tally governor
// ids do ("eip155:1:0x...").
func SplitKey(key string) (scope, id string, ok bool) {
	i := strings.LastIndex(key, ":")
	if i < 0 {
		return key, "", false
	}
	return key[:i], key[i+1:], true
}

// Record is the persisted last-known state for one entity key. It is owned
// exclusively by the store; the dispatcher mutates it only through store
// operations.
type Record struct {
	// Status is the last status written for this key.
	Status string `json:"status"`
	// ThreadAnchor is the opaque reference returned by the notifier on the
	// initial send, used to thread follow-ups. Empty for anchor-less
	// notification models or when the initial send has not succeeded.
	ThreadAnchor string `json:"thread_anchor,omitempty"`
	// Title and URL mirror the last observed entity, so a follow-up for an
	// entity that has since vanished upstream can still be formatted.
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
	// Notified reports whether an initial notification was ever sent
	// successfully for this key.
	Notified bool `json:"notified"`
	// Support mirrors Entity.Support when the source reports one.
	Support *float64 `json:"support,omitempty"`
}

// Outcome classifies a (previous, current) status transition.
type Outcome int

const (
	// NoOp means no notification; the caller still persists a changed status.
	NoOp Outcome = iota
	// NotifyInitial opens a new notification thread for a newly active entity.
	NotifyInitial
	// NotifyUpdate posts a threaded follow-up for a secondary active state.
	NotifyUpdate
	// NotifyTerminal posts the closing follow-up; on success the record is
	// removed from the store.
	NotifyTerminal
	// NotifyAdmin is a one-shot warning about an invalid watch target,
	// independent of any entity record.
	NotifyAdmin
)

func (o Outcome) String() string {
	switch o {
	case NoOp:
		return "noop"
	case NotifyInitial:
		return "initial"
	case NotifyUpdate:
		return "update"
	case NotifyTerminal:
		return "terminal"
	case NotifyAdmin:
		return "admin"
	default:
		return "unknown"
	}
}
