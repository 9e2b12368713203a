package alert

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajscolaro/gov-alerting-bot/pkg/store"
	"github.com/ajscolaro/gov-alerting-bot/pkg/watch"
)

// fakeNotifier records sends and can be scripted to fail or reject.
type fakeNotifier struct {
	sent       []Message
	nextAnchor string
	err        error
	reject     bool
}

func (f *fakeNotifier) Send(ctx context.Context, msg Message) (SendResult, error) {
	if f.err != nil {
		return SendResult{}, f.err
	}
	f.sent = append(f.sent, msg)
	if f.reject {
		return SendResult{}, nil
	}
	return SendResult{OK: true, Anchor: f.nextAnchor}, nil
}

func newTestDispatcher(t *testing.T, n Notifier) (*Dispatcher, *store.Store, *store.AdminAlertStore) {
	t.Helper()
	dir := t.TempDir()
	s := store.Open(filepath.Join(dir, "state.json"), nil)
	admin := store.OpenAdminAlerts(filepath.Join(dir, "admin.json"), nil)
	d := NewDispatcher(DispatcherConfig{
		Source:   "snapshot",
		Store:    s,
		Admin:    admin,
		Notifier: n,
	})
	return d, s, admin
}

func activeEntity() watch.Entity {
	return watch.Entity{
		ID:     "0xabc",
		Scope:  "aave.eth",
		Status: "active",
		Title:  "AIP-42",
		URL:    "https://snapshot.org/#/aave.eth/proposal/0xabc",
	}
}

func TestDispatchInitialSuccess(t *testing.T) {
	n := &fakeNotifier{nextAnchor: "1712.001"}
	d, s, _ := newTestDispatcher(t, n)
	ent := activeEntity()

	res, err := d.Dispatch(context.Background(), ent, watch.Record{}, false, watch.NotifyInitial, ProjectFormatter{Project: "Aave"})
	require.NoError(t, err)
	assert.True(t, res.Sent)

	require.Len(t, n.sent, 1)
	assert.Equal(t, "Aave Proposal Active", n.sent[0].Title)
	assert.Empty(t, n.sent[0].Anchor)

	rec, ok := s.Get(ent.Key())
	require.True(t, ok)
	assert.Equal(t, "active", rec.Status)
	assert.Equal(t, "1712.001", rec.ThreadAnchor)
	assert.True(t, rec.Notified)
}

func TestDispatchInitialFailureStoresStatusOnly(t *testing.T) {
	n := &fakeNotifier{err: errors.New("connection reset")}
	d, s, _ := newTestDispatcher(t, n)
	ent := activeEntity()

	res, err := d.Dispatch(context.Background(), ent, watch.Record{}, false, watch.NotifyInitial, ProjectFormatter{Project: "Aave"})
	require.Error(t, err)
	assert.False(t, res.Sent)

	rec, ok := s.Get(ent.Key())
	require.True(t, ok)
	assert.Equal(t, "active", rec.Status)
	assert.Empty(t, rec.ThreadAnchor)
	assert.False(t, rec.Notified)
}

func TestDispatchRejectedSendIsFailure(t *testing.T) {
	n := &fakeNotifier{reject: true}
	d, s, _ := newTestDispatcher(t, n)
	ent := activeEntity()

	res, err := d.Dispatch(context.Background(), ent, watch.Record{}, false, watch.NotifyInitial, ProjectFormatter{Project: "Aave"})
	require.NoError(t, err)
	assert.False(t, res.Sent)

	rec, _ := s.Get(ent.Key())
	assert.False(t, rec.Notified)
}

func TestDispatchTerminalThreadsAndRemoves(t *testing.T) {
	n := &fakeNotifier{nextAnchor: "1712.900"}
	d, s, _ := newTestDispatcher(t, n)
	ent := activeEntity()
	ent.Status = "closed"

	rec := watch.Record{Status: "active", ThreadAnchor: "1712.001", Notified: true}
	s.Upsert(ent.Key(), store.Update{Status: "active", ThreadAnchor: "1712.001", Notified: true})

	res, err := d.Dispatch(context.Background(), ent, rec, true, watch.NotifyTerminal, ProjectFormatter{Project: "Aave"})
	require.NoError(t, err)
	assert.True(t, res.Sent)

	require.Len(t, n.sent, 1)
	assert.Equal(t, "1712.001", n.sent[0].Anchor)

	_, ok := s.Get(ent.Key())
	assert.False(t, ok, "terminal success must remove the record")
}

func TestDispatchTerminalFailurePreservesThread(t *testing.T) {
	n := &fakeNotifier{err: errors.New("gateway timeout")}
	d, s, _ := newTestDispatcher(t, n)
	ent := activeEntity()
	ent.Status = "closed"

	rec := watch.Record{Status: "active", ThreadAnchor: "1712.001", Notified: true}
	s.Upsert(ent.Key(), store.Update{Status: "active", ThreadAnchor: "1712.001", Notified: true})

	_, err := d.Dispatch(context.Background(), ent, rec, true, watch.NotifyTerminal, ProjectFormatter{Project: "Aave"})
	require.Error(t, err)

	// The status advances but anchor and notified flag survive, so the
	// next pass retries the closing send on the same thread.
	got, ok := s.Get(ent.Key())
	require.True(t, ok)
	assert.Equal(t, "closed", got.Status)
	assert.Equal(t, "1712.001", got.ThreadAnchor)
	assert.True(t, got.Notified)

	// Retry succeeds and carries the original anchor.
	n.err = nil
	res, err := d.Dispatch(context.Background(), ent, got, true, watch.NotifyTerminal, ProjectFormatter{Project: "Aave"})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "1712.001", n.sent[0].Anchor)

	_, ok = s.Get(ent.Key())
	assert.False(t, ok)
}

func TestDispatchFollowUpWithoutAnchor(t *testing.T) {
	n := &fakeNotifier{}
	d, _, _ := newTestDispatcher(t, n)
	ent := activeEntity()
	ent.Status = "closed"

	rec := watch.Record{Status: "active", Notified: true}
	_, err := d.Dispatch(context.Background(), ent, rec, true, watch.NotifyTerminal, ProjectFormatter{Project: "Aave"})
	require.NoError(t, err)

	require.Len(t, n.sent, 1)
	assert.Empty(t, n.sent[0].Anchor)
	assert.True(t, strings.HasPrefix(n.sent[0].Body, "Unable to find original message context."))
}

func TestDispatchUpdateKeepsRecord(t *testing.T) {
	n := &fakeNotifier{}
	d, s, _ := newTestDispatcher(t, n)

	ent := watch.Entity{ID: "0xdead", Scope: "executive", Status: "passed", Title: "Lite PSM"}
	rec := watch.Record{Status: "active", ThreadAnchor: "1712.010", Notified: true}
	s.Upsert(ent.Key(), store.Update{Status: "active", ThreadAnchor: "1712.010", Notified: true})

	res, err := d.Dispatch(context.Background(), ent, rec, true, watch.NotifyUpdate, ProjectFormatter{Project: "Sky", Noun: "Executive Vote"})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "1712.010", n.sent[0].Anchor)

	got, ok := s.Get(ent.Key())
	require.True(t, ok)
	assert.Equal(t, "passed", got.Status)
	assert.Equal(t, "1712.010", got.ThreadAnchor)
}

func TestDispatchNoOpTracksStatusSilently(t *testing.T) {
	n := &fakeNotifier{}
	d, s, _ := newTestDispatcher(t, n)

	ent := activeEntity()
	ent.Status = "pending"
	_, err := d.Dispatch(context.Background(), ent, watch.Record{}, false, watch.NoOp, ProjectFormatter{Project: "Aave"})
	require.NoError(t, err)

	assert.Empty(t, n.sent)
	rec, ok := s.Get(ent.Key())
	require.True(t, ok)
	assert.Equal(t, "pending", rec.Status)
	assert.False(t, rec.Notified)
}

func TestDispatchAdminIsOneShot(t *testing.T) {
	n := &fakeNotifier{}
	d, _, admin := newTestDispatcher(t, n)
	msg := Message{Title: "Watchlist target invalid", Body: "space gone.eth not found"}

	res, err := d.DispatchAdmin(context.Background(), "snapshot:gone.eth", msg)
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.True(t, admin.Warned("snapshot:gone.eth"))

	// Second offense for the same id stays silent.
	res, err = d.DispatchAdmin(context.Background(), "snapshot:gone.eth", msg)
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Len(t, n.sent, 1)
}

func TestDispatchAdminFailureDoesNotMarkWarned(t *testing.T) {
	n := &fakeNotifier{err: errors.New("timeout")}
	d, _, admin := newTestDispatcher(t, n)

	_, err := d.DispatchAdmin(context.Background(), "snapshot:gone.eth", Message{Title: "x"})
	require.Error(t, err)
	assert.False(t, admin.Warned("snapshot:gone.eth"))
}

func TestProjectFormatterShapes(t *testing.T) {
	f := ProjectFormatter{Project: "Osmosis"}
	ent := watch.Entity{ID: "42", Title: "Upgrade v25", URL: "https://mintscan.io/osmosis/proposals/42"}

	msg := f.Format(watch.NotifyInitial, ent)
	assert.Equal(t, "Osmosis Proposal Active", msg.Title)
	assert.Equal(t, "Upgrade v25", msg.Body)
	assert.Equal(t, "View Proposal", msg.ActionText)

	msg = f.Format(watch.NotifyTerminal, ent)
	assert.Equal(t, "Osmosis Proposal Ended", msg.Title)

	poll := ProjectFormatter{Project: "Sky", Noun: "Poll", ActionText: "View Poll"}
	msg = poll.Format(watch.NotifyUpdate, ent)
	assert.Equal(t, "Sky Poll Update", msg.Title)
	assert.Equal(t, "View Poll", msg.ActionText)

	// Entities without a title fall back to the id and skip the button
	// when there is no URL.
	msg = f.Format(watch.NotifyInitial, watch.Entity{ID: "7"})
	assert.Equal(t, "7", msg.Body)
	assert.Empty(t, msg.ActionText)
}
