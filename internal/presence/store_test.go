package presence

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
	"github.com/nerrad567/notify-core/internal/infrastructure/database"
	_ "github.com/nerrad567/notify-core/migrations" // registers the schema
)

// knownUsers is a PrincipalResolver over a fixed set of IDs.
type knownUsers map[string]bool

func (k knownUsers) Exists(_ context.Context, id string) (bool, error) {
	return k[id], nil
}

type failingResolver struct{}

func (failingResolver) Exists(context.Context, string) (bool, error) {
	return false, errors.New("directory unavailable")
}

// eventLog records observer callbacks.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) OnPresence(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, e := range l.events {
		out[i] = e.Kind
	}
	return out
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(t.Context(), config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(t.Context()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db.DB
}

func insertUser(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.ExecContext(t.Context(),
		`INSERT INTO users (id, username, password_hash, created_at, updated_at) VALUES (?, ?, 'x', ?, ?)`,
		id, id, fixedNow.Format(time.RFC3339), fixedNow.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("inserting user %s: %v", id, err)
	}
}

// newTestStore returns a store that knows usr-a and usr-b.
func newTestStore(t *testing.T) (*Store, *eventLog) {
	t.Helper()
	db := testDB(t)
	insertUser(t, db, "usr-a")
	insertUser(t, db, "usr-b")

	s := NewStore(NewSQLiteRepository(db), knownUsers{"usr-a": true, "usr-b": true})
	s.now = func() time.Time { return fixedNow }
	log := &eventLog{}
	s.Subscribe(log)
	return s, log
}

func mustDevice(t *testing.T, s *Store, clientID string) *Device {
	t.Helper()
	d, err := s.Get(t.Context(), clientID)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", clientID, err)
	}
	return d
}

func TestRecordConnected_CreatesOnlineDevice(t *testing.T) {
	s, log := newTestStore(t)

	if err := s.RecordConnected(t.Context(), "usr-a", "phone-1", "10.0.0.5"); err != nil {
		t.Fatalf("RecordConnected() error = %v", err)
	}

	d := mustDevice(t, s, "phone-1")
	if !d.Active || d.LastStatus != StatusOnline {
		t.Errorf("device = active %v status %s, want online", d.Active, d.LastStatus)
	}
	if d.UserID == nil || *d.UserID != "usr-a" {
		t.Errorf("owner = %v, want usr-a", d.UserID)
	}
	if d.IPAddress == nil || *d.IPAddress != "10.0.0.5" {
		t.Errorf("ip = %v, want 10.0.0.5", d.IPAddress)
	}
	if d.LastConnectedAt == nil || !d.LastConnectedAt.Equal(fixedNow) {
		t.Errorf("last_connected_at = %v, want %v", d.LastConnectedAt, fixedNow)
	}

	kinds := log.kinds()
	if len(kinds) != 2 || kinds[0] != EventConnected || kinds[1] != EventNewDeviceConnected {
		t.Errorf("events = %v, want [connected new_device_connected]", kinds)
	}
}

func TestRecordConnected_Idempotent(t *testing.T) {
	s, log := newTestStore(t)

	for range 5 {
		if err := s.RecordConnected(t.Context(), "usr-a", "phone-1", "10.0.0.5"); err != nil {
			t.Fatal(err)
		}
	}
	first := mustDevice(t, s, "phone-1")

	if err := s.RecordConnected(t.Context(), "usr-a", "phone-1", "10.0.0.5"); err != nil {
		t.Fatal(err)
	}
	again := mustDevice(t, s, "phone-1")
	if !devicesEqual(first, again) {
		t.Errorf("replay changed state: %+v -> %+v", first, again)
	}

	all, err := s.List(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("device count = %d, want 1", len(all))
	}

	newDevice := 0
	for _, k := range log.kinds() {
		if k == EventNewDeviceConnected {
			newDevice++
		}
	}
	if newDevice != 1 {
		t.Errorf("new_device_connected fired %d times, want 1", newDevice)
	}
}

func devicesEqual(a, b *Device) bool {
	return a.ClientID == b.ClientID && a.Active == b.Active && a.LastStatus == b.LastStatus &&
		*a.UserID == *b.UserID && *a.IPAddress == *b.IPAddress &&
		a.LastConnectedAt.Equal(*b.LastConnectedAt)
}

func TestRecordConnected_UnknownUserIsNoop(t *testing.T) {
	s, log := newTestStore(t)

	if err := s.RecordConnected(t.Context(), "usr-ghost", "phone-9", "10.0.0.9"); err != nil {
		t.Fatalf("RecordConnected() error = %v, want nil", err)
	}
	if _, err := s.Get(t.Context(), "phone-9"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get() error = %v, want ErrDeviceNotFound", err)
	}
	if len(log.kinds()) != 0 {
		t.Errorf("events = %v, want none", log.kinds())
	}
}

func TestRecordConnected_InvalidIPStoredAsNull(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.RecordConnected(t.Context(), "usr-a", "phone-1", "not-an-ip"); err != nil {
		t.Fatal(err)
	}
	if d := mustDevice(t, s, "phone-1"); d.IPAddress != nil {
		t.Errorf("ip = %q, want NULL", *d.IPAddress)
	}
}

func TestRecordConnected_ReassignsOwner(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.RecordConnected(t.Context(), "usr-a", "shared", "10.0.0.1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordConnected(t.Context(), "usr-b", "shared", "10.0.0.2"); err != nil {
		t.Fatal(err)
	}
	d := mustDevice(t, s, "shared")
	if *d.UserID != "usr-b" || *d.IPAddress != "10.0.0.2" {
		t.Errorf("device = owner %s ip %s, want usr-b 10.0.0.2", *d.UserID, *d.IPAddress)
	}
}

func TestRecordConnected_EmptyClientID(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.RecordConnected(t.Context(), "usr-a", "", ""); !errors.Is(err, ErrInvalidClientID) {
		t.Errorf("error = %v, want ErrInvalidClientID", err)
	}
}

func TestRecordConnected_ResolverError(t *testing.T) {
	db := testDB(t)
	s := NewStore(NewSQLiteRepository(db), failingResolver{})
	if err := s.RecordConnected(t.Context(), "usr-a", "phone-1", ""); err == nil {
		t.Error("resolver failure should be returned")
	}
}

func TestRecordDisconnected(t *testing.T) {
	s, log := newTestStore(t)
	ctx := t.Context()

	if err := s.RecordConnected(ctx, "usr-a", "phone-1", "10.0.0.5"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordDisconnected(ctx, "usr-a", "phone-1"); err != nil {
		t.Fatalf("RecordDisconnected() error = %v", err)
	}

	d := mustDevice(t, s, "phone-1")
	if d.Active || d.LastStatus != StatusOffline {
		t.Errorf("device = active %v status %s, want offline", d.Active, d.LastStatus)
	}
	if d.IPAddress == nil || *d.IPAddress != "10.0.0.5" {
		t.Error("disconnect should not clear the last address")
	}

	// Replay is a no-op and does not fire again.
	if err := s.RecordDisconnected(ctx, "usr-a", "phone-1"); err != nil {
		t.Fatal(err)
	}
	disconnects := 0
	for _, k := range log.kinds() {
		if k == EventDisconnected {
			disconnects++
		}
	}
	if disconnects != 1 {
		t.Errorf("disconnected fired %d times, want 1", disconnects)
	}
}

func TestRecordDisconnected_NoPhantomDevices(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := t.Context()

	if err := s.RecordConnected(ctx, "usr-a", "phone-1", ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		userID   string
		clientID string
	}{
		{"unknown client", "usr-a", "tablet-7"},
		{"other owner", "usr-b", "phone-1"},
		{"unknown user", "usr-ghost", "phone-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.RecordDisconnected(ctx, tt.userID, tt.clientID); err != nil {
				t.Fatalf("RecordDisconnected() error = %v", err)
			}
		})
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("device count = %d, want 1", len(all))
	}
	if d := mustDevice(t, s, "phone-1"); !d.Active {
		t.Error("phone-1 should still be online")
	}
}

func TestDisconnectBeforeConnect(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := t.Context()

	// Reordered delivery: the disconnect arrives first and is dropped.
	if err := s.RecordDisconnected(ctx, "usr-a", "phone-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordConnected(ctx, "usr-a", "phone-1", ""); err != nil {
		t.Fatal(err)
	}
	if d := mustDevice(t, s, "phone-1"); !d.Active {
		t.Error("device should be online")
	}
}

func TestListActiveAndActiveUserIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := t.Context()

	for _, ev := range []struct{ user, client string }{
		{"usr-a", "a-phone"}, {"usr-a", "a-laptop"}, {"usr-b", "b-phone"},
	} {
		if err := s.RecordConnected(ctx, ev.user, ev.client, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordDisconnected(ctx, "usr-b", "b-phone"); err != nil {
		t.Fatal(err)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[0].ClientID != "a-phone" || active[1].ClientID != "a-laptop" {
		t.Errorf("ListActive() = %+v", active)
	}

	ids, err := s.ActiveUserIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "usr-a" {
		t.Errorf("ActiveUserIDs() = %v, want [usr-a]", ids)
	}

	mine, err := s.ListByUser(ctx, "usr-b")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].Active {
		t.Errorf("ListByUser(usr-b) = %+v", mine)
	}
}

func TestReconcile(t *testing.T) {
	s, log := newTestStore(t)
	ctx := t.Context()

	for _, c := range []string{"c1", "c2", "c3"} {
		if err := s.RecordConnected(ctx, "usr-a", c, ""); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.Reconcile(ctx, []string{"c2", "unknown-to-us"}, fixedNow.Add(time.Second))
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Reconcile() changed %d, want 2", n)
	}

	active, err := s.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ClientID != "c2" {
		t.Errorf("ListActive() = %+v, want only c2", active)
	}
	if _, err := s.Get(ctx, "unknown-to-us"); !errors.Is(err, ErrDeviceNotFound) {
		t.Error("Reconcile must not create devices")
	}

	var disconnected []string
	log.mu.Lock()
	for _, e := range log.events {
		if e.Kind == EventDisconnected {
			disconnected = append(disconnected, e.ClientID)
		}
	}
	log.mu.Unlock()
	if len(disconnected) != 2 {
		t.Errorf("disconnect events = %v, want c1 and c3", disconnected)
	}
}

// TestReconcile_ConnectAfterSnapshot covers a connect webhook landing
// between the broker list fetch and the reconcile pass.
func TestReconcile_ConnectAfterSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := t.Context()

	now := fixedNow
	s.now = func() time.Time { return now }

	if err := s.RecordConnected(ctx, "usr-a", "tablet", ""); err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Second)
	snapshotAt := now

	now = now.Add(time.Second)
	if err := s.RecordConnected(ctx, "usr-a", "phone", ""); err != nil {
		t.Fatal(err)
	}

	n, err := s.Reconcile(ctx, []string{}, snapshotAt)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Reconcile() changed %d, want 1 (tablet only)", n)
	}
	if d := mustDevice(t, s, "phone"); !d.Active || d.LastStatus != StatusOnline {
		t.Errorf("phone = active %v status %s, want online", d.Active, d.LastStatus)
	}
	if d := mustDevice(t, s, "tablet"); d.Active {
		t.Error("tablet should be offline")
	}
}

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string // "" means nil
	}{
		{"", ""},
		{"garbage", ""},
		{"192.168.1.10", "192.168.1.10"},
		{"::1", "::1"},
		{"2001:DB8::1", "2001:db8::1"},
	}
	for _, tt := range tests {
		got := NormalizeIP(tt.in)
		switch {
		case tt.want == "" && got != nil:
			t.Errorf("NormalizeIP(%q) = %q, want nil", tt.in, *got)
		case tt.want != "" && (got == nil || *got != tt.want):
			t.Errorf("NormalizeIP(%q) = %v, want %q", tt.in, got, tt.want)
		}
	}
}
