package emqx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
)

// fakeBroker serves /api/v5/clients from a fixed list, limit entries per page.
func fakeBroker(t *testing.T, clients []ConnectedClient, withHasNext bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != clientsPath {
			http.NotFound(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))   //nolint:errcheck // test server
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit")) //nolint:errcheck // test server
		start := (page - 1) * limit
		end := min(start+limit, len(clients))
		if start > len(clients) {
			start = len(clients)
		}

		body := map[string]any{"data": clients[start:end]}
		meta := map[string]any{"page": page, "limit": limit, "count": len(clients)}
		if withHasNext {
			meta["hasnext"] = end < len(clients)
		}
		body["meta"] = meta
		json.NewEncoder(w).Encode(body) //nolint:errcheck // test server
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(config.EMQXAPIConfig{URL: url + "/", Key: "key", Secret: "secret"}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func manyClients(n int) []ConnectedClient {
	out := make([]ConnectedClient, n)
	for i := range out {
		out[i] = ConnectedClient{ClientID: "c" + strconv.Itoa(i), Username: "usr-a", Connected: true}
	}
	return out
}

func TestConnectedClientIDs_Paginates(t *testing.T) {
	for _, withHasNext := range []bool{true, false} {
		t.Run("hasnext="+strconv.FormatBool(withHasNext), func(t *testing.T) {
			srv := fakeBroker(t, manyClients(250), withHasNext)
			c := newTestClient(t, srv.URL)

			ids, err := c.ConnectedClientIDs(t.Context())
			if err != nil {
				t.Fatalf("ConnectedClientIDs() error = %v", err)
			}
			if len(ids) != 250 {
				t.Fatalf("got %d ids, want 250", len(ids))
			}
			if ids[0] != "c0" || ids[249] != "c249" {
				t.Errorf("ids[0], ids[249] = %s, %s", ids[0], ids[249])
			}
		})
	}
}

func TestConnectedClients_SkipsDisconnected(t *testing.T) {
	srv := fakeBroker(t, []ConnectedClient{
		{ClientID: "up", Connected: true},
		{ClientID: "down", Connected: false},
	}, true)
	c := newTestClient(t, srv.URL)

	got, err := c.ConnectedClients(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ClientID != "up" {
		t.Errorf("ConnectedClients() = %+v", got)
	}
}

func TestConnectedClients_Empty(t *testing.T) {
	srv := fakeBroker(t, nil, true)
	ids, err := newTestClient(t, srv.URL).ConnectedClientIDs(t.Context())
	if err != nil || len(ids) != 0 {
		t.Errorf("ConnectedClientIDs() = %v, %v", ids, err)
	}
}

func TestConnectedClients_Errors(t *testing.T) {
	srv := fakeBroker(t, manyClients(1), true)

	bad, err := NewClient(config.EMQXAPIConfig{URL: srv.URL, Key: "key", Secret: "wrong"}, srv.Client())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bad.ConnectedClients(t.Context()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("wrong secret error = %v, want ErrUnauthorized", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "node down", http.StatusServiceUnavailable)
	}))
	defer broken.Close()
	if _, err := newTestClient(t, broken.URL).ConnectedClients(t.Context()); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("503 error = %v, want ErrRequestFailed", err)
	}

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>")) //nolint:errcheck // test server
	}))
	defer garbage.Close()
	if _, err := newTestClient(t, garbage.URL).ConnectedClients(t.Context()); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("bad body error = %v, want ErrRequestFailed", err)
	}
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(config.EMQXAPIConfig{}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("NewClient() error = %v, want ErrInvalidConfig", err)
	}
}

// =============================================================================
// Reconciler
// =============================================================================

type fakeLister struct {
	ids     []string
	err     error
	fetched *time.Time
}

func (f fakeLister) ConnectedClientIDs(context.Context) ([]string, error) {
	if f.fetched != nil {
		*f.fetched = time.Now()
	}
	return f.ids, f.err
}

type fakeStore struct {
	mu        sync.Mutex
	passes    [][]string
	snapshots []time.Time
}

func (f *fakeStore) Reconcile(_ context.Context, connected []string, snapshotAt time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passes = append(f.passes, connected)
	f.snapshots = append(f.snapshots, snapshotAt)
	return 1, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.passes)
}

func TestReconciler_RunOnce(t *testing.T) {
	store := &fakeStore{}
	var fetched time.Time
	r := NewReconciler(fakeLister{ids: []string{"c1", "c2"}, fetched: &fetched}, store, time.Hour)

	n, err := r.RunOnce(t.Context())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce() = %d, %v", n, err)
	}
	if len(store.passes) != 1 || len(store.passes[0]) != 2 {
		t.Errorf("passes = %v", store.passes)
	}
	// The snapshot time is taken before the list is fetched.
	if store.snapshots[0].IsZero() || store.snapshots[0].After(fetched) {
		t.Errorf("snapshotAt = %v, fetched at %v", store.snapshots[0], fetched)
	}
}

func TestReconciler_FetchErrorLeavesPresenceAlone(t *testing.T) {
	store := &fakeStore{}
	r := NewReconciler(fakeLister{err: ErrUnauthorized}, store, time.Hour)

	if _, err := r.RunOnce(t.Context()); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("RunOnce() error = %v", err)
	}
	if store.count() != 0 {
		t.Error("store must not be reconciled against a failed fetch")
	}
}

func TestReconciler_StartStop(t *testing.T) {
	store := &fakeStore{}
	r := NewReconciler(fakeLister{ids: []string{"c1"}}, store, 10*time.Millisecond)

	r.Start(t.Context())
	deadline := time.Now().Add(2 * time.Second)
	for store.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.Stop()
	r.Stop()

	if store.count() < 2 {
		t.Errorf("passes = %d, want at least 2", store.count())
	}
	after := store.count()
	time.Sleep(30 * time.Millisecond)
	if store.count() != after {
		t.Error("reconciler kept running after Stop")
	}
}
