package webhook

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/nerrad567/notify-core/internal/auth"
	"github.com/nerrad567/notify-core/internal/infrastructure/mqtt"
)

const testSecret = "s3cret-webhook-token"

type call struct {
	kind     string
	userID   string
	clientID string
	ip       string
}

type fakePresence struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakePresence) RecordConnected(_ context.Context, userID, clientID, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"connected", userID, clientID, ip})
	return f.err
}

func (f *fakePresence) RecordDisconnected(_ context.Context, userID, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{"disconnected", userID, clientID, ""})
	return f.err
}

func newTestHandler() (*Handler, *fakePresence) {
	p := &fakePresence{}
	return NewHandler(auth.NewAccessControl(testSecret, "admin"), p), p
}

func TestHandle_Responses(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		body       string
		wantStatus int
		wantKey    string
		wantValue  string
		wantCalls  int
	}{
		{
			name:       "wrong secret wins over bad body",
			secret:     "nope",
			body:       `{not json`,
			wantStatus: http.StatusForbidden, wantKey: "error", wantValue: "Forbidden",
		},
		{
			name:       "missing secret",
			body:       `{"event":"client.connected","clientid":"c1","user_id":"usr-a"}`,
			wantStatus: http.StatusForbidden, wantKey: "error", wantValue: "Forbidden",
		},
		{
			name:       "malformed json",
			secret:     testSecret,
			body:       `{"event":`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid JSON",
		},
		{
			name:       "json array is not an object",
			secret:     testSecret,
			body:       `[1,2]`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid JSON",
		},
		{
			name:       "json null",
			secret:     testSecret,
			body:       `null`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid JSON",
		},
		{
			name:       "missing client id",
			secret:     testSecret,
			body:       `{"event":"client.connected","user_id":"usr-a"}`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid data",
		},
		{
			name:       "backend still needs required fields",
			secret:     testSecret,
			body:       `{"event":"client.connected","user_id":"backend"}`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid data",
		},
		{
			name:       "non-string event",
			secret:     testSecret,
			body:       `{"event":5,"clientid":"c1","user_id":"usr-a"}`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid data",
		},
		{
			name:       "fractional user id",
			secret:     testSecret,
			body:       `{"event":"client.connected","clientid":"c1","user_id":4.5}`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid data",
		},
		{
			name:       "trailing garbage",
			secret:     testSecret,
			body:       `{"event":"client.connected","clientid":"c1","user_id":"usr-a"} x`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Invalid JSON",
		},
		{
			name:       "backend short-circuits",
			secret:     testSecret,
			body:       `{"event":"client.connected","clientid":"notify-core","user_id":"backend"}`,
			wantStatus: http.StatusOK, wantKey: "status", wantValue: "success",
		},
		{
			name:       "backend short-circuits unknown events too",
			secret:     testSecret,
			body:       `{"event":"session.created","clientid":"notify-core","username":"backend"}`,
			wantStatus: http.StatusOK, wantKey: "status", wantValue: "success",
		},
		{
			name:       "unknown event",
			secret:     testSecret,
			body:       `{"event":"session.created","clientid":"c1","user_id":"usr-a"}`,
			wantStatus: http.StatusBadRequest, wantKey: "error", wantValue: "Unknown event",
		},
		{
			name:       "connected",
			secret:     testSecret,
			body:       `{"event":"client.connected","clientid":"c1","user_id":"usr-a","ip_address":"10.0.0.5"}`,
			wantStatus: http.StatusOK, wantKey: "status", wantValue: "success", wantCalls: 1,
		},
		{
			name:       "disconnected with alternate names",
			secret:     testSecret,
			body:       `{"event":"client.disconnected","client_id":"c1","username":"usr-a"}`,
			wantStatus: http.StatusOK, wantKey: "status", wantValue: "success", wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, p := newTestHandler()
			resp := h.Handle(t.Context(), tt.secret, []byte(tt.body))

			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", resp.Status, tt.wantStatus)
			}
			if resp.Body[tt.wantKey] != tt.wantValue {
				t.Errorf("Body = %v, want %s=%s", resp.Body, tt.wantKey, tt.wantValue)
			}
			if len(resp.Body) != 1 {
				t.Errorf("Body = %v, want a single field", resp.Body)
			}
			if len(p.calls) != tt.wantCalls {
				t.Errorf("presence calls = %v, want %d", p.calls, tt.wantCalls)
			}
		})
	}
}

func TestHandle_EmptyConfiguredSecretRejectsEverything(t *testing.T) {
	p := &fakePresence{}
	h := NewHandler(auth.NewAccessControl("", "admin"), p)

	resp := h.Handle(t.Context(), "", []byte(`{"event":"client.connected","clientid":"c1","user_id":"usr-a"}`))
	if resp.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", resp.Status)
	}
}

func TestHandle_ConnectedPassesAddress(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		wantIP string
	}{
		{"ip_address field", `{"event":"client.connected","clientid":"c1","user_id":"usr-a","ip_address":"192.168.1.20"}`, "192.168.1.20"},
		{"peername fallback", `{"event":"client.connected","clientid":"c1","user_id":"usr-a","peername":"172.18.0.3:51234"}`, "172.18.0.3"},
		{"ipv6 peername", `{"event":"client.connected","clientid":"c1","user_id":"usr-a","peername":"[::1]:1883"}`, "::1"},
		{"ip_address preferred", `{"event":"client.connected","clientid":"c1","user_id":"usr-a","ip_address":"10.0.0.1","peername":"10.0.0.2:1"}`, "10.0.0.1"},
		{"none", `{"event":"client.connected","clientid":"c1","user_id":"usr-a"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, p := newTestHandler()
			h.Handle(t.Context(), testSecret, []byte(tt.body))

			if len(p.calls) != 1 {
				t.Fatalf("calls = %v", p.calls)
			}
			got := p.calls[0]
			if got.kind != "connected" || got.userID != "usr-a" || got.clientID != "c1" || got.ip != tt.wantIP {
				t.Errorf("call = %+v, want connected usr-a c1 %q", got, tt.wantIP)
			}
		})
	}
}

func TestHandle_NumericIDs(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		wantUserID   string
		wantClientID string
	}{
		{"numeric user_id", `{"event":"client.connected","clientid":"c1","user_id":42}`, "42", "c1"},
		{"numeric username", `{"event":"client.disconnected","clientid":"c1","username":42}`, "42", "c1"},
		{"large id keeps digits", `{"event":"client.connected","clientid":"c1","user_id":9007199254740993}`, "9007199254740993", "c1"},
		{"numeric client id", `{"event":"client.connected","clientid":7,"user_id":"usr-a"}`, "usr-a", "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, p := newTestHandler()
			resp := h.Handle(t.Context(), testSecret, []byte(tt.body))

			if resp.Status != http.StatusOK {
				t.Fatalf("Status = %d, body %v", resp.Status, resp.Body)
			}
			if len(p.calls) != 1 || p.calls[0].userID != tt.wantUserID || p.calls[0].clientID != tt.wantClientID {
				t.Errorf("calls = %+v, want user %q client %q", p.calls, tt.wantUserID, tt.wantClientID)
			}
		})
	}
}

func TestHandle_StoreErrorIsInternal(t *testing.T) {
	h, p := newTestHandler()
	p.err = errors.New("database is locked")

	resp := h.Handle(t.Context(), testSecret, []byte(`{"event":"client.disconnected","clientid":"c1","user_id":"usr-a"}`))
	if resp.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", resp.Status)
	}
}

// =============================================================================
// SysListener
// =============================================================================

type fakeSubscriber struct {
	topic   string
	handler mqtt.MessageHandler
	err     error
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	if f.err != nil {
		return f.err
	}
	f.topic, f.handler = topic, h
	return nil
}

func (f *fakeSubscriber) Unsubscribe(string) error {
	f.topic, f.handler = "", nil
	return nil
}

func TestSysListener(t *testing.T) {
	sub := &fakeSubscriber{}
	p := &fakePresence{}
	l := NewSysListener(sub, p)

	if err := l.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if sub.topic != "$SYS/brokers/+/clients/+/+" {
		t.Errorf("subscribed to %q", sub.topic)
	}

	msgs := []struct {
		topic   string
		payload string
	}{
		{"$SYS/brokers/emqx@node1/clients/c1/connected", `{"clientid":"c1","username":"usr-a","ipaddress":"10.0.0.9"}`},
		{"$SYS/brokers/emqx@node1/clients/notify-core/connected", `{"clientid":"notify-core","username":"backend"}`},
		{"$SYS/brokers/emqx@node1/clients/c1/subscribed", `{"clientid":"c1","username":"usr-a"}`},
		{"$SYS/brokers/emqx@node1/clients/c1/disconnected", `{"clientid":"c1","username":"usr-a","reason":"normal"}`},
	}
	for _, m := range msgs {
		if err := sub.handler(m.topic, []byte(m.payload)); err != nil {
			t.Errorf("handler(%s) error = %v", m.topic, err)
		}
	}

	want := []call{
		{"connected", "usr-a", "c1", "10.0.0.9"},
		{"disconnected", "usr-a", "c1", ""},
	}
	if len(p.calls) != len(want) {
		t.Fatalf("calls = %+v, want %+v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Errorf("call[%d] = %+v, want %+v", i, p.calls[i], want[i])
		}
	}

	if err := sub.handler("$SYS/brokers/n/clients/c1/connected", []byte(`{bad`)); err == nil {
		t.Error("malformed payload should return an error")
	}

	if err := l.Stop(); err != nil || sub.handler != nil {
		t.Errorf("Stop() = %v, handler still set: %v", err, sub.handler != nil)
	}
}

func TestSysListener_StartError(t *testing.T) {
	l := NewSysListener(&fakeSubscriber{err: mqtt.ErrNotConnected}, &fakePresence{})
	if err := l.Start(); !errors.Is(err, mqtt.ErrNotConnected) {
		t.Errorf("Start() error = %v, want ErrNotConnected", err)
	}
}

func TestSysEventName(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"$SYS/brokers/n1/clients/c1/connected", EventClientConnected, true},
		{"$SYS/brokers/n1/clients/c1/disconnected", EventClientDisconnected, true},
		{"$SYS/brokers/n1/clients/dev/with/slash/connected", EventClientConnected, true},
		{"$SYS/brokers/n1/clients/c1/subscribed", "", false},
		{"user/usr-a/connected", "", false},
	}
	for _, tt := range tests {
		got, ok := sysEventName(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("sysEventName(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}
