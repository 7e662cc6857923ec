package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/notify-core/internal/auth"
	"github.com/nerrad567/notify-core/internal/infrastructure/mqtt"
)

// sysApplyTimeout bounds the store work for one $SYS announcement.
const sysApplyTimeout = 5 * time.Second

// Subscriber subscribes to broker topics. *mqtt.Client implements it.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// SysListener feeds the broker's $SYS client announcements into the
// Presence Store. It complements the webhook when the broker is configured
// to publish them, and applies the same backend filtering.
type SysListener struct {
	sub      Subscriber
	presence PresenceRecorder
	logger   Logger
	filter   string
}

// NewSysListener creates a listener. Call Start to subscribe.
func NewSysListener(sub Subscriber, p PresenceRecorder) *SysListener {
	return &SysListener{
		sub:      sub,
		presence: p,
		logger:   noopLogger{},
		filter:   mqtt.Topics{}.SysClientEvents(),
	}
}

// SetLogger sets the logger for the listener.
func (l *SysListener) SetLogger(logger Logger) {
	l.logger = logger
}

// Start subscribes to the client announcements. The subscription is
// restored by the broker client after a reconnect.
func (l *SysListener) Start() error {
	if err := l.sub.Subscribe(l.filter, 1, l.handle); err != nil {
		return fmt.Errorf("subscribing to %s: %w", l.filter, err)
	}
	return nil
}

// Stop removes the subscription.
func (l *SysListener) Stop() error {
	return l.sub.Unsubscribe(l.filter)
}

// sysPayload is the JSON body of a $SYS client announcement.
type sysPayload struct {
	ClientID  string `json:"clientid"`
	Username  string `json:"username"`
	IPAddress string `json:"ipaddress"`
}

func (l *SysListener) handle(topic string, payload []byte) error {
	name, ok := sysEventName(topic)
	if !ok {
		return nil
	}

	var p sysPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decoding %s: %w", topic, err)
	}
	if p.ClientID == "" || p.Username == "" || auth.IsBackendSubject(p.Username) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), sysApplyTimeout)
	defer cancel()

	switch name {
	case EventClientConnected:
		return l.presence.RecordConnected(ctx, p.Username, p.ClientID, p.IPAddress)
	default:
		return l.presence.RecordDisconnected(ctx, p.Username, p.ClientID)
	}
}

// sysEventName maps $SYS/brokers/{node}/clients/{clientid}/{event} to a
// lifecycle event name. Client IDs may contain slashes, so only the first
// and last levels are inspected.
func sysEventName(topic string) (string, bool) {
	if !strings.HasPrefix(topic, "$SYS/brokers/") || !strings.Contains(topic, "/clients/") {
		return "", false
	}
	switch topic[strings.LastIndex(topic, "/")+1:] {
	case "connected":
		return EventClientConnected, true
	case "disconnected":
		return EventClientDisconnected, true
	}
	return "", false
}
