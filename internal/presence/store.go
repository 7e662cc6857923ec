package presence

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PrincipalResolver answers whether a user ID names a known principal.
// auth.Directory implements it.
type PrincipalResolver interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// Store is the authoritative record of device connectivity and the only
// writer of device rows. Connect and disconnect events may arrive
// duplicated or out of order; applying an event again converges to the
// same state.
//
// All public methods are thread-safe.
type Store struct {
	repo       Repository
	principals PrincipalResolver
	logger     Logger
	now        func() time.Time

	observersMu sync.RWMutex
	observers   []Observer
}

// NewStore creates a presence store over repo. Events for user IDs that
// principals does not know are ignored.
func NewStore(repo Repository, principals PrincipalResolver) *Store {
	return &Store{
		repo:       repo,
		principals: principals,
		logger:     noopLogger{},
		now:        time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Subscribe registers an observer for committed presence events.
func (s *Store) Subscribe(o Observer) {
	s.observersMu.Lock()
	s.observers = append(s.observers, o)
	s.observersMu.Unlock()
}

// RecordConnected applies a connect event: the device keyed by clientID is
// created or updated to online, owned by userID, with the given address.
//
// An unknown userID is a silent no-op so stale or replayed broker events
// never create orphan devices. An invalid or empty ip is stored as NULL.
func (s *Store) RecordConnected(ctx context.Context, userID, clientID, ip string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	ok, err := s.resolve(ctx, userID)
	if err != nil || !ok {
		return err
	}

	at := s.now()
	addr := NormalizeIP(ip)
	created, err := s.repo.MarkConnected(ctx, userID, clientID, addr, at)
	if err != nil {
		return fmt.Errorf("recording connect of %s: %w", clientID, err)
	}

	s.logger.Info("device connected", "user_id", userID, "client_id", clientID, "ip_address", ip, "new_device", created)

	event := Event{UserID: userID, ClientID: clientID, At: at}
	if addr != nil {
		event.IPAddress = *addr
	}
	event.Kind = EventConnected
	s.notify(event)
	if created {
		event.Kind = EventNewDeviceConnected
		s.notify(event)
	}
	return nil
}

// RecordDisconnected applies a disconnect event to the device matching
// both clientID and userID. No matching online device is a no-op; offline
// rows are never created here.
func (s *Store) RecordDisconnected(ctx context.Context, userID, clientID string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	ok, err := s.resolve(ctx, userID)
	if err != nil || !ok {
		return err
	}

	at := s.now()
	changed, err := s.repo.MarkDisconnected(ctx, userID, clientID, at)
	if err != nil {
		return fmt.Errorf("recording disconnect of %s: %w", clientID, err)
	}
	if !changed {
		s.logger.Debug("disconnect ignored, no online device", "user_id", userID, "client_id", clientID)
		return nil
	}

	s.logger.Info("device disconnected", "user_id", userID, "client_id", clientID)
	s.notify(Event{Kind: EventDisconnected, UserID: userID, ClientID: clientID, At: at})
	return nil
}

// Reconcile marks online devices that are absent from connected offline.
// connected is the broker's client ID list as fetched at snapshotAt;
// devices that connected at or after snapshotAt are left alone. It returns
// how many devices changed. Rows are never created.
func (s *Store) Reconcile(ctx context.Context, connected []string, snapshotAt time.Time) (int, error) {
	at := s.now()
	stale, err := s.repo.MarkOfflineExcept(ctx, connected, snapshotAt, at)
	if err != nil {
		return 0, fmt.Errorf("reconciling presence: %w", err)
	}

	for _, d := range stale {
		userID := ""
		if d.UserID != nil {
			userID = *d.UserID
		}
		s.notify(Event{Kind: EventDisconnected, UserID: userID, ClientID: d.ClientID, At: at})
	}
	if len(stale) > 0 {
		s.logger.Info("presence reconciled", "marked_offline", len(stale))
	}
	return len(stale), nil
}

// ListActive returns a snapshot of the online devices.
func (s *Store) ListActive(ctx context.Context) ([]Device, error) {
	return s.repo.ListActive(ctx)
}

// Get returns the device with the given client ID or ErrDeviceNotFound.
func (s *Store) Get(ctx context.Context, clientID string) (*Device, error) {
	return s.repo.GetByClientID(ctx, clientID)
}

// List returns every device.
func (s *Store) List(ctx context.Context) ([]Device, error) {
	return s.repo.List(ctx)
}

// ListByUser returns the devices owned by userID.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Device, error) {
	return s.repo.ListByUser(ctx, userID)
}

// ActiveUserIDs returns the distinct owners of online devices, in the
// order their first active device appears.
func (s *Store) ActiveUserIDs(ctx context.Context) ([]string, error) {
	devices, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(devices))
	ids := []string{}
	for _, d := range devices {
		if d.UserID == nil {
			continue
		}
		if _, ok := seen[*d.UserID]; ok {
			continue
		}
		seen[*d.UserID] = struct{}{}
		ids = append(ids, *d.UserID)
	}
	return ids, nil
}

// resolve reports whether userID is a known principal. A lookup failure
// is returned; an unknown principal is logged and reported as false.
func (s *Store) resolve(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	ok, err := s.principals.Exists(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("resolving user %s: %w", userID, err)
	}
	if !ok {
		s.logger.Debug("presence event for unknown user ignored", "user_id", userID)
	}
	return ok, nil
}

func (s *Store) notify(e Event) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, o := range s.observers {
		o.OnPresence(e)
	}
}

// NormalizeIP returns the canonical form of ip, or nil when it is empty or
// not an IP address.
func NormalizeIP(ip string) *string {
	if ip == "" {
		return nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil
	}
	s := parsed.String()
	return &s
}
