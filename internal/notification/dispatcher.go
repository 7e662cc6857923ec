package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/notify-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/notify-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/notify-core/internal/push"
)

// defaultConcurrency bounds how many recipients are processed at once.
const defaultConcurrency = 8

// publishQoS is "at least once".
const publishQoS byte = 1

// pushTimeout bounds one recipient's push send.
const pushTimeout = 15 * time.Second

// Publisher publishes to the broker. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte) error
}

// PushNotifier sends a push to all registrations of a user.
// *push.Service implements it.
type PushNotifier interface {
	NotifyUser(ctx context.Context, userID string, n push.Notification) error
}

// Recipients resolves recipient IDs. *auth.Directory implements it.
type Recipients interface {
	Exists(ctx context.Context, userID string) (bool, error)
	AllUserIDs(ctx context.Context) ([]string, error)
}

// ActiveUsers lists owners of connected devices. *presence.Store implements it.
type ActiveUsers interface {
	ActiveUserIDs(ctx context.Context) ([]string, error)
}

// Metrics records dispatch outcomes. *influxdb.Recorder implements it and
// is safe to pass as nil.
type Metrics interface {
	WriteDispatch(stats influxdb.DispatchStats)
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher turns one notification into per-recipient deliveries on the
// MQTT and push channels.
//
// Recipients are independent: a failed publish or push for one recipient
// is logged and never affects another, and never removes the message or
// the recipient's delivery record.
type Dispatcher struct {
	repo       Repository
	publisher  Publisher
	pusher     PushNotifier
	recipients Recipients
	active     ActiveUsers
	metrics    Metrics
	logger     Logger

	concurrency int
	topics      mqtt.Topics
}

// NewDispatcher creates a dispatcher. publisher and pusher may be nil, in
// which case that channel is skipped.
func NewDispatcher(repo Repository, publisher Publisher, pusher PushNotifier, recipients Recipients) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		publisher:   publisher,
		pusher:      pusher,
		recipients:  recipients,
		logger:      noopLogger{},
		concurrency: defaultConcurrency,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) { d.logger = logger }

// SetMetrics sets the dispatch metrics sink.
func (d *Dispatcher) SetMetrics(m Metrics) { d.metrics = m }

// SetActiveUsers enables SendRequest.ActiveOnly.
func (d *Dispatcher) SetActiveUsers(a ActiveUsers) { d.active = a }

// SetConcurrency sets how many recipients are processed in parallel.
func (d *Dispatcher) SetConcurrency(n int) {
	if n > 0 {
		d.concurrency = n
	}
}

// Send stores the message and fans it out.
//
// Parameters:
//   - ctx: Bounds recipient resolution and message creation. Once the
//     message exists the fan-out runs to completion even if ctx is
//     cancelled.
//   - req: Message content and recipient selection
//
// Returns:
//   - int: Number of recipients attempted
//   - error: ErrEmptyMessage or ErrInvalidData before any side effect;
//     otherwise storage errors. Delivery record failures are joined and
//     returned after every recipient was attempted.
func (d *Dispatcher) Send(ctx context.Context, req SendRequest) (int, error) {
	if err := validate(req); err != nil {
		return 0, err
	}
	started := time.Now()

	recipients, err := d.resolveRecipients(ctx, req)
	if err != nil {
		return 0, err
	}

	msg := &Message{Title: req.Title, Body: req.Body}
	if hasData(req.Data) {
		msg.Data = req.Data
	}
	if req.Sender != "" {
		sender := req.Sender
		msg.CreatedBy = &sender
	}
	if err := d.repo.CreateMessage(ctx, msg); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(mqttPayload{MsgID: msg.ID, Title: msg.Title, Body: msg.Body})
	if err != nil {
		return 0, fmt.Errorf("encoding mqtt payload: %w", err)
	}
	pushMsg := push.Notification{
		MessageID: msg.ID,
		Title:     msg.Title,
		Body:      msg.Body,
		Data:      push.FlattenData(msg.Data),
	}

	work := context.WithoutCancel(ctx)

	var (
		errMu           sync.Mutex
		deliveryErrs    []error
		publishFailures atomic.Int32
		pushFailures    atomic.Int32
	)

	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for _, userID := range recipients {
		g.Go(func() error {
			if _, err := d.repo.CreateDelivery(work, msg.ID, userID); err != nil {
				d.logger.Error("delivery record failed", "message_id", msg.ID, "user_id", userID, "error", err)
				errMu.Lock()
				deliveryErrs = append(deliveryErrs, err)
				errMu.Unlock()
			}

			if d.publisher != nil {
				if err := d.publisher.Publish(d.topics.UserTopic(userID), payload, publishQoS); err != nil {
					publishFailures.Add(1)
					d.logger.Warn("mqtt publish failed", "message_id", msg.ID, "user_id", userID, "error", err)
				}
			}

			if d.pusher != nil {
				pushCtx, cancel := context.WithTimeout(work, pushTimeout)
				err := d.pusher.NotifyUser(pushCtx, userID, pushMsg)
				cancel()
				if err != nil {
					pushFailures.Add(1)
					d.logger.Warn("push send failed", "message_id", msg.ID, "user_id", userID, "error", err)
				}
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	if d.metrics != nil {
		d.metrics.WriteDispatch(influxdb.DispatchStats{
			MessageID:       msg.ID,
			Recipients:      len(recipients),
			PublishFailures: int(publishFailures.Load()),
			PushFailures:    int(pushFailures.Load()),
			Duration:        time.Since(started),
		})
	}

	d.logger.Info("notification dispatched",
		"message_id", msg.ID,
		"recipients", len(recipients),
		"publish_failures", publishFailures.Load(),
		"push_failures", pushFailures.Load(),
	)

	if len(deliveryErrs) > 0 {
		return len(recipients), fmt.Errorf("recording deliveries: %w", errors.Join(deliveryErrs...))
	}
	return len(recipients), nil
}

// Inbox returns the newest messages delivered to userID.
func (d *Dispatcher) Inbox(ctx context.Context, userID string, limit int) ([]InboxItem, error) {
	return d.repo.ListForUser(ctx, userID, limit)
}

func validate(req SendRequest) error {
	if len(req.Data) > 0 && !json.Valid(req.Data) {
		return ErrInvalidData
	}
	if req.Title == "" && req.Body == "" && !hasData(req.Data) {
		return ErrEmptyMessage
	}
	return nil
}

// resolveRecipients returns the deduplicated recipient IDs in request order.
func (d *Dispatcher) resolveRecipients(ctx context.Context, req SendRequest) ([]string, error) {
	if len(req.UserIDs) == 0 {
		if req.ActiveOnly && d.active != nil {
			ids, err := d.active.ActiveUserIDs(ctx)
			if err != nil {
				return nil, fmt.Errorf("listing active users: %w", err)
			}
			return ids, nil
		}
		ids, err := d.recipients.AllUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing users: %w", err)
		}
		return ids, nil
	}

	seen := make(map[string]struct{}, len(req.UserIDs))
	ids := make([]string, 0, len(req.UserIDs))
	for _, id := range req.UserIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		ok, err := d.recipients.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolving recipient %s: %w", id, err)
		}
		if !ok {
			d.logger.Warn("unknown recipient skipped", "user_id", id)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
