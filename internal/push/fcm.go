package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/nerrad567/notify-core/internal/infrastructure/config"
)

// maxMulticastTokens is the FCM limit of tokens per multicast request.
const maxMulticastTokens = 500

// multicaster is the part of *messaging.Client the sender uses.
type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender delivers notifications through Firebase Cloud Messaging.
type FCMSender struct {
	client multicaster
}

// NewFCMSender initialises the Firebase app from a service account file.
func NewFCMSender(ctx context.Context, cfg config.PushConfig) (*FCMSender, error) {
	app, err := firebase.NewApp(ctx,
		&firebase.Config{ProjectID: cfg.ProjectID},
		option.WithCredentialsFile(cfg.CredentialsFile),
	)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating firebase messaging client: %w", err)
	}
	return &FCMSender{client: client}, nil
}

// Send implements Sender. Tokens are sent in batches of up to 500; a
// request-level failure aborts the remaining batches.
func (s *FCMSender) Send(ctx context.Context, tokens []string, n Notification) (Result, error) {
	var res Result
	for start := 0; start < len(tokens); start += maxMulticastTokens {
		end := min(start+maxMulticastTokens, len(tokens))
		batch := tokens[start:end]

		msg := buildMulticast(batch, n)
		resp, err := s.client.SendEachForMulticast(ctx, msg)
		if err != nil {
			res.Failure += len(tokens) - start
			return res, fmt.Errorf("%w: %w", ErrSendFailed, err)
		}

		res.Success += resp.SuccessCount
		res.Failure += resp.FailureCount
		for i, r := range resp.Responses {
			if r.Success || i >= len(batch) {
				continue
			}
			if messaging.IsUnregistered(r.Error) {
				res.Unregistered = append(res.Unregistered, batch[i])
			}
		}
	}
	return res, nil
}

// buildMulticast renders n for FCM. Data messages are sent with high
// priority and content-available so they wake backgrounded apps.
func buildMulticast(tokens []string, n Notification) *messaging.MulticastMessage {
	msg := &messaging.MulticastMessage{Tokens: tokens}

	if n.Data == nil {
		msg.Notification = &messaging.Notification{Title: n.Title, Body: n.Body}
		if n.MessageID != "" {
			msg.Data = map[string]string{"msg_id": n.MessageID}
		}
		return msg
	}

	data := make(map[string]string, len(n.Data)+3)
	for k, v := range n.Data {
		data[k] = v
	}
	data["msg_id"] = n.MessageID
	data["title"] = n.Title
	data["body"] = n.Body

	msg.Data = data
	msg.Android = &messaging.AndroidConfig{Priority: "high"}
	msg.APNS = &messaging.APNSConfig{
		Headers: map[string]string{"apns-priority": "10"},
		Payload: &messaging.APNSPayload{
			Aps: &messaging.Aps{ContentAvailable: true},
		},
	}
	return msg
}

// FlattenData converts a JSON payload into FCM's string map. Object members
// become entries; strings are kept as is and other values are re-encoded as
// JSON. A non-object payload is stored under the "data" key. Empty input
// returns nil.
func FlattenData(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return map[string]string{"data": string(raw)}
	}

	out := make(map[string]string, len(obj))
	for k, v := range obj {
		k = dataKey(k)
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(v)
	}
	return out
}

// reservedKeyPrefix is put in front of data keys FCM refuses, which would
// otherwise fail the whole multicast for the recipient.
const reservedKeyPrefix = "data_"

// dataKey returns k, prefixed when FCM reserves it: "from", "message_type"
// and anything starting with "google" or "gcm".
func dataKey(k string) string {
	lower := strings.ToLower(k)
	switch {
	case lower == "from", lower == "message_type",
		strings.HasPrefix(lower, "google"), strings.HasPrefix(lower, "gcm"):
		return reservedKeyPrefix + k
	default:
		return k
	}
}
