package auth

import (
	"crypto/subtle"

	"github.com/nerrad567/notify-core/internal/infrastructure/mqtt"
)

// Decision is the outcome of an authorisation check.
type Decision string

const (
	Allow Decision = "allow"
	Deny  Decision = "deny"
)

// ACLRequest is a single (principal, topic, action) question asked by the
// broker's HTTP authorisation hook.
type ACLRequest struct {
	Username string `json:"username"`
	ClientID string `json:"clientid"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
}

// AccessControl decides broker topic access and authenticates broker
// callbacks. It holds no mutable state and is safe for concurrent use.
type AccessControl struct {
	webhookSecret []byte
	adminSubject  string
}

// NewAccessControl creates an evaluator. An empty webhookSecret makes every
// webhook call fail authentication.
func NewAccessControl(webhookSecret, adminSubject string) *AccessControl {
	return &AccessControl{webhookSecret: []byte(webhookSecret), adminSubject: adminSubject}
}

// VerifyWebhookSecret compares the presented header against the configured
// secret in constant time. A missing secret on either side is rejected.
func (a *AccessControl) VerifyWebhookSecret(header string) error {
	if len(a.webhookSecret) == 0 || header == "" {
		return ErrForbidden
	}
	if subtle.ConstantTimeCompare(a.webhookSecret, []byte(header)) != 1 {
		return ErrForbidden
	}
	return nil
}

// IsBackendSubject reports whether subject is the service's own principal.
func IsBackendSubject(subject string) bool {
	return subject == BackendSubject
}

// CheckTopic evaluates req in order: privileged subjects are allowed,
// subscriptions inside the caller's own namespace are allowed, everything
// else is denied.
func (a *AccessControl) CheckTopic(req ACLRequest) Decision {
	if req.Username == "" {
		return Deny
	}
	if IsBackendSubject(req.Username) || (a.adminSubject != "" && req.Username == a.adminSubject) {
		return Allow
	}
	if req.Action == ActionSubscribe && mqtt.InUserNamespace(req.Username, req.Topic) {
		return Allow
	}
	return Deny
}
