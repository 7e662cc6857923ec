package push

import (
	"context"
	"fmt"
)

// Logger defines the logging interface used by the Service.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Service sends notifications to all push registrations of a user and
// prunes tokens the push service rejects as unregistered.
type Service struct {
	repo   DeviceRepository
	sender Sender
	logger Logger
}

// NewService creates a push service. A nil sender selects NoopSender.
func NewService(repo DeviceRepository, sender Sender) *Service {
	if sender == nil {
		sender = NoopSender{}
	}
	return &Service{repo: repo, sender: sender, logger: noopLogger{}}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// NotifyUser sends n to every token registered to userID. A user without
// registrations is not an error. Partial delivery returns an error
// wrapping ErrSendFailed.
func (s *Service) NotifyUser(ctx context.Context, userID string, n Notification) error {
	tokens, err := s.repo.TokensForUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	res, sendErr := s.sender.Send(ctx, tokens, n)

	if len(res.Unregistered) > 0 {
		removed, err := s.repo.DeleteTokens(ctx, res.Unregistered)
		if err != nil {
			s.logger.Warn("removing unregistered push tokens failed", "user_id", userID, "error", err)
		} else {
			s.logger.Info("removed unregistered push tokens", "user_id", userID, "count", removed)
		}
	}

	if sendErr != nil {
		return sendErr
	}
	if res.Failure > 0 {
		return fmt.Errorf("%w: %d of %d tokens failed", ErrSendFailed, res.Failure, len(tokens))
	}
	return nil
}

// Register stores a registration for userID.
func (s *Service) Register(ctx context.Context, d *Device) error {
	return s.repo.Register(ctx, d)
}

// Unregister removes a registration owned by userID.
func (s *Service) Unregister(ctx context.Context, userID, token string) error {
	return s.repo.Unregister(ctx, userID, token)
}

// Devices lists the registrations of userID.
func (s *Service) Devices(ctx context.Context, userID string) ([]Device, error) {
	return s.repo.ListByUser(ctx, userID)
}
