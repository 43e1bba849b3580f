package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Config holds notification service configuration
type Config struct {
	// Enabled channels
	EnableEmail bool
	EnableSlack bool
	EnableInApp bool

	// Email configuration
	Email EmailConfig

	// Slack configuration
	Slack SlackConfig

	// Default channels for notifications
	DefaultChannels []string // email, slack, inapp
}

// Service implements notification delivery across multiple channels
type Service struct {
	logger        *slog.Logger
	config        Config
	emailSender   *EmailSender
	slackNotifier *SlackNotifier
	inAppService  *InAppService
}

// NewService creates a new notification service
func NewService(logger *slog.Logger, config Config, inAppService *InAppService) (*Service, error) {
	service := &Service{
		logger:       logger,
		config:       config,
		inAppService: inAppService,
	}

	// Initialize email sender if enabled
	if config.EnableEmail {
		emailSender, err := NewEmailSender(config.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize email sender: %w", err)
		}
		service.emailSender = emailSender
	}

	// Initialize Slack notifier if enabled
	if config.EnableSlack {
		slackNotifier, err := NewSlackNotifier(config.Slack)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Slack notifier: %w", err)
		}
		service.slackNotifier = slackNotifier
	}

	return service, nil
}

// NotifyConnectionEstablished sends a notification when an integration
// connection is created or a refresh replaces its credentials.
func (s *Service) NotifyConnectionEstablished(ctx context.Context, tenantID uuid.UUID, userID, provider, providerConfigKey, connectionID, operation string) error {
	s.logger.Info("connection established notification",
		"provider", provider,
		"provider_config_key", providerConfigKey,
		"connection_id", connectionID,
		"operation", operation,
	)

	var wg sync.WaitGroup
	errors := make(chan error, 2)

	if s.config.EnableInApp && s.inAppService != nil && userID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.inAppService.NotifyConnectionEvent(ctx, tenantID, userID, provider, operation, ""); err != nil {
				s.logger.Error("failed to send in-app notification", "error", err)
				errors <- err
			}
		}()
	}

	if s.config.EnableSlack && s.slackNotifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := BuildConnectionEstablishedMessage(provider, providerConfigKey, connectionID, operation)

			if err := s.slackNotifier.Send(ctx, msg); err != nil {
				s.logger.Error("failed to send Slack notification", "error", err)
				errors <- err
			}
		}()
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		s.logger.Warn("notification delivery failed", "error", err)
	}

	return nil
}

// NotifyConnectionFailed sends a notification when a connection attempt
// fails verification or token exchange.
func (s *Service) NotifyConnectionFailed(ctx context.Context, tenantID uuid.UUID, userID, provider, providerConfigKey, connectionID, errCode, errMessage string) error {
	s.logger.Warn("connection failed notification",
		"provider", provider,
		"provider_config_key", providerConfigKey,
		"connection_id", connectionID,
		"error_code", errCode,
	)

	var wg sync.WaitGroup
	errors := make(chan error, 3)

	if s.config.EnableInApp && s.inAppService != nil && userID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.inAppService.NotifyConnectionEvent(ctx, tenantID, userID, provider, "creation", errMessage); err != nil {
				s.logger.Error("failed to send in-app notification", "error", err)
				errors <- err
			}
		}()
	}

	if s.config.EnableEmail && s.emailSender != nil && userID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			email := Email{
				To:      []string{userID},
				Subject: fmt.Sprintf("Connection failed: %s", provider),
				HTMLBody: fmt.Sprintf(`
					<h2>Connection Failed</h2>
					<p><strong>Provider:</strong> %s</p>
					<p><strong>Connection:</strong> %s</p>
					<p><strong>Error:</strong> %s</p>
				`, provider, connectionID, errMessage),
				TextBody: fmt.Sprintf("Connection Failed: %s\nConnection: %s\nError: %s", provider, connectionID, errMessage),
			}

			if err := s.emailSender.Send(ctx, email); err != nil {
				s.logger.Error("failed to send email notification", "error", err)
				errors <- err
			}
		}()
	}

	if s.config.EnableSlack && s.slackNotifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := BuildConnectionFailedMessage(provider, providerConfigKey, connectionID, errCode, errMessage)

			if err := s.slackNotifier.Send(ctx, msg); err != nil {
				s.logger.Error("failed to send Slack notification", "error", err)
				errors <- err
			}
		}()
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		s.logger.Warn("notification delivery failed", "error", err)
	}

	return nil
}

// NotifyAuthFailurePersistent sends a notification when a connection's
// refresh has failed enough times in a row to be treated as persistent
// rather than a transient upstream blip.
func (s *Service) NotifyAuthFailurePersistent(ctx context.Context, tenantID uuid.UUID, userID, provider, providerConfigKey, connectionID, errCode string) error {
	s.logger.Warn("persistent auth failure notification",
		"provider", provider,
		"provider_config_key", providerConfigKey,
		"connection_id", connectionID,
		"error_code", errCode,
	)

	var wg sync.WaitGroup
	errors := make(chan error, 2)

	if s.config.EnableInApp && s.inAppService != nil && userID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.inAppService.NotifyConnectionEvent(ctx, tenantID, userID, provider, "refresh", "persistent auth failure: "+errCode); err != nil {
				s.logger.Error("failed to send in-app notification", "error", err)
				errors <- err
			}
		}()
	}

	if s.config.EnableSlack && s.slackNotifier != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := BuildAuthFailurePersistentMessage(provider, providerConfigKey, connectionID, errCode)

			if err := s.slackNotifier.Send(ctx, msg); err != nil {
				s.logger.Error("failed to send Slack notification", "error", err)
				errors <- err
			}
		}()
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		s.logger.Warn("notification delivery failed", "error", err)
	}

	return nil
}

// SendEmail sends an email notification
func (s *Service) SendEmail(ctx context.Context, to []string, subject string, htmlBody, textBody string) error {
	if !s.config.EnableEmail || s.emailSender == nil {
		s.logger.Debug("email disabled, skipping")
		return nil
	}

	email := Email{
		To:       to,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	}

	return s.emailSender.Send(ctx, email)
}

// SendSlackMessage sends a Slack message
func (s *Service) SendSlackMessage(ctx context.Context, message SlackMessage) error {
	if !s.config.EnableSlack || s.slackNotifier == nil {
		s.logger.Debug("Slack disabled, skipping")
		return nil
	}

	return s.slackNotifier.Send(ctx, message)
}

// CreateInAppNotification creates an in-app notification
func (s *Service) CreateInAppNotification(ctx context.Context, tenantID uuid.UUID, userID, title, message string, notifType NotificationType) error {
	if !s.config.EnableInApp || s.inAppService == nil {
		s.logger.Debug("in-app notifications disabled, skipping")
		return nil
	}

	notif := &InAppNotification{
		TenantID: tenantID,
		UserID:   userID,
		Title:    title,
		Message:  message,
		Type:     notifType,
	}

	return s.inAppService.Create(ctx, notif)
}

// NoOpNotificationService is a notification service that does nothing
type NoOpNotificationService struct{}

func (n *NoOpNotificationService) NotifyConnectionEstablished(ctx context.Context, tenantID uuid.UUID, userID, provider, providerConfigKey, connectionID, operation string) error {
	return nil
}

func (n *NoOpNotificationService) NotifyConnectionFailed(ctx context.Context, tenantID uuid.UUID, userID, provider, providerConfigKey, connectionID, errCode, errMessage string) error {
	return nil
}

func (n *NoOpNotificationService) NotifyAuthFailurePersistent(ctx context.Context, tenantID uuid.UUID, userID, provider, providerConfigKey, connectionID, errCode string) error {
	return nil
}

// NewNoOpService returns a no-op notification service for testing
func NewNoOpService() *NoOpNotificationService {
	return &NoOpNotificationService{}
}
