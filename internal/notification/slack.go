package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SlackConfig holds Slack notification configuration
type SlackConfig struct {
	WebhookURL string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// SlackMessage represents a Slack message
type SlackMessage struct {
	Text    string       `json:"text"`
	Blocks  []SlackBlock `json:"blocks,omitempty"`
	Channel string       `json:"channel,omitempty"`
}

// SlackBlock represents a Slack Block Kit block
type SlackBlock struct {
	Type      string         `json:"type"`
	Text      *SlackText     `json:"text,omitempty"`
	Fields    []SlackText    `json:"fields,omitempty"`
	Accessory *SlackElement  `json:"accessory,omitempty"`
	Elements  []SlackElement `json:"elements,omitempty"`
}

// SlackText represents text in a Slack block
type SlackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// SlackElement represents an element in a Slack block
type SlackElement struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	URL   string `json:"url,omitempty"`
	Value string `json:"value,omitempty"`
}

// slackWebhookPayload is the internal payload structure
type slackWebhookPayload struct {
	Text    string       `json:"text"`
	Blocks  []SlackBlock `json:"blocks,omitempty"`
	Channel string       `json:"channel,omitempty"`
}

// SlackNotifier sends Slack notifications
type SlackNotifier struct {
	config     SlackConfig
	httpClient *http.Client
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(cfg SlackConfig) (*SlackNotifier, error) {
	if err := validateSlackConfig(cfg); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &SlackNotifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Send sends a Slack notification
func (s *SlackNotifier) Send(ctx context.Context, msg SlackMessage) error {
	// Check context
	if err := ctx.Err(); err != nil {
		return err
	}

	// Validate message
	if err := validateSlackMessage(msg); err != nil {
		return err
	}

	maxRetries := s.config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	retryDelay := s.config.RetryDelay
	if retryDelay == 0 {
		retryDelay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Check context
		if err := ctx.Err(); err != nil {
			return err
		}

		err := s.sendOnce(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err

		// Don't retry on last attempt
		if attempt == maxRetries {
			break
		}

		// Check if error is retryable
		if !isSlackRetryableError(err) {
			return err
		}

		// Wait before retry
		select {
		case <-time.After(retryDelay):
			// Continue to next attempt
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed to send Slack notification after %d attempts: %w", maxRetries+1, lastErr)
}

// sendOnce performs a single send attempt
func (s *SlackNotifier) sendOnce(ctx context.Context, msg SlackMessage) error {
	// Build payload
	payload := slackWebhookPayload{
		Text:    msg.Text,
		Blocks:  msg.Blocks,
		Channel: msg.Channel,
	}

	// Marshal to JSON
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// Create request
	req, err := http.NewRequestWithContext(ctx, "POST", s.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	// Send request
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Handle rate limiting
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 1 // Default to 1 second
		if retryHeader := resp.Header.Get("Retry-After"); retryHeader != "" {
			if seconds, err := strconv.Atoi(retryHeader); err == nil {
				retryAfter = seconds
			}
		}

		time.Sleep(time.Duration(retryAfter) * time.Second)
		return fmt.Errorf("rate limited, retry after %d seconds", retryAfter)
	}

	// Check response status
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}
// BuildConnectionEstablishedMessage builds a Slack message for a
// newly connected (or refreshed) integration.
func BuildConnectionEstablishedMessage(provider, providerConfigKey, connectionID, operation string) SlackMessage {
	return SlackMessage{
		Text: fmt.Sprintf("Connection %s: %s (%s)", operation, provider, connectionID),
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackText{
					Type: "plain_text",
					Text: "✅ Integration Connected",
				},
			},
			{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Provider:* %s\n*Provider config:* %s\n*Connection:* %s\n*Operation:* %s", provider, providerConfigKey, connectionID, operation),
				},
			},
		},
	}
}

// BuildConnectionFailedMessage builds a Slack message for a connection
// attempt that failed verification or token exchange.
func BuildConnectionFailedMessage(provider, providerConfigKey, connectionID, errCode, errMessage string) SlackMessage {
	return SlackMessage{
		Text: fmt.Sprintf("❌ Connection failed: %s (%s)", provider, connectionID),
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackText{
					Type: "plain_text",
					Text: "❌ Connection Failed",
				},
			},
			{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Provider:* %s\n*Provider config:* %s\n*Connection:* %s\n*Code:* %s", provider, providerConfigKey, connectionID, errCode),
				},
			},
			{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Error:* ```%s```", errMessage),
				},
			},
		},
	}
}

// BuildAuthFailurePersistentMessage builds a Slack message raised when
// a connection's refresh has failed enough times in a row to be
// treated as persistent rather than a transient upstream blip.
func BuildAuthFailurePersistentMessage(provider, providerConfigKey, connectionID, errCode string) SlackMessage {
	return SlackMessage{
		Text: fmt.Sprintf("⚠️ Persistent auth failure: %s (%s)", provider, connectionID),
		Blocks: []SlackBlock{
			{
				Type: "header",
				Text: &SlackText{
					Type: "plain_text",
					Text: "⚠️ Persistent Auth Failure",
				},
			},
			{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("*Provider:* %s\n*Provider config:* %s\n*Connection:* %s\n*Code:* %s", provider, providerConfigKey, connectionID, errCode),
				},
			},
			{
				Type: "context",
				Elements: []SlackElement{
					{
						Type: "mrkdwn",
						Text: "The connection needs to be reauthorized; it will keep failing refresh attempts until then.",
					},
				},
			},
		},
	}
}

// validateSlackConfig validates Slack configuration
func validateSlackConfig(cfg SlackConfig) error {
	if cfg.WebhookURL == "" {
		return fmt.Errorf("webhook URL is required")
	}

	if !strings.HasPrefix(cfg.WebhookURL, "http://") && !strings.HasPrefix(cfg.WebhookURL, "https://") {
		return fmt.Errorf("invalid webhook URL: must start with http:// or https://")
	}

	return nil
}

// validateSlackMessage validates a Slack message
func validateSlackMessage(msg SlackMessage) error {
	if msg.Text == "" && len(msg.Blocks) == 0 {
		return fmt.Errorf("message must have text or blocks")
	}

	return nil
}

// isSlackRetryableError checks if an error is retryable
func isSlackRetryableError(err error) bool {
	errStr := err.Error()

	// Network errors
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "rate limited") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return true
	}

	return false
}
