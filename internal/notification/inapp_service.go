package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// WebSocketBroadcaster defines the interface for WebSocket broadcasting
type WebSocketBroadcaster interface {
	BroadcastToRoom(room string, message []byte)
}

// InAppRepositoryInterface defines the interface for in-app notification repository
type InAppRepositoryInterface interface {
	Create(ctx context.Context, notif *InAppNotification) error
	GetByID(ctx context.Context, id uuid.UUID) (*InAppNotification, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*InAppNotification, error)
	ListUnread(ctx context.Context, userID string, limit, offset int) ([]*InAppNotification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	MarkAsRead(ctx context.Context, id uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID string) error
	Delete(ctx context.Context, id uuid.UUID) error
	BulkCreate(ctx context.Context, notifications []*InAppNotification) error
}

// InAppService handles in-app notification operations
type InAppService struct {
	repo InAppRepositoryInterface
	hub  WebSocketBroadcaster
}

// NewInAppService creates a new in-app notification service
func NewInAppService(repo InAppRepositoryInterface, hub WebSocketBroadcaster) *InAppService {
	return &InAppService{
		repo: repo,
		hub:  hub,
	}
}

// Create creates a new in-app notification and broadcasts it via WebSocket
func (s *InAppService) Create(ctx context.Context, notif *InAppNotification) error {
	// Create notification in database
	if err := s.repo.Create(ctx, notif); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	// Broadcast to user's WebSocket room
	s.broadcastNotification(notif)

	return nil
}

// GetByID retrieves a notification by ID
func (s *InAppService) GetByID(ctx context.Context, id uuid.UUID) (*InAppNotification, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByUser lists notifications for a user
func (s *InAppService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*InAppNotification, error) {
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

// ListUnread lists unread notifications for a user
func (s *InAppService) ListUnread(ctx context.Context, userID string, limit, offset int) ([]*InAppNotification, error) {
	return s.repo.ListUnread(ctx, userID, limit, offset)
}

// CountUnread counts unread notifications for a user
func (s *InAppService) CountUnread(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkAsRead marks a notification as read and broadcasts the update
func (s *InAppService) MarkAsRead(ctx context.Context, id uuid.UUID, userID string) error {
	if err := s.repo.MarkAsRead(ctx, id); err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}

	// Broadcast read status update
	s.broadcastReadUpdate(userID, id)

	return nil
}

// MarkAllAsRead marks all notifications as read for a user
func (s *InAppService) MarkAllAsRead(ctx context.Context, userID string) error {
	if err := s.repo.MarkAllAsRead(ctx, userID); err != nil {
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}

	// Broadcast bulk read update
	s.broadcastBulkReadUpdate(userID)

	return nil
}

// Delete deletes a notification
func (s *InAppService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// NotifyConnectionEvent creates an in-app notification for an auth
// broker connection lifecycle event (created, refreshed, failed).
func (s *InAppService) NotifyConnectionEvent(ctx context.Context, tenantID uuid.UUID, userID, provider, operation, errMessage string) error {
	var (
		title     string
		message   string
		notifType NotificationType
	)

	if errMessage != "" {
		title = "Integration Connection Failed"
		message = fmt.Sprintf("%s connection failed: %s", provider, errMessage)
		notifType = NotificationTypeError
	} else {
		title = "Integration Connected"
		message = fmt.Sprintf("%s connection %s", provider, operation)
		notifType = NotificationTypeSuccess
	}

	notif := &InAppNotification{
		TenantID: tenantID,
		UserID:   userID,
		Title:    title,
		Message:  message,
		Type:     notifType,
		Metadata: map[string]interface{}{
			"provider":   provider,
			"operation":  operation,
			"event_type": "auth_connection",
		},
	}

	return s.Create(ctx, notif)
}

// broadcastNotification sends a notification to the user via WebSocket
func (s *InAppService) broadcastNotification(notif *InAppNotification) {
	if s.hub == nil {
		return
	}

	// Build room name for user
	room := fmt.Sprintf("notifications:%s", notif.UserID)

	// Marshal notification to JSON
	data, err := json.Marshal(map[string]interface{}{
		"type":         "notification",
		"action":       "created",
		"notification": notif,
	})

	if err != nil {
		// Log error but don't fail the operation
		return
	}

	// Broadcast to room
	s.hub.BroadcastToRoom(room, data)
}

// broadcastReadUpdate broadcasts a read status update
func (s *InAppService) broadcastReadUpdate(userID string, notifID uuid.UUID) {
	if s.hub == nil {
		return
	}

	room := fmt.Sprintf("notifications:%s", userID)

	data, err := json.Marshal(map[string]interface{}{
		"type":            "notification",
		"action":          "read",
		"notification_id": notifID,
	})

	if err != nil {
		return
	}

	s.hub.BroadcastToRoom(room, data)
}

// broadcastBulkReadUpdate broadcasts a bulk read status update
func (s *InAppService) broadcastBulkReadUpdate(userID string) {
	if s.hub == nil {
		return
	}

	room := fmt.Sprintf("notifications:%s", userID)

	data, err := json.Marshal(map[string]interface{}{
		"type":   "notification",
		"action": "read_all",
	})

	if err != nil {
		return
	}

	s.hub.BroadcastToRoom(room, data)
}

// CreateBulk creates multiple notifications in bulk
func (s *InAppService) CreateBulk(ctx context.Context, notifications []*InAppNotification) error {
	if err := s.repo.BulkCreate(ctx, notifications); err != nil {
		return fmt.Errorf("failed to create bulk notifications: %w", err)
	}

	// Broadcast each notification
	for _, notif := range notifications {
		s.broadcastNotification(notif)
	}

	return nil
}
