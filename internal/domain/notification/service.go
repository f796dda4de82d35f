package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/events"
	"github.com/healthportal/portal/internal/platform/websocket"
)

// EventCreated is the type of both the realtime push and the bus event sent
// after a notification is stored.
const EventCreated = "notification.created"

// Realtime pushes events to connected clients. *websocket.Hub implements it.
type Realtime interface {
	Publish(ctx context.Context, event websocket.Event) error
}

type Service struct {
	repo      Repository
	realtime  Realtime
	publisher events.Publisher
	templates *TemplateEngine
	logger    zerolog.Logger
}

func NewService(repo Repository, realtime Realtime, publisher events.Publisher, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		realtime:  realtime,
		publisher: publisher,
		templates: NewTemplateEngine(),
		logger:    logger,
	}
}

// Notify validates and stores n, then pushes it to the recipient's realtime
// topic and publishes a bus event. Delivery after the write is best-effort:
// failures are logged and do not fail the call. An empty title or message is
// rendered from the type's template.
func (s *Service) Notify(ctx context.Context, n *Notification) error {
	if n.UserID.IsZero() {
		return apperr.Required("user_id")
	}
	if !n.Type.Valid() {
		return apperr.Invalid("type", fmt.Sprintf("unknown notification type %q", n.Type))
	}
	if strings.TrimSpace(n.Title) == "" || strings.TrimSpace(n.Message) == "" {
		title, message, err := s.templates.Render(n.Type, n.Metadata)
		if err != nil {
			return apperr.Invalid("type", err.Error())
		}
		if strings.TrimSpace(n.Title) == "" {
			n.Title = title
		}
		if strings.TrimSpace(n.Message) == "" {
			n.Message = message
		}
	}
	n.Read = false

	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	s.deliver(ctx, n)
	return nil
}

func (s *Service) deliver(ctx context.Context, n *Notification) {
	log := s.logger.With().Str("notification_id", n.ID.String()).Str("user_id", n.UserID.String()).Logger()

	if s.realtime != nil {
		data, err := json.Marshal(n)
		if err != nil {
			log.Warn().Err(err).Msg("encode realtime notification")
		} else if err := s.realtime.Publish(ctx, websocket.Event{
			Type:  EventCreated,
			Topic: websocket.NotificationsTopic(n.UserID.String()),
			Data:  data,
		}); err != nil {
			log.Warn().Err(err).Msg("realtime push failed")
		}
	}

	if s.publisher != nil {
		event := events.NewEvent(EventCreated, map[string]interface{}{
			"notification_id": n.ID.String(),
			"user_id":         n.UserID.String(),
			"type":            string(n.Type),
			"title":           n.Title,
		})
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Msg("publish notification event failed")
		}
	}
}

func (s *Service) ListForUser(ctx context.Context, userID identity.AccountID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	return s.repo.ListByUser(ctx, userID, unreadOnly, limit, offset)
}

func (s *Service) UnreadCount(ctx context.Context, userID identity.AccountID) (int, error) {
	return s.repo.CountUnread(ctx, userID)
}

// MarkRead flags one notification as read. Only its recipient may do so.
func (s *Service) MarkRead(ctx context.Context, userID identity.AccountID, id uuid.UUID) error {
	n, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if n.UserID != userID {
		return apperr.ErrForbidden
	}
	if n.Read {
		return nil
	}
	return s.repo.MarkRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context, userID identity.AccountID) (int, error) {
	return s.repo.MarkAllRead(ctx, userID)
}
