package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/agrohub/agrohub/internal/realtime"
)

// Queue names. Realtime broadcasts are user-visible and get the largest
// share of workers; maintenance runs when nothing else is waiting.
const (
	QueueRealtime    = "realtime"
	QueueDefault     = "default"
	QueueMaintenance = "maintenance"
)

// Queues maps every queue to its asynq priority weight.
var Queues = map[string]int{
	QueueRealtime:    6,
	QueueDefault:     3,
	QueueMaintenance: 1,
}

// QueueNames lists the queues in priority order.
func QueueNames() []string {
	return []string{QueueRealtime, QueueDefault, QueueMaintenance}
}

const (
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeBroadcast pushes a message to a realtime group.
	TaskTypeBroadcast = "realtime:broadcast"
	// TaskTypePurgeSessions removes expired login session rows.
	TaskTypePurgeSessions = "maintenance:purge_sessions"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// MailHandler processes TaskTypeSendEmail tasks. Delivery is logged only
// until an SMTP relay is configured.
type MailHandler struct {
	Logger *slog.Logger
}

// Handle implements asynq.HandlerFunc.
func (h MailHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.To == "" {
		return fmt.Errorf("jobs: bad mail payload: %w", asynq.SkipRetry)
	}
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("send email", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	return nil
}

// BroadcastPayload is a realtime message queued for delivery.
type BroadcastPayload struct {
	Group   string `json:"group"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Sender  string `json:"sender,omitempty"`
}

// NewBroadcastTask constructs a realtime broadcast task.
func NewBroadcastTask(payload BroadcastPayload) (*asynq.Task, error) {
	payload.Group = strings.TrimSpace(payload.Group)
	if payload.Group == "" {
		return nil, fmt.Errorf("jobs: broadcast group required")
	}
	if payload.Type == "" {
		payload.Type = realtime.TypeNotification
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBroadcast, data,
		asynq.Queue(QueueRealtime),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
	), nil
}

// Publisher is satisfied by realtime.RedisLayer and realtime.Hub.
type Publisher interface {
	Publish(ctx context.Context, group string, msg realtime.Message) error
}

// BroadcastHandler delivers TaskTypeBroadcast tasks through the realtime layer.
type BroadcastHandler struct {
	Publisher Publisher
	Logger    *slog.Logger
}

// Handle implements asynq.HandlerFunc.
func (h BroadcastHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload BroadcastPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.Group == "" {
		return fmt.Errorf("jobs: bad broadcast payload: %w", asynq.SkipRetry)
	}
	msg := realtime.Message{
		Type:    payload.Type,
		Message: payload.Message,
		Sender:  payload.Sender,
		SentAt:  time.Now().UTC(),
	}
	if err := h.Publisher.Publish(ctx, payload.Group, msg); err != nil {
		return fmt.Errorf("jobs: broadcast %s: %w", payload.Group, err)
	}
	if h.Logger != nil {
		h.Logger.Info("broadcast delivered", slog.String("group", payload.Group), slog.String("type", payload.Type))
	}
	return nil
}

// SessionPurger deletes expired session rows and reports how many went.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// PurgeSessionsHandler runs TaskTypePurgeSessions.
type PurgeSessionsHandler struct {
	Purger SessionPurger
	Logger *slog.Logger
}

// NewPurgeSessionsTask constructs the scheduled purge task.
func NewPurgeSessionsTask() *asynq.Task {
	return asynq.NewTask(TaskTypePurgeSessions, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(3))
}

// Handle implements asynq.HandlerFunc.
func (h PurgeSessionsHandler) Handle(ctx context.Context, _ *asynq.Task) error {
	n, err := h.Purger.PurgeExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("jobs: purge sessions: %w", err)
	}
	if h.Logger != nil {
		h.Logger.Info("expired sessions purged", slog.Int64("rows", n))
	}
	return nil
}
