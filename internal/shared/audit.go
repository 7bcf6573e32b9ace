package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/agrohub/agrohub/internal/platform/db"
)

// Audit actions recorded by the platform.
const (
	AuditCreateSuperuser = "users.create_superuser"
	AuditLogin           = "auth.login"
	AuditAnnouncement    = "admin.announcement"
)

// ErrAuditIncomplete is returned for entries missing action, entity or entity id.
var ErrAuditIncomplete = errors.New("audit: action, entity and entity id are required")

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditRecorder is satisfied by AuditLogger and test doubles.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger appends rows to audit_logs.
type AuditLogger struct {
	db db.Execer
}

// NewAuditLogger returns an AuditLogger writing through conn.
func NewAuditLogger(conn db.Execer) *AuditLogger {
	return &AuditLogger{db: conn}
}

const insertAuditLog = `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`

// Record persists the entry. A zero ActorID stores NULL (system actions) and a
// zero At lets the database stamp the row.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit: logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return ErrAuditIncomplete
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	var at *time.Time
	if !log.At.IsZero() {
		utc := log.At.UTC()
		at = &utc
	}
	var actor *int64
	if log.ActorID > 0 {
		actor = &log.ActorID
	}
	if _, err := l.db.Exec(ctx, insertAuditLog, actor, log.Action, log.Entity, log.EntityID, metaJSON, at); err != nil {
		return fmt.Errorf("audit: insert %s: %w", log.Action, err)
	}
	return nil
}

// RequestMeta returns audit metadata describing the client behind r.
func RequestMeta(r *http.Request) map[string]any {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	meta := map[string]any{"ip": ip}
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	return meta
}
