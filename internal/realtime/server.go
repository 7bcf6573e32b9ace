package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/agrohub/agrohub/internal/access"
	"github.com/agrohub/agrohub/internal/shared"
)

// ConnectionObserver is notified as sockets open and close.
type ConnectionObserver interface {
	WSConnected(endpoint string)
	WSDisconnected(endpoint string)
}

// Server upgrades requests and runs the consumers.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	errors   Forbidder
	observer ConnectionObserver
	logger   *slog.Logger
}

// NewServer builds a Server. errs and observer may be nil.
func NewServer(hub *Hub, errs Forbidder, observer ConnectionObserver, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is checked by OriginValidator before we get here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		errors:   errs,
		observer: observer,
		logger:   logger,
	}
}

// MountRoutes registers the consumers.
func (s *Server) MountRoutes(r chi.Router) {
	r.Get("/ws/notifications/", s.notifications)
	r.Get("/ws/farms/{farmID:[0-9]+}/", s.farm)
}

// Sessions loads the request session without committing it; handshakes
// never set cookies.
func Sessions(manager *shared.SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := manager.Load(r.Context(), r)
			if err != nil {
				if logger != nil {
					logger.Warn("websocket session load", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithSession(r.Context(), sess)))
		})
	}
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.authorize(w, r)
	if !ok {
		return
	}
	client, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	groups := []string{UserGroup(principal.ID), GroupAnnouncements}
	s.serve(client, "notifications", groups, func(msg Message) {
		switch msg.Type {
		case TypePing:
			client.SendJSON(Message{Type: TypePong, SentAt: time.Now().UTC()})
		default:
			client.SendJSON(Message{Type: TypeError, Message: "unsupported message type", SentAt: time.Now().UTC()})
		}
	})
}

func (s *Server) farm(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.authorize(w, r)
	if !ok {
		return
	}
	group := FarmGroup(chi.URLParam(r, "farmID"))
	client, ok := s.upgrade(w, r)
	if !ok {
		return
	}
	s.serve(client, "farm", []string{group}, func(msg Message) {
		switch msg.Type {
		case TypePing:
			client.SendJSON(Message{Type: TypePong, SentAt: time.Now().UTC()})
		case TypeUpdate:
			out := Message{Type: TypeUpdate, Sender: principal.Username, Message: msg.Message, Payload: msg.Payload}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if err := s.hub.Publish(ctx, group, out); err != nil {
				s.logger.Error("realtime publish", slog.String("group", group), slog.Any("error", err))
				client.SendJSON(Message{Type: TypeError, Message: "update not delivered", SentAt: time.Now().UTC()})
			}
		default:
			client.SendJSON(Message{Type: TypeError, Message: "unsupported message type", SentAt: time.Now().UTC()})
		}
	})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) (access.Principal, bool) {
	principal := access.PrincipalFromContext(r.Context())
	if principal.Authenticated() {
		return principal, true
	}
	if s.errors != nil {
		s.errors.Forbidden(w, r, "Authentication required.")
	} else {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	}
	return access.Principal{}, false
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) (*Client, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Warn("websocket upgrade failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		return nil, false
	}
	return NewClient(conn, s.logger), true
}

func (s *Server) serve(client *Client, endpoint string, groups []string, onMessage func(Message)) {
	for _, g := range groups {
		s.hub.Join(g, client)
	}
	if s.observer != nil {
		s.observer.WSConnected(endpoint)
	}
	defer func() {
		s.hub.LeaveAll(client)
		if s.observer != nil {
			s.observer.WSDisconnected(endpoint)
		}
	}()
	client.Run(onMessage)
}
