package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/campussublets/subletd/internal/bus"
	"github.com/campussublets/subletd/internal/remote"
	"github.com/campussublets/subletd/internal/status"
	"github.com/campussublets/subletd/internal/store"
)

// MessageService is the message-cache surface the API exposes.
type MessageService interface {
	Contacts() ([]store.Contact, error)
	MessagesWith(otherID string) ([]store.Message, error)
	UnreadCount(otherID string) (int, error)
	TotalUnreadCount() (int, error)
	SendMessage(ctx context.Context, receiverID, text string) error
	MarkMessagesAsRead(ctx context.Context, senderID string) error
	IsLoading() bool
}

// SavedService is the saved-listings surface the API exposes.
type SavedService interface {
	List() ([]store.SavedListing, error)
	IsSaved(listingID string) (bool, error)
	IsSaving(listingID string) bool
	ToggleSave(ctx context.Context, listingID string) error
}

// NameResolver maps user ids to display names.
type NameResolver interface {
	DisplayName(ctx context.Context, id string) string
}

// Server is the daemon's local HTTP surface. It binds to loopback only;
// clients are UI processes on the same machine.
type Server struct {
	app    *fiber.App
	msgs   MessageService
	saved  SavedService
	names  NameResolver
	bus    *bus.Bus
	state  *status.Machine
	logger *zap.Logger
}

func NewServer(msgs MessageService, saved SavedService, names NameResolver, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s := &Server{app: app, msgs: msgs, saved: saved, names: names, bus: b, state: machine, logger: logger}

	api := app.Group("/v1")

	api.Get("/status", s.getStatus)
	api.Get("/contacts", s.getContacts)
	api.Get("/conversations/:user_id", s.getConversation)
	api.Get("/unread", s.getUnread)
	api.Post("/messages", s.postMessage)
	api.Post("/messages/read", s.postMessagesRead)
	api.Get("/saved", s.getSaved)
	api.Get("/saved/:listing_id", s.getSavedOne)
	api.Post("/saved/:listing_id/toggle", s.postToggleSave)

	api.Get("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(s.handleWS))

	return s
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App { return s.app }

func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

func (s *Server) Shutdown() error { return s.app.Shutdown() }

func (s *Server) getStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"state":   string(s.state.Current()),
		"loading": s.msgs.IsLoading(),
	})
}

type contactView struct {
	UserID      string        `json:"user_id"`
	DisplayName string        `json:"display_name"`
	LastMessage store.Message `json:"last_message"`
	UnreadCount int           `json:"unread_count"`
}

func (s *Server) getContacts(c *fiber.Ctx) error {
	contacts, err := s.msgs.Contacts()
	if err != nil {
		return serverError(c, err)
	}
	views := make([]contactView, 0, len(contacts))
	for _, ct := range contacts {
		views = append(views, contactView{
			UserID:      ct.UserID,
			DisplayName: s.names.DisplayName(c.Context(), ct.UserID),
			LastMessage: ct.LastMessage,
			UnreadCount: ct.UnreadCount,
		})
	}
	return c.JSON(fiber.Map{"contacts": views})
}

func (s *Server) getConversation(c *fiber.Ctx) error {
	otherID := c.Params("user_id")
	msgs, err := s.msgs.MessagesWith(otherID)
	if err != nil {
		return serverError(c, err)
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	// Opening a conversation usually means reading it.
	if c.QueryBool("mark_read") {
		if err := s.msgs.MarkMessagesAsRead(c.Context(), otherID); err != nil {
			return serverError(c, err)
		}
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

func (s *Server) getUnread(c *fiber.Ctx) error {
	if from := c.Query("from"); from != "" {
		n, err := s.msgs.UnreadCount(from)
		if err != nil {
			return serverError(c, err)
		}
		return c.JSON(fiber.Map{"from": from, "unread": n})
	}
	n, err := s.msgs.TotalUnreadCount()
	if err != nil {
		return serverError(c, err)
	}
	return c.JSON(fiber.Map{"unread": n})
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Body       string `json:"body"`
}

func (s *Server) postMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.ReceiverID) == "" {
		return badRequest(c, "receiver_id is required")
	}
	if err := s.msgs.SendMessage(c.Context(), req.ReceiverID, req.Body); err != nil {
		if errors.Is(err, remote.ErrNotAuthenticated) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not signed in"})
		}
		return serverError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sent"})
}

type markReadRequest struct {
	SenderID string `json:"sender_id"`
}

func (s *Server) postMessagesRead(c *fiber.Ctx) error {
	var req markReadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.SenderID) == "" {
		return badRequest(c, "sender_id is required")
	}
	if err := s.msgs.MarkMessagesAsRead(c.Context(), req.SenderID); err != nil {
		return serverError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type savedView struct {
	store.SavedListing
	Saving bool `json:"saving"`
}

func (s *Server) getSaved(c *fiber.Ctx) error {
	entries, err := s.saved.List()
	if err != nil {
		return serverError(c, err)
	}
	views := make([]savedView, 0, len(entries))
	for _, e := range entries {
		views = append(views, savedView{SavedListing: e, Saving: s.saved.IsSaving(e.ListingID)})
	}
	return c.JSON(fiber.Map{"saved": views})
}

func (s *Server) getSavedOne(c *fiber.Ctx) error {
	id := c.Params("listing_id")
	saved, err := s.saved.IsSaved(id)
	if err != nil {
		return serverError(c, err)
	}
	return c.JSON(fiber.Map{
		"listing_id": id,
		"saved":      saved,
		"saving":     s.saved.IsSaving(id),
	})
}

func (s *Server) postToggleSave(c *fiber.Ctx) error {
	id := c.Params("listing_id")
	if err := s.saved.ToggleSave(c.Context(), id); err != nil {
		if errors.Is(err, remote.ErrNotAuthenticated) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "not signed in"})
		}
		return serverError(c, err)
	}
	saved, err := s.saved.IsSaved(id)
	if err != nil {
		return serverError(c, err)
	}
	return c.JSON(fiber.Map{"listing_id": id, "saved": saved})
}

// handleWS streams every bus event to the client as JSON. Slow clients
// miss events rather than stall the daemon; the buffer soaks up bursts.
func (s *Server) handleWS(conn *websocket.Conn) {
	events, unsub := s.bus.Subscribe("", 64)
	defer unsub()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt := <-events:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(evt); err != nil {
				s.logger.Debug("event stream client gone", zap.Error(err))
				return
			}
		case <-closed:
			return
		}
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func serverError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
}
