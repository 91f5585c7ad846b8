package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/session"
)

type SessionHandler struct {
	auth      AuthGateway
	presenter *session.Presenter
	heartbeat time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewSessionHandler(auth AuthGateway, presenter *session.Presenter, log *slog.Logger) *SessionHandler {
	return &SessionHandler{
		auth:      auth,
		presenter: presenter,
		heartbeat: 25 * time.Second,
		now:       time.Now,
		log:       log,
	}
}

type meResponse struct {
	Authenticated bool                `json:"authenticated"`
	Profile       dto.ProfileResponse `json:"profile"`
}

func (h *SessionHandler) Me(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	info, err := h.auth.CurrentSession(c.UserContext(), userID)
	if errors.Is(err, services.ErrNoSession) {
		return fail(c, fiber.StatusUnauthorized, "No active session")
	}
	if err != nil {
		return entitlementError(c, h.log, err)
	}
	return c.JSON(meResponse{Authenticated: true, Profile: dto.NewProfileResponse(info.Profile, h.now())})
}

// Events streams the caller's session state as server-sent events.
func (h *SessionHandler) Events(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	initial := session.SignedOut(userID, h.now())
	info, err := h.auth.CurrentSession(c.UserContext(), userID)
	switch {
	case err == nil:
		initial = session.Authenticated(info.Profile, h.now())
	case !errors.Is(err, services.ErrNoSession):
		return entitlementError(c, h.log, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	states, cancel := h.presenter.Subscribe(userID)
	heartbeat := time.NewTicker(h.heartbeat)
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer heartbeat.Stop()
		defer cancel()
		if err := streamStates(w, initial, states, heartbeat.C); err != nil {
			h.log.Debug("session stream closed", slog.String("user_id", userID), slog.String("reason", err.Error()))
		}
	}))
	return nil
}

var errStreamClosed = errors.New("state channel closed")

// streamStates writes initial and then every state from states until a
// write fails or states closes.
func streamStates(w *bufio.Writer, initial session.State, states <-chan session.State, heartbeat <-chan time.Time) error {
	if err := writeEvent(w, initial); err != nil {
		return err
	}
	for {
		select {
		case s, ok := <-states:
			if !ok {
				return errStreamClosed
			}
			if err := writeEvent(w, s); err != nil {
				return err
			}
		case <-heartbeat:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

func writeEvent(w *bufio.Writer, s session.State) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}
