package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/services"
)

type AuthGateway interface {
	SignInAnonymous(ctx context.Context) (*dto.AuthResponse, error)
	SignUp(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error)
	SignIn(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error)
	SignInWithApple(ctx context.Context, req *dto.AppleSignInRequest) (*dto.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*dto.AuthResponse, error)
	SignOut(ctx context.Context, userID, refreshToken string) error
	CurrentSession(ctx context.Context, userID string) (*services.SessionInfo, error)
}

type AuthHandler struct {
	auth AuthGateway
	log  *slog.Logger
}

func NewAuthHandler(auth AuthGateway, log *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, log: log}
}

func (h *AuthHandler) Anonymous(c *fiber.Ctx) error {
	resp, err := h.auth.SignInAnonymous(c.UserContext())
	if err != nil {
		return h.authError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := parse(c, &req); err != nil {
		return err
	}

	resp, err := h.auth.SignUp(c.UserContext(), &req)
	if err != nil {
		return h.authError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := parse(c, &req); err != nil {
		return err
	}

	resp, err := h.auth.SignIn(c.UserContext(), &req)
	if err != nil {
		return h.authError(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) AppleSignIn(c *fiber.Ctx) error {
	var req dto.AppleSignInRequest
	if err := parse(c, &req); err != nil {
		return err
	}

	resp, err := h.auth.SignInWithApple(c.UserContext(), &req)
	if err != nil {
		return h.authError(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var req dto.RefreshRequest
	if err := parse(c, &req); err != nil {
		return err
	}

	resp, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return h.authError(c, err)
	}
	return c.JSON(resp)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "Unauthorized")
	}

	var req dto.LogoutRequest
	if len(c.Body()) > 0 {
		if err := parse(c, &req); err != nil {
			return err
		}
	}

	if err := h.auth.SignOut(c.UserContext(), userID, req.RefreshToken); err != nil {
		h.log.Error("logout failed", slog.String("user_id", userID), sl.Err(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to logout")
	}
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

func (h *AuthHandler) authError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrEmailTaken):
		return fail(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, services.ErrWeakPassword):
		return fail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrInvalidIdentityToken):
		return fail(c, fiber.StatusUnauthorized, rootMessage(err))
	default:
		h.log.Error("auth request failed", slog.String("path", c.Path()), sl.Err(err))
		return fail(c, fiber.StatusInternalServerError, "Internal server error")
	}
}

// rootMessage hides wrapped verification details from clients.
func rootMessage(err error) string {
	for _, sentinel := range []error{services.ErrInvalidCredentials, services.ErrInvalidToken, services.ErrInvalidIdentityToken} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
