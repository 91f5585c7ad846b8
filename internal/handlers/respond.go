package handlers

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
	"github.com/gofiber/fiber/v2"

	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/entitlement"
	"github.com/ahmetcoskunkizilkaya/swift-boilerplate-backend/internal/lib/sl"
)

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func fail(c *fiber.Ctx, code int, message string) error {
	return c.Status(code).JSON(dto.ErrorResponse{Error: true, Message: message})
}

// parse decodes and validates the request body into req. The returned
// *fiber.Error is rendered by ErrorHandler.
func parse(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, validationMessage(err))
	}
	return nil
}

// ErrorHandler renders errors that escape a handler. Only client errors keep
// their message.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}

	if code >= 500 {
		slog.Error("unhandled server error",
			slog.String("method", c.Method()), slog.String("path", c.Path()), sl.Err(err))
		message = "Internal server error"
	}
	return fail(c, code, message)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+" is "+describeTag(fe.Tag()))
	}
	return strings.Join(fields, ", ")
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "required"
	case "email":
		return "not a valid email"
	case "min":
		return "too short"
	case "max":
		return "too long"
	default:
		return "invalid"
	}
}

// entitlementError maps reconciliation failures onto HTTP answers. 5xx
// responses never carry the underlying error.
func entitlementError(c *fiber.Ctx, log *slog.Logger, err error) error {
	switch {
	case errors.Is(err, entitlement.ErrProfileNotFound):
		return fail(c, fiber.StatusNotFound, "Profile not found")
	case errors.Is(err, entitlement.ErrFeedUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		log.Warn("commerce feed unavailable", slog.String("path", c.Path()), sl.Err(err))
		return fail(c, fiber.StatusServiceUnavailable, "Store is temporarily unavailable, please try again")
	default:
		log.Error("entitlement request failed", slog.String("path", c.Path()), sl.Err(err))
		return fail(c, fiber.StatusInternalServerError, "Internal server error")
	}
}
