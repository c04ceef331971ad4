package server

import (
	"context"
	"errors"
	"log/slog"

	"threadboard/internal/auth"
	"threadboard/internal/middleware"
	"threadboard/internal/models"
	"threadboard/internal/observability"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const (
	localViewer    = "viewer"
	localAuthError = "authError"
)

// OptionalAuth resolves the bearer token, if any, to a viewer. Requests
// without valid credentials continue as anonymous; the reason is kept for
// AuthRequired. WebSocket upgrades may pass the token as ?token= since
// browsers cannot set headers on them.
func (s *Server) OptionalAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" && c.Query("token") != "" && c.Get(fiber.HeaderUpgrade) != "" {
			header = "Bearer " + c.Query("token")
		}

		viewer, err := s.resolveViewer(c.UserContext(), header)
		if err != nil {
			c.Locals(localAuthError, err)
			viewer = models.Anonymous
		}
		c.Locals(localViewer, viewer)

		if viewer.IsAuthenticated() {
			c.Locals(middleware.LocalUserID, viewer.UserID)
			ctx := context.WithValue(c.UserContext(), observability.UserIDKey, viewer.UserID)
			c.SetUserContext(ctx)
		}
		return c.Next()
	}
}

// AuthRequired rejects anonymous viewers with 401. Must be placed after
// OptionalAuth.
func (s *Server) AuthRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if viewerFrom(c).IsAuthenticated() {
			return c.Next()
		}

		message := "Authorization required"
		if err, ok := c.Locals(localAuthError).(error); ok {
			switch {
			case errors.Is(err, auth.ErrMalformedAuth):
				message = "Invalid authorization header format"
			case errors.Is(err, auth.ErrInvalidToken):
				message = "Invalid or expired token"
			case errors.Is(err, gorm.ErrRecordNotFound):
				message = "Unknown user"
			}
		}
		return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(message))
	}
}

// resolveViewer maps an Authorization header to the user it names. An empty
// header is the anonymous viewer.
func (s *Server) resolveViewer(ctx context.Context, header string) (models.Viewer, error) {
	if header == "" {
		return models.Anonymous, nil
	}

	token, err := auth.ParseAuthorization(header)
	if err != nil {
		return models.Anonymous, err
	}
	userID, err := s.verifier.Verify(token)
	if err != nil {
		return models.Anonymous, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			observability.Logger.ErrorContext(ctx, "viewer lookup failed", slog.String("error", err.Error()))
		}
		return models.Anonymous, err
	}
	return models.Viewer{UserID: user.ID, Username: user.Username}, nil
}

func viewerFrom(c *fiber.Ctx) models.Viewer {
	if v, ok := c.Locals(localViewer).(models.Viewer); ok {
		return v
	}
	return models.Anonymous
}
