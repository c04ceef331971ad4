package server

import (
	"errors"
	"log/slog"

	"threadboard/internal/models"
	"threadboard/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid ID"))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// respondError writes err with the status its code maps to. Internal
// failures are logged since their cause is hidden from the client.
func respondError(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	if status == fiber.StatusInternalServerError {
		observability.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
	}
	return models.RespondWithError(c, status, err)
}

// commentResponse renders a view with attachment URLs absolute to the
// public base URL or, failing that, to this request.
func (s *Server) commentResponse(c *fiber.Ctx, view *models.CommentView) *models.CommentResponse {
	return models.NewCommentResponse(view, s.attachmentURL(s.baseURL(c)))
}

func (s *Server) baseURL(c *fiber.Ctx) string {
	if s.config.PublicBaseURL != "" {
		return s.config.PublicBaseURL
	}
	return c.BaseURL()
}
