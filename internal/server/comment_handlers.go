package server

import (
	"context"
	"mime/multipart"
	"strconv"
	"strings"

	"threadboard/internal/attachment"
	"threadboard/internal/models"
	"threadboard/internal/repository"
	"threadboard/internal/service"

	"github.com/gofiber/fiber/v2"
)

const maxListLimit = 500

type createCommentRequest struct {
	UserName string  `json:"user_name"`
	Email    string  `json:"email"`
	HomePage *string `json:"home_page"`
	Text     string  `json:"text"`
	Parent   *uint   `json:"parent"`
}

type updateCommentRequest struct {
	Text     *string `json:"text"`
	HomePage *string `json:"home_page"`
}

type voteRequest struct {
	Value int `json:"value"`
}

// ListComments handles GET /api/comments
// @Summary List comments
// @Description Newest first. Anonymous unfiltered listings are served from cache.
// @Tags comments
// @Produce json
// @Param parent query int false "Only replies to this comment"
// @Param roots query bool false "Only top-level comments"
// @Param limit query int false "Page size (0 = all)"
// @Param offset query int false "Rows to skip"
// @Success 200 {array} models.CommentResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /comments [get]
func (s *Server) ListComments(c *fiber.Ctx) error {
	filter, err := parseListFilter(c)
	if err != nil {
		return respondError(c, err)
	}

	views, err := s.commentService.List(c.UserContext(), viewerFrom(c), filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(models.NewCommentResponses(views, s.attachmentURL(s.baseURL(c))))
}

// GetComment handles GET /api/comments/:id
// @Summary Get a comment
// @Tags comments
// @Produce json
// @Param id path int true "Comment ID"
// @Success 200 {object} models.CommentResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /comments/{id} [get]
func (s *Server) GetComment(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	view, err := s.commentService.Get(c.UserContext(), id, viewerFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s.commentResponse(c, view))
}

// CreateComment handles POST /api/comments
// @Summary Post a comment
// @Description Accepts JSON or multipart/form-data with an optional "attachment" file. Anonymous posting is allowed for top-level comments; replies require authentication.
// @Tags comments
// @Accept json,mpfd
// @Produce json
// @Param request body createCommentRequest true "Comment"
// @Success 201 {object} models.CommentResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /comments [post]
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var in service.CreateCommentInput

	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			return respondError(c, models.NewValidationError("Invalid request body"))
		}
		in.UserName = formValue(form, "user_name")
		in.Email = formValue(form, "email")
		in.Text = formValue(form, "text")
		if v, ok := formField(form, "home_page"); ok {
			in.HomePage = &v
		}
		if v := formValue(form, "parent"); v != "" {
			parent, err := strconv.ParseUint(v, 10, 32)
			if err != nil || parent == 0 {
				return respondError(c, models.NewValidationError("Invalid parent"))
			}
			p := uint(parent)
			in.ParentID = &p
		}

		upload, closeFn, err := openUpload(form)
		if err != nil {
			return respondError(c, err)
		}
		defer closeFn()
		in.Attachment = upload
	} else {
		var req createCommentRequest
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, models.NewValidationError("Invalid request body"))
		}
		in.UserName = req.UserName
		in.Email = req.Email
		in.HomePage = req.HomePage
		in.Text = req.Text
		in.ParentID = req.Parent
	}

	view, err := s.commentService.Create(c.UserContext(), in, viewerFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(s.commentResponse(c, view))
}

// UpdateComment handles PUT and PATCH /api/comments/:id
// @Summary Edit an own comment
// @Tags comments
// @Accept json,mpfd
// @Produce json
// @Param id path int true "Comment ID"
// @Param request body updateCommentRequest true "Fields to replace"
// @Success 200 {object} models.CommentResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /comments/{id} [put]
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var in service.UpdateCommentInput
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			return respondError(c, models.NewValidationError("Invalid request body"))
		}
		if v, ok := formField(form, "text"); ok {
			in.Text = &v
		}
		if v, ok := formField(form, "home_page"); ok {
			in.HomePage = &v
		}
		upload, closeFn, err := openUpload(form)
		if err != nil {
			return respondError(c, err)
		}
		defer closeFn()
		in.Attachment = upload
	} else {
		var req updateCommentRequest
		if err := c.BodyParser(&req); err != nil {
			return respondError(c, models.NewValidationError("Invalid request body"))
		}
		in.Text = req.Text
		in.HomePage = req.HomePage
	}

	view, err := s.commentService.Update(c.UserContext(), id, in, viewerFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s.commentResponse(c, view))
}

// DeleteComment handles DELETE /api/comments/:id
// @Summary Delete an own comment and its replies
// @Tags comments
// @Param id path int true "Comment ID"
// @Success 204
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /comments/{id} [delete]
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.commentService.Delete(c.UserContext(), id, viewerFrom(c)); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// VoteComment handles POST /api/comments/:id/vote
// @Summary Vote on a comment
// @Tags comments
// @Accept json
// @Produce json
// @Param id path int true "Comment ID"
// @Param request body voteRequest true "Vote value, 1 or -1"
// @Success 200 {object} models.CommentResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /comments/{id}/vote [post]
func (s *Server) VoteComment(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req voteRequest
	if err := c.BodyParser(&req); err != nil {
		return respondError(c, models.NewValidationError("Invalid request body"))
	}

	view, err := s.commentService.Vote(c.UserContext(), id, viewerFrom(c), req.Value)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s.commentResponse(c, view))
}

// UnvoteComment handles DELETE /api/comments/:id/vote
// @Summary Remove own vote
// @Tags comments
// @Produce json
// @Param id path int true "Comment ID"
// @Success 200 {object} models.CommentResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /comments/{id}/vote [delete]
func (s *Server) UnvoteComment(c *fiber.Ctx) error {
	return s.react(c, s.commentService.Unvote)
}

// BookmarkComment handles POST /api/comments/:id/bookmark
// @Summary Bookmark a comment
// @Tags comments
// @Produce json
// @Param id path int true "Comment ID"
// @Success 200 {object} models.CommentResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /comments/{id}/bookmark [post]
func (s *Server) BookmarkComment(c *fiber.Ctx) error {
	return s.react(c, s.commentService.Bookmark)
}

// UnbookmarkComment handles DELETE /api/comments/:id/bookmark
// @Summary Remove a bookmark
// @Tags comments
// @Produce json
// @Param id path int true "Comment ID"
// @Success 200 {object} models.CommentResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /comments/{id}/bookmark [delete]
func (s *Server) UnbookmarkComment(c *fiber.Ctx) error {
	return s.react(c, s.commentService.Unbookmark)
}

func (s *Server) react(c *fiber.Ctx, op func(ctx context.Context, id uint, viewer models.Viewer) (*models.CommentView, error)) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	view, err := op(c.UserContext(), id, viewerFrom(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(s.commentResponse(c, view))
}

func parseListFilter(c *fiber.Ctx) (repository.ListFilter, error) {
	var filter repository.ListFilter

	if raw := c.Query("parent"); raw != "" {
		parent, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || parent == 0 {
			return filter, models.NewValidationError("Invalid parent")
		}
		p := uint(parent)
		filter.ParentID = &p
	}
	filter.RootsOnly = c.QueryBool("roots", false)

	limit, err := strconv.Atoi(c.Query("limit", "0"))
	if err != nil || limit < 0 {
		return filter, models.NewValidationError("Invalid limit")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		return filter, models.NewValidationError("Invalid offset")
	}
	filter.Limit = limit
	filter.Offset = offset
	return filter, nil
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(strings.ToLower(string(c.Request().Header.ContentType())), fiber.MIMEMultipartForm)
}

func formField(form *multipart.Form, name string) (string, bool) {
	values, ok := form.Value[name]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

func formValue(form *multipart.Form, name string) string {
	v, _ := formField(form, name)
	return v
}

// openUpload opens the "attachment" file of form. It returns a nil upload
// when no file was sent; closeFn is always safe to call.
func openUpload(form *multipart.Form) (*attachment.Upload, func(), error) {
	files := form.File["attachment"]
	if len(files) == 0 {
		return nil, func() {}, nil
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, models.NewValidationError("attachment could not be read")
	}
	return &attachment.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Size:        fh.Size,
		Reader:      f,
	}, func() { _ = f.Close() }, nil
}
