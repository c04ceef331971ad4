// Package service holds the comment board's business rules on top of the
// repositories.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"threadboard/internal/attachment"
	"threadboard/internal/cache"
	"threadboard/internal/models"
	"threadboard/internal/observability"
	"threadboard/internal/repository"
	"threadboard/internal/sanitize"
	"threadboard/internal/storage"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Notifier schedules a push event for a changed or removed comment.
type Notifier interface {
	Notify(ctx context.Context, commentID uint)
}

// CreateCommentInput is the payload of a new comment.
type CreateCommentInput struct {
	UserName   string             `json:"user_name" validate:"required,max=100"`
	Email      string             `json:"email" validate:"required,email,max=254"`
	HomePage   *string            `json:"home_page" validate:"omitempty,http_url,max=200"`
	Text       string             `json:"text"`
	ParentID   *uint              `json:"parent"`
	Attachment *attachment.Upload `json:"-"`
}

// UpdateCommentInput replaces the fields that are set. An empty HomePage
// clears it.
type UpdateCommentInput struct {
	Text       *string            `json:"text"`
	HomePage   *string            `json:"home_page"`
	Attachment *attachment.Upload `json:"-"`
}

// CommentService implements the comment operations. Every successful
// mutation invalidates the anonymous listing and then schedules a push event.
type CommentService struct {
	comments repository.CommentRepository
	cache    cache.ListingCache
	notifier Notifier
	store    storage.Store
	validate *validator.Validate
	cacheTTL time.Duration
}

func NewCommentService(
	comments repository.CommentRepository,
	listingCache cache.ListingCache,
	notifier Notifier,
	store storage.Store,
	cacheTTL time.Duration,
) *CommentService {
	if cacheTTL <= 0 {
		cacheTTL = cache.DefaultListingTTL
	}
	return &CommentService{
		comments: comments,
		cache:    listingCache,
		notifier: notifier,
		store:    store,
		validate: newValidator(),
		cacheTTL: cacheTTL,
	}
}

// List returns comments newest first. The unfiltered anonymous listing is
// served from the cache when present.
func (s *CommentService) List(ctx context.Context, viewer models.Viewer, filter repository.ListFilter) ([]*models.CommentView, error) {
	cacheable := !viewer.IsAuthenticated() && filter.IsZero() && s.cache != nil

	if cacheable {
		if payload, ok := s.cache.GetAnonymousListing(ctx); ok {
			var views []*models.CommentView
			err := json.Unmarshal(payload, &views)
			if err == nil {
				return views, nil
			}
			observability.Degraded(ctx, "cache", "decode", err)
		}
	}

	views, err := s.comments.List(ctx, viewer.UserID, filter)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	if cacheable {
		payload, err := json.Marshal(views)
		if err != nil {
			observability.Degraded(ctx, "cache", "encode", err)
		} else {
			s.cache.SetAnonymousListing(ctx, payload, s.cacheTTL)
		}
	}
	return views, nil
}

// Get returns one comment as seen by viewer.
func (s *CommentService) Get(ctx context.Context, id uint, viewer models.Viewer) (*models.CommentView, error) {
	view, err := s.comments.GetByID(ctx, id, viewer.UserID)
	if err != nil {
		return nil, translate(err, id)
	}
	return view, nil
}

// Create stores a new comment. An authenticated author's username replaces
// the supplied display name. Anonymous visitors may only start threads.
func (s *CommentService) Create(ctx context.Context, in CreateCommentInput, viewer models.Viewer) (*models.CommentView, error) {
	if in.ParentID != nil && !viewer.IsAuthenticated() {
		return nil, models.NewUnauthorizedError("authentication required to reply")
	}
	if viewer.IsAuthenticated() {
		in.UserName = viewer.Username
	}
	in.HomePage = normalizeHomePage(in.HomePage)

	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	text, err := sanitize.Sanitize(in.Text)
	if err != nil {
		return nil, err
	}

	if in.ParentID != nil {
		exists, err := s.comments.Exists(ctx, *in.ParentID)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		if !exists {
			return nil, models.NewValidationError("parent comment does not exist")
		}
	}

	meta, err := s.storeAttachment(ctx, in.Attachment)
	if err != nil {
		return nil, err
	}

	comment := &models.Comment{
		UserName:   in.UserName,
		Email:      in.Email,
		HomePage:   in.HomePage,
		Text:       text,
		ParentID:   in.ParentID,
		Attachment: meta,
	}
	if viewer.IsAuthenticated() {
		userID := viewer.UserID
		comment.UserID = &userID
	}

	if err := s.comments.Create(ctx, comment); err != nil {
		s.removeBlob(ctx, meta.File)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewValidationError("parent comment does not exist")
		}
		return nil, models.NewInternalError(err)
	}

	s.afterMutation(ctx, comment.ID)
	return s.Get(ctx, comment.ID, viewer)
}

// Update edits a comment owned by viewer.
func (s *CommentService) Update(ctx context.Context, id uint, in UpdateCommentInput, viewer models.Viewer) (*models.CommentView, error) {
	comment, err := s.owned(ctx, id, viewer, "edit")
	if err != nil {
		return nil, err
	}

	if in.Text != nil {
		text, err := sanitize.Sanitize(*in.Text)
		if err != nil {
			return nil, err
		}
		comment.Text = text
	}

	if in.HomePage != nil {
		homePage := normalizeHomePage(in.HomePage)
		if homePage != nil {
			if err := s.validate.Var(*homePage, "http_url,max=200"); err != nil {
				return nil, models.NewValidationError("home_page must be a valid URL")
			}
		}
		comment.HomePage = homePage
	}

	previous := comment.Attachment
	if in.Attachment != nil {
		meta, err := s.storeAttachment(ctx, in.Attachment)
		if err != nil {
			return nil, err
		}
		comment.Attachment = meta
	}

	if err := s.comments.Update(ctx, comment); err != nil {
		if in.Attachment != nil {
			s.removeBlob(ctx, comment.Attachment.File)
		}
		return nil, translate(err, id)
	}
	if in.Attachment != nil {
		s.removeBlob(ctx, previous.File)
	}

	s.afterMutation(ctx, comment.ID)
	return s.Get(ctx, comment.ID, viewer)
}

// Delete removes a comment owned by viewer together with all its replies.
func (s *CommentService) Delete(ctx context.Context, id uint, viewer models.Viewer) error {
	if _, err := s.owned(ctx, id, viewer, "delete"); err != nil {
		return err
	}

	removed, err := s.comments.Delete(ctx, id)
	if err != nil {
		return translate(err, id)
	}

	for _, c := range removed {
		s.removeBlob(ctx, c.Attachment.File)
	}

	ids := make([]uint, 0, len(removed))
	for _, c := range removed {
		ids = append(ids, c.ID)
	}
	s.afterMutation(ctx, ids...)
	return nil
}

// Vote places or replaces viewer's vote on a comment.
func (s *CommentService) Vote(ctx context.Context, id uint, viewer models.Viewer, value int) (*models.CommentView, error) {
	if !models.ValidVote(value) {
		return nil, models.NewValidationError("vote must be 1 or -1")
	}
	return s.react(ctx, id, viewer, func() error {
		return s.comments.Vote(ctx, viewer.UserID, id, value)
	})
}

// Unvote removes viewer's vote. Removing a vote that was never cast is a no-op.
func (s *CommentService) Unvote(ctx context.Context, id uint, viewer models.Viewer) (*models.CommentView, error) {
	return s.react(ctx, id, viewer, func() error {
		return s.comments.Unvote(ctx, viewer.UserID, id)
	})
}

// Bookmark marks the comment for viewer. Bookmarking twice has no further effect.
func (s *CommentService) Bookmark(ctx context.Context, id uint, viewer models.Viewer) (*models.CommentView, error) {
	return s.react(ctx, id, viewer, func() error {
		return s.comments.Bookmark(ctx, viewer.UserID, id)
	})
}

func (s *CommentService) Unbookmark(ctx context.Context, id uint, viewer models.Viewer) (*models.CommentView, error) {
	return s.react(ctx, id, viewer, func() error {
		return s.comments.Unbookmark(ctx, viewer.UserID, id)
	})
}

// react runs a per-viewer write against an existing comment and returns the
// comment as viewer now sees it.
func (s *CommentService) react(ctx context.Context, id uint, viewer models.Viewer, write func() error) (*models.CommentView, error) {
	if !viewer.IsAuthenticated() {
		return nil, models.NewUnauthorizedError("authentication required")
	}

	exists, err := s.comments.Exists(ctx, id)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if !exists {
		return nil, models.NewNotFoundError("Comment", id)
	}

	if err := write(); err != nil {
		return nil, translate(err, id)
	}

	s.afterMutation(ctx, id)
	return s.Get(ctx, id, viewer)
}

func (s *CommentService) owned(ctx context.Context, id uint, viewer models.Viewer, action string) (*models.Comment, error) {
	if !viewer.IsAuthenticated() {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	comment, err := s.comments.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	if !comment.IsOwnedBy(viewer.UserID) {
		return nil, models.NewForbiddenError("you can only " + action + " your own comments")
	}
	return comment, nil
}

// storeAttachment validates the upload and writes it to the store. A nil
// upload yields the zero Attachment.
func (s *CommentService) storeAttachment(ctx context.Context, upload *attachment.Upload) (models.Attachment, error) {
	if err := attachment.Validate(upload); err != nil {
		return models.Attachment{}, err
	}
	meta, err := attachment.ExtractMetadata(upload)
	if err != nil {
		return models.Attachment{}, err
	}
	if upload == nil {
		return meta, nil
	}
	if s.store == nil {
		return models.Attachment{}, models.NewInternalError(errors.New("attachment storage not configured"))
	}

	key, err := s.store.Save(ctx, meta.Name, upload.Reader, meta.Size, upload.EffectiveContentType())
	if err != nil {
		return models.Attachment{}, models.NewInternalError(err)
	}
	meta.File = key
	return meta, nil
}

func (s *CommentService) removeBlob(ctx context.Context, key string) {
	if key == "" || s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		observability.Degraded(ctx, "storage", "delete", err)
	}
}

func (s *CommentService) afterMutation(ctx context.Context, ids ...uint) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
	if s.notifier == nil {
		return
	}
	for _, id := range ids {
		s.notifier.Notify(ctx, id)
	}
}

func normalizeHomePage(homePage *string) *string {
	if homePage == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*homePage)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func translate(err error, id uint) error {
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError("Comment", id)
	}
	return models.NewInternalError(err)
}
