// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"time"

	"threadboard/internal/database"
	"threadboard/internal/models"
	"threadboard/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ListFilter narrows a comment listing. The zero value lists every comment.
type ListFilter struct {
	ParentID  *uint
	RootsOnly bool
	Limit     int
	Offset    int
}

// IsZero reports whether the filter selects the full, unpaginated listing.
func (f ListFilter) IsZero() bool {
	return f.ParentID == nil && !f.RootsOnly && f.Limit == 0 && f.Offset == 0
}

// CommentRepository defines interface for comment operations
type CommentRepository interface {
	List(ctx context.Context, viewerID uint, filter ListFilter) ([]*models.CommentView, error)
	GetByID(ctx context.Context, id, viewerID uint) (*models.CommentView, error)
	FindByID(ctx context.Context, id uint) (*models.Comment, error)
	Exists(ctx context.Context, id uint) (bool, error)
	Create(ctx context.Context, comment *models.Comment) error
	Update(ctx context.Context, comment *models.Comment) error
	Delete(ctx context.Context, id uint) ([]models.Comment, error)
	ChildIndex(ctx context.Context, rootID uint) (map[uint][]uint, error)
	Vote(ctx context.Context, userID, commentID uint, value int) error
	Unvote(ctx context.Context, userID, commentID uint) error
	Bookmark(ctx context.Context, userID, commentID uint) error
	Unbookmark(ctx context.Context, userID, commentID uint) error
}

// The derived columns are computed in the same statement as the rows:
// score from one grouped aggregate joined in, the viewer's vote and bookmark
// from correlated subqueries.
const (
	viewSelect = "comments.*, COALESCE(vote_totals.score, 0) AS score"

	viewerColumns = ", COALESCE((SELECT comment_votes.value FROM comment_votes WHERE comment_votes.comment_id = comments.id AND comment_votes.user_id = ? LIMIT 1), 0) AS user_vote" +
		", EXISTS(SELECT 1 FROM comment_bookmarks WHERE comment_bookmarks.comment_id = comments.id AND comment_bookmarks.user_id = ?) AS is_bookmarked"

	anonymousColumns = ", 0 AS user_vote, false AS is_bookmarked"

	voteTotalsJoin = "LEFT JOIN (SELECT comment_id, SUM(value) AS score FROM comment_votes GROUP BY comment_id) AS vote_totals ON vote_totals.comment_id = comments.id"
)

type commentRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewCommentRepository creates a new CommentRepository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{
		db:  db,
		log: observability.NewRepoLogger("comments"),
	}
}

// applyViewDetails selects the comment columns together with score,
// user_vote and is_bookmarked for viewerID.
func applyViewDetails(db *gorm.DB, viewerID uint) *gorm.DB {
	db = db.Model(&models.Comment{})
	if viewerID != 0 {
		db = db.Select(viewSelect+viewerColumns, viewerID, viewerID)
	} else {
		db = db.Select(viewSelect + anonymousColumns)
	}
	return db.Joins(voteTotalsJoin)
}

func (r *commentRepository) List(ctx context.Context, viewerID uint, filter ListFilter) ([]*models.CommentView, error) {
	defer observability.TrackQuery("list", "comments")()

	query := applyViewDetails(r.db.WithContext(ctx), viewerID)
	switch {
	case filter.ParentID != nil:
		query = query.Where("comments.parent_id = ?", *filter.ParentID)
	case filter.RootsOnly:
		query = query.Where("comments.parent_id IS NULL")
	}
	query = query.Order("comments.created_at DESC, comments.id DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	views := make([]*models.CommentView, 0)
	if err := query.Scan(&views).Error; err != nil {
		r.log.LogError(ctx, err, "list")
		return nil, err
	}
	return views, nil
}

func (r *commentRepository) GetByID(ctx context.Context, id, viewerID uint) (*models.CommentView, error) {
	defer observability.TrackQuery("get", "comments")()

	var views []*models.CommentView
	err := applyViewDetails(r.db.WithContext(ctx), viewerID).
		Where("comments.id = ?", id).
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return views[0], nil
}

func (r *commentRepository) FindByID(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).First(&comment, id).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepository) Exists(ctx context.Context, id uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Comment{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// Create inserts comment. A parent removed in the meantime is reported as
// gorm.ErrRecordNotFound.
func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(comment).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return translateWriteError(err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"comment_id": comment.ID, "parent_id": comment.ParentID})
	return nil
}

// updatableColumns are the fields an author may change after posting.
var updatableColumns = []string{
	"text", "home_page",
	"attachment_file", "attachment_name", "attachment_type", "attachment_size",
	"attachment_width", "attachment_height", "attachment_text_preview",
	"updated_at",
}

// Update writes the editable fields of an existing comment. It never inserts:
// a comment deleted since it was loaded yields gorm.ErrRecordNotFound.
func (r *commentRepository) Update(ctx context.Context, comment *models.Comment) error {
	comment.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ?", comment.ID).
		Select(updatableColumns).
		Updates(comment)
	if result.Error != nil {
		r.log.LogError(ctx, result.Error, "update")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"comment_id": comment.ID})
	return nil
}

// Delete removes the comment and every reply below it, along with their votes
// and bookmarks. The removed comments are returned root first, carrying their
// attachment keys.
func (r *commentRepository) Delete(ctx context.Context, id uint) ([]models.Comment, error) {
	var removed []models.Comment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		exists, err := (&commentRepository{db: tx}).Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return gorm.ErrRecordNotFound
		}

		index, err := childIndex(tx, id)
		if err != nil {
			return err
		}
		ids := subtree(index, id)

		var rows []models.Comment
		if err := tx.Select("id", "parent_id", "attachment_file").Where("id IN ?", ids).Find(&rows).Error; err != nil {
			return err
		}
		byID := make(map[uint]models.Comment, len(rows))
		for _, row := range rows {
			byID[row.ID] = row
		}
		removed = make([]models.Comment, 0, len(ids))
		for _, cid := range ids {
			if row, ok := byID[cid]; ok {
				removed = append(removed, row)
			}
		}

		if err := tx.Where("comment_id IN ?", ids).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("comment_id IN ?", ids).Delete(&models.Bookmark{}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ?", ids).Delete(&models.Comment{}).Error
	})
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.LogError(ctx, err, "delete")
		}
		return nil, err
	}

	r.log.LogDelete(ctx, map[string]interface{}{"comment_id": id, "removed": len(removed)})
	return removed, nil
}

func (r *commentRepository) ChildIndex(ctx context.Context, rootID uint) (map[uint][]uint, error) {
	return childIndex(r.db.WithContext(ctx), rootID)
}

// childIndex maps each comment below rootID to its direct replies, walking one
// level per query. Cycles in parent links are cut at the first revisit.
func childIndex(db *gorm.DB, rootID uint) (map[uint][]uint, error) {
	type edge struct {
		ID       uint
		ParentID uint
	}

	index := make(map[uint][]uint)
	visited := map[uint]struct{}{rootID: {}}
	frontier := []uint{rootID}

	for len(frontier) > 0 {
		var edges []edge
		if err := db.Model(&models.Comment{}).
			Select("id", "parent_id").
			Where("parent_id IN ?", frontier).
			Order("id").
			Scan(&edges).Error; err != nil {
			return nil, err
		}

		next := make([]uint, 0, len(edges))
		for _, e := range edges {
			if _, seen := visited[e.ID]; seen {
				continue
			}
			visited[e.ID] = struct{}{}
			index[e.ParentID] = append(index[e.ParentID], e.ID)
			next = append(next, e.ID)
		}
		frontier = next
	}

	return index, nil
}

// subtree flattens index breadth first starting at rootID.
func subtree(index map[uint][]uint, rootID uint) []uint {
	ids := []uint{rootID}
	for i := 0; i < len(ids); i++ {
		ids = append(ids, index[ids[i]]...)
	}
	return ids
}

func (r *commentRepository) Vote(ctx context.Context, userID, commentID uint, value int) error {
	now := time.Now().UTC()
	vote := models.Vote{
		UserID:    userID,
		CommentID: commentID,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "comment_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"value": value, "updated_at": now}),
		}).
		Create(&vote).Error
	return translateWriteError(err)
}

func (r *commentRepository) Unvote(ctx context.Context, userID, commentID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND comment_id = ?", userID, commentID).
		Delete(&models.Vote{}).Error
}

func (r *commentRepository) Bookmark(ctx context.Context, userID, commentID uint) error {
	bookmark := models.Bookmark{
		UserID:    userID,
		CommentID: commentID,
		CreatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "comment_id"}},
			DoNothing: true,
		}).
		Create(&bookmark).Error
	return translateWriteError(err)
}

func (r *commentRepository) Unbookmark(ctx context.Context, userID, commentID uint) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND comment_id = ?", userID, commentID).
		Delete(&models.Bookmark{}).Error
}

// translateWriteError reports a write against a comment removed concurrently
// as a missing record.
func translateWriteError(err error) error {
	if database.IsForeignKeyViolation(err) {
		return gorm.ErrRecordNotFound
	}
	return err
}
