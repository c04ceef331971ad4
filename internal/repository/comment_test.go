package repository

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"threadboard/internal/models"
	"threadboard/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func viewColumns() []string {
	return []string{"id", "user_id", "user_name", "email", "text", "parent_id", "created_at", "score", "user_vote", "is_bookmarked"}
}

func queryPattern(fragments ...string) string {
	pattern := ""
	for i, f := range fragments {
		if i > 0 {
			pattern += ".*"
		}
		pattern += regexp.QuoteMeta(f)
	}
	return pattern
}

func TestCommentRepository_ListIsSingleQuery(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name      string
		viewerID  uint
		expect    func(mock sqlmock.Sqlmock, rows *sqlmock.Rows)
		wantVote  int
		wantSaved bool
	}{
		{
			name:     "authenticated viewer",
			viewerID: 7,
			expect: func(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
				mock.ExpectQuery(queryPattern(
					`SELECT comments.*, COALESCE(vote_totals.score, 0) AS score`,
					`comment_votes.user_id = $1 LIMIT 1), 0) AS user_vote`,
					`EXISTS(SELECT 1 FROM comment_bookmarks WHERE comment_bookmarks.comment_id = comments.id AND comment_bookmarks.user_id = $2) AS is_bookmarked`,
					`FROM "comments" LEFT JOIN (SELECT comment_id, SUM(value) AS score FROM comment_votes GROUP BY comment_id) AS vote_totals`,
					`ORDER BY comments.created_at DESC, comments.id DESC`,
				)).WithArgs(7, 7).WillReturnRows(rows)
			},
			wantVote:  -1,
			wantSaved: true,
		},
		{
			name:     "anonymous viewer",
			viewerID: 0,
			expect: func(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
				mock.ExpectQuery(queryPattern(
					`SELECT comments.*, COALESCE(vote_totals.score, 0) AS score, 0 AS user_vote, false AS is_bookmarked`,
					`FROM "comments" LEFT JOIN (SELECT comment_id, SUM(value) AS score FROM comment_votes GROUP BY comment_id) AS vote_totals`,
				)).WillReturnRows(rows)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := setupMockDB(t)
			repo := NewCommentRepository(db)

			rows := sqlmock.NewRows(viewColumns()).
				AddRow(2, nil, "bob", "bob@example.com", "second", 1, now, 3, tt.wantVote, tt.wantSaved).
				AddRow(1, 7, "alice", "alice@example.com", "first", nil, now.Add(-time.Minute), 0, 0, false)
			tt.expect(mock, rows)

			views, err := repo.List(context.Background(), tt.viewerID, ListFilter{})
			require.NoError(t, err)
			require.Len(t, views, 2)

			assert.Equal(t, uint(2), views[0].ID)
			assert.Equal(t, 3, views[0].Score)
			assert.Equal(t, tt.wantVote, views[0].UserVote)
			assert.Equal(t, tt.wantSaved, views[0].IsBookmarked)
			require.NotNil(t, views[0].ParentID)
			assert.Equal(t, uint(1), *views[0].ParentID)
			assert.Nil(t, views[0].UserID)
			assert.Zero(t, views[1].Score)

			// one round trip for the whole listing, however many rows
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCommentRepository_GetByIDNotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCommentRepository(db)

	mock.ExpectQuery(queryPattern(`FROM "comments" LEFT JOIN`, `WHERE comments.id = $3`)).
		WithArgs(5, 5, 42).
		WillReturnRows(sqlmock.NewRows(viewColumns()))

	_, err := repo.GetByID(context.Background(), 42, 5)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentRepository_DerivedFields(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	alice := testutil.CreateUser(t, db, "alice")
	bob := testutil.CreateUser(t, db, "bob")
	carol := testutil.CreateUser(t, db, "carol")
	c := testutil.CreateComment(t, db, alice.ID, 0, "hello")

	require.NoError(t, repo.Vote(ctx, alice.ID, c.ID, 1))
	require.NoError(t, repo.Vote(ctx, bob.ID, c.ID, 1))
	require.NoError(t, repo.Vote(ctx, carol.ID, c.ID, -1))
	require.NoError(t, repo.Bookmark(ctx, bob.ID, c.ID))

	tests := []struct {
		name      string
		viewerID  uint
		wantVote  int
		wantSaved bool
	}{
		{"anonymous", 0, 0, false},
		{"upvoter without bookmark", alice.ID, 1, false},
		{"upvoter with bookmark", bob.ID, 1, true},
		{"downvoter", carol.ID, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := repo.GetByID(ctx, c.ID, tt.viewerID)
			require.NoError(t, err)
			assert.Equal(t, 1, view.Score)
			assert.Equal(t, tt.wantVote, view.UserVote)
			assert.Equal(t, tt.wantSaved, view.IsBookmarked)
			assert.Equal(t, "hello", view.Text)
		})
	}
}

func TestCommentRepository_ListOrderingAndFilters(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	root := testutil.CreateComment(t, db, 0, 0, "root")
	reply := testutil.CreateComment(t, db, 0, root.ID, "reply")
	other := testutil.CreateComment(t, db, 0, 0, "other")

	all, err := repo.List(ctx, 0, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []uint{other.ID, reply.ID, root.ID}, []uint{all[0].ID, all[1].ID, all[2].ID})
	for _, v := range all {
		assert.Zero(t, v.Score)
		assert.Zero(t, v.UserVote)
		assert.False(t, v.IsBookmarked)
	}

	replies, err := repo.List(ctx, 0, ListFilter{ParentID: &root.ID})
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, reply.ID, replies[0].ID)

	roots, err := repo.List(ctx, 0, ListFilter{RootsOnly: true})
	require.NoError(t, err)
	assert.Len(t, roots, 2)

	page, err := repo.List(ctx, 0, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, reply.ID, page[0].ID)

	empty, err := NewCommentRepository(testutil.NewSQLiteDB(t)).List(ctx, 0, ListFilter{})
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestCommentRepository_VoteUpsert(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "voter")
	c := testutil.CreateComment(t, db, 0, 0, "x")

	require.NoError(t, repo.Vote(ctx, user.ID, c.ID, 1))
	require.NoError(t, repo.Vote(ctx, user.ID, c.ID, -1))

	var votes []models.Vote
	require.NoError(t, db.Where("comment_id = ?", c.ID).Find(&votes).Error)
	require.Len(t, votes, 1)
	assert.Equal(t, -1, votes[0].Value)

	view, err := repo.GetByID(ctx, c.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, -1, view.Score)
	assert.Equal(t, -1, view.UserVote)

	require.NoError(t, repo.Unvote(ctx, user.ID, c.ID))
	require.NoError(t, repo.Unvote(ctx, user.ID, c.ID))
	view, err = repo.GetByID(ctx, c.ID, user.ID)
	require.NoError(t, err)
	assert.Zero(t, view.Score)
	assert.Zero(t, view.UserVote)
}

func TestCommentRepository_ConcurrentVotesKeepOneRow(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "racer")
	c := testutil.CreateComment(t, db, 0, 0, "x")

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := 1
			if i%2 == 1 {
				value = -1
			}
			errs <- repo.Vote(ctx, user.ID, c.ID, value)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var count int64
	require.NoError(t, db.Model(&models.Vote{}).Where("user_id = ? AND comment_id = ?", user.ID, c.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCommentRepository_BookmarkIdempotent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "reader")
	c := testutil.CreateComment(t, db, 0, 0, "x")

	require.NoError(t, repo.Bookmark(ctx, user.ID, c.ID))
	require.NoError(t, repo.Bookmark(ctx, user.ID, c.ID))

	var count int64
	require.NoError(t, db.Model(&models.Bookmark{}).Where("comment_id = ?", c.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.Unbookmark(ctx, user.ID, c.ID))
	view, err := repo.GetByID(ctx, c.ID, user.ID)
	require.NoError(t, err)
	assert.False(t, view.IsBookmarked)
}

func TestCommentRepository_DeleteCascades(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "u")
	root := testutil.CreateComment(t, db, 0, 0, "root")
	child := testutil.CreateComment(t, db, 0, root.ID, "child")
	grandchild := testutil.CreateComment(t, db, 0, child.ID, "grandchild")
	sibling := testutil.CreateComment(t, db, 0, root.ID, "sibling")
	unrelated := testutil.CreateComment(t, db, 0, 0, "unrelated")

	require.NoError(t, db.Model(grandchild).Update("attachment_file", "attachments/g.png").Error)
	require.NoError(t, repo.Vote(ctx, user.ID, grandchild.ID, 1))
	require.NoError(t, repo.Bookmark(ctx, user.ID, child.ID))
	require.NoError(t, repo.Vote(ctx, user.ID, unrelated.ID, 1))

	index, err := repo.ChildIndex(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{child.ID, sibling.ID}, index[root.ID])
	assert.Equal(t, []uint{grandchild.ID}, index[child.ID])

	removed, err := repo.Delete(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, removed, 4)
	assert.Equal(t, root.ID, removed[0].ID)
	ids := make([]uint, 0, len(removed))
	for _, r := range removed {
		ids = append(ids, r.ID)
		if r.ID == grandchild.ID {
			assert.Equal(t, "attachments/g.png", r.Attachment.File)
		}
	}
	assert.ElementsMatch(t, []uint{root.ID, child.ID, grandchild.ID, sibling.ID}, ids)

	remaining, err := repo.List(ctx, 0, ListFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, unrelated.ID, remaining[0].ID)
	assert.Equal(t, 1, remaining[0].Score)

	var votes, bookmarks int64
	require.NoError(t, db.Model(&models.Vote{}).Count(&votes).Error)
	require.NoError(t, db.Model(&models.Bookmark{}).Count(&bookmarks).Error)
	assert.Equal(t, int64(1), votes)
	assert.Zero(t, bookmarks)

	_, err = repo.Delete(ctx, root.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCommentRepository_DeepThreadDelete(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	root := testutil.CreateComment(t, db, 0, 0, "0")
	parent := root
	for i := 0; i < 200; i++ {
		parent = testutil.CreateComment(t, db, 0, parent.ID, "deeper")
	}

	removed, err := repo.Delete(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, removed, 201)

	exists, err := repo.Exists(ctx, parent.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCommentRepository_Update(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	c := testutil.CreateComment(t, db, 0, 0, "before")
	loaded, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)

	loaded.Text = "after"
	require.NoError(t, repo.Update(ctx, loaded))

	view, err := repo.GetByID(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, "after", view.Text)
	assert.WithinDuration(t, c.CreatedAt, view.CreatedAt, time.Second)
}

func TestCommentRepository_UpdateAfterDeleteIsNotFound(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	c := testutil.CreateComment(t, db, 0, 0, "before")
	loaded, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	_, err = repo.Delete(ctx, c.ID)
	require.NoError(t, err)

	loaded.Text = "after"
	assert.ErrorIs(t, repo.Update(ctx, loaded), gorm.ErrRecordNotFound)

	var count int64
	require.NoError(t, db.Model(&models.Comment{}).Where("id = ?", c.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCommentRepository_UpdateClearsOptionalColumns(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	home := "https://example.com"
	c := &models.Comment{
		UserName:   "guest",
		Email:      "guest@example.com",
		HomePage:   &home,
		Text:       "with extras",
		Attachment: models.Attachment{File: "k.txt", Name: "k.txt", Type: models.AttachmentTypeText, Size: 3, TextPreview: "abc"},
	}
	require.NoError(t, repo.Create(ctx, c))

	c.HomePage = nil
	c.Attachment = models.Attachment{}
	require.NoError(t, repo.Update(ctx, c))

	loaded, err := repo.FindByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.HomePage)
	assert.True(t, loaded.Attachment.IsZero())
	assert.Zero(t, loaded.Attachment.Size)
	assert.Equal(t, "guest", loaded.UserName)
}

func TestCommentRepository_CreateReplyToMissingParent(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	testutil.EnableForeignKeys(t, db)
	repo := NewCommentRepository(db)

	missing := uint(999)
	err := repo.Create(context.Background(), &models.Comment{
		UserName: "guest",
		Email:    "guest@example.com",
		Text:     "orphan",
		ParentID: &missing,
	})
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var count int64
	require.NoError(t, db.Model(&models.Comment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCommentRepository_ForeignKeyActions(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	testutil.EnableForeignKeys(t, db)

	author := testutil.CreateUser(t, db, "author")
	root := testutil.CreateComment(t, db, author.ID, 0, "root")
	reply := testutil.CreateComment(t, db, 0, root.ID, "reply")

	require.NoError(t, db.Delete(&models.User{}, author.ID).Error)
	var kept models.Comment
	require.NoError(t, db.First(&kept, root.ID).Error)
	assert.Nil(t, kept.UserID, "removing an account keeps its comments")

	require.NoError(t, db.Delete(&models.Comment{}, root.ID).Error)
	var count int64
	require.NoError(t, db.Model(&models.Comment{}).Where("id = ?", reply.ID).Count(&count).Error)
	assert.Zero(t, count, "removing a parent removes its replies")
}
