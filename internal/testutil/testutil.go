// Package testutil provides shared test doubles and fixtures for backend tests.
package testutil

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"sort"
	"sync"
	"testing"

	"threadboard/internal/database"
	"threadboard/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB opens a migrated in-memory database private to the test.
func NewSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: database.NewGormLogger(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection to ":memory:" would be a separate database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// EnableForeignKeys turns on constraint enforcement for db, which sqlite
// leaves off by default.
func EnableForeignKeys(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Exec("PRAGMA foreign_keys = ON").Error)
}

// CreateUser inserts a user with the given username.
func CreateUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := &models.User{Username: username, Email: username + "@example.com"}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateComment inserts a comment authored by userID (0 for anonymous)
// replying to parentID (0 for a root comment).
func CreateComment(t *testing.T, db *gorm.DB, userID, parentID uint, text string) *models.Comment {
	t.Helper()
	comment := &models.Comment{
		UserName: "guest",
		Email:    "guest@example.com",
		Text:     text,
	}
	if userID != 0 {
		comment.UserID = &userID
	}
	if parentID != 0 {
		comment.ParentID = &parentID
	}
	require.NoError(t, db.Create(comment).Error)
	return comment
}

// PNG returns an encoded PNG image of the given size.
func PNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, height))))
	return buf.Bytes()
}

// MemoryStore is an in-memory attachment store.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	nextID  int
	// FailSave makes every Save call fail when set.
	FailSave bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Save stores the content under a generated key.
func (s *MemoryStore) Save(_ context.Context, name string, r io.Reader, _ int64, _ string) (string, error) {
	if s.FailSave {
		return "", fmt.Errorf("store unavailable")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	key := fmt.Sprintf("attachments/%d-%s", s.nextID, name)
	s.objects[key] = data
	return key, nil
}

// Delete removes the object stored under key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// URL returns a path below /media for key.
func (s *MemoryStore) URL(key string) string {
	return "/media/" + key
}

// Keys lists stored keys in order.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns the stored content for key.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	return data, ok
}
