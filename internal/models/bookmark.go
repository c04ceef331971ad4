package models

import "time"

// Bookmark marks a comment as saved by a user.
// The combination of UserID and CommentID must be unique.
type Bookmark struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_bookmark_user_comment" json:"user_id"`
	CommentID uint      `gorm:"not null;uniqueIndex:idx_bookmark_user_comment;index" json:"comment_id"`
	CreatedAt time.Time `json:"created_at"`

	// Relationships
	User    User    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Comment Comment `gorm:"foreignKey:CommentID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Bookmark) TableName() string {
	return "comment_bookmarks"
}
