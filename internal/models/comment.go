// Package models contains data structures for the comment board's domain models.
package models

import (
	"time"
)

// Attachment kinds.
const (
	AttachmentTypeImage = "image"
	AttachmentTypeText  = "text"
)

// Attachment holds the stored blob key and the metadata extracted at upload
// time. A zero File means the comment has no attachment.
type Attachment struct {
	File        string `gorm:"size:255" json:"attachment_file,omitempty"`
	Name        string `gorm:"size:255" json:"attachment_name,omitempty"`
	Type        string `gorm:"size:10" json:"attachment_type,omitempty"`
	Size        int64  `json:"attachment_size,omitempty"`
	Width       int    `json:"attachment_width,omitempty"`
	Height      int    `json:"attachment_height,omitempty"`
	TextPreview string `gorm:"type:text" json:"attachment_text_preview,omitempty"`
}

// IsZero reports whether no attachment is present.
func (a Attachment) IsZero() bool {
	return a.File == ""
}

// Comment is a single entry in the threaded board. Replies point at their
// parent through ParentID; a nil UserID marks an anonymous author or one whose
// account has been removed.
type Comment struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	UserID     *uint   `gorm:"index" json:"user"`
	UserName   string  `gorm:"size:100;not null" json:"user_name"`
	Email      string  `gorm:"size:254;not null" json:"email"`
	HomePage   *string `gorm:"size:200" json:"home_page"`
	Text       string  `gorm:"type:text;not null" json:"text"`
	ParentID   *uint   `gorm:"index" json:"parent"`
	Attachment `gorm:"embedded;embeddedPrefix:attachment_"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Relationships
	User   *User    `gorm:"foreignKey:UserID;constraint:OnDelete:SET NULL" json:"-"`
	Parent *Comment `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
}

// IsOwnedBy reports whether userID authored the comment.
func (c *Comment) IsOwnedBy(userID uint) bool {
	return userID != 0 && c.UserID != nil && *c.UserID == userID
}

// CommentView is a comment together with the values derived per request:
// the vote total and the requesting viewer's own vote and bookmark state.
type CommentView struct {
	Comment
	Score        int  `gorm:"->;-:migration" json:"score"`
	UserVote     int  `gorm:"->;-:migration" json:"user_vote"`
	IsBookmarked bool `gorm:"->;-:migration" json:"is_bookmarked"`
}
