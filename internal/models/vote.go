package models

import "time"

// Vote values.
const (
	VoteUp   = 1
	VoteDown = -1
)

// Vote is a user's +1/-1 on a comment. The combination of UserID and
// CommentID is unique; voting again replaces the value.
type Vote struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_vote_user_comment" json:"user_id"`
	CommentID uint      `gorm:"not null;uniqueIndex:idx_vote_user_comment;index" json:"comment_id"`
	Value     int       `gorm:"not null" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	User    User    `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	Comment Comment `gorm:"foreignKey:CommentID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName keeps votes namespaced next to comments.
func (Vote) TableName() string {
	return "comment_votes"
}

// ValidVote reports whether v is an accepted vote value.
func ValidVote(v int) bool {
	return v == VoteUp || v == VoteDown
}
