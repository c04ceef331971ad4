package models

import "time"

// User is an account known to the board. Accounts are issued by the
// identity provider; the board only keeps what it needs to attribute
// comments and resolve token subjects.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"size:150;uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"size:254" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Viewer identifies who is making a request. The zero value is anonymous.
type Viewer struct {
	UserID   uint
	Username string
}

// Anonymous is the viewer used when no valid credentials were presented.
var Anonymous = Viewer{}

// IsAuthenticated reports whether the viewer is a known user.
func (v Viewer) IsAuthenticated() bool {
	return v.UserID != 0
}
