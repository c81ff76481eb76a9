package domain

import (
	"strconv"
	"time"
)

// UserID is the stable numeric identity assigned by the transport.
type UserID int64

// String returns the decimal form of the id.
func (id UserID) String() string { return strconv.FormatInt(int64(id), 10) }

// Profile is what a transport knows about a participant at event time.
type Profile struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
	Handle      string `json:"handle,omitempty"`
}

// User is a registered participant.
type User struct {
	ID          UserID    `json:"id"`
	DisplayName string    `json:"displayName"`
	Handle      string    `json:"handle,omitempty"`
	JoinedAt    time.Time `json:"joinedAt"`
	LinkToken   string    `json:"linkToken,omitempty"`
	IsOperator  bool      `json:"isOperator,omitempty"`
}

// Profile returns the user's identity fields.
func (u User) Profile() Profile {
	return Profile{ID: u.ID, DisplayName: u.DisplayName, Handle: u.Handle}
}
