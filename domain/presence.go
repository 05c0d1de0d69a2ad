package domain

import "time"

// Presence tells whether a user currently holds a live subscription.
// LastSeen is nil for users never seen since the process started.
type Presence struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}
