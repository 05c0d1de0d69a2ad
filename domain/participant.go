// Package domain contains core concepts of the inbox.
// This file defines the read-only views of external collaborators:
// user profiles from the identity provider and listings from the property catalog.
package domain

// Profile is what the identity provider knows about a user.
type Profile struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	AvatarURL   string   `json:"avatarUrl"`
	PlanTier    PlanTier `json:"planTier"`
}

// Property is the catalog projection needed by property threads. Never mutated here.
type Property struct {
	ID         string `json:"id"`
	OwnerID    string `json:"ownerId"`
	Title      string `json:"title"`
	CoverImage string `json:"coverImage"`
}
