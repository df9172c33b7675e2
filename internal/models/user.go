package models

import "time"

// User is the public part of an account owned by the auth service.
type User struct {
	ID             string    `db:"id" json:"_id"`
	Username       string    `db:"username" json:"username"`
	Email          string    `db:"email" json:"email"`
	ProfilePicture string    `db:"profile_picture" json:"profilePicture"`
	Bio            string    `db:"bio" json:"bio"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Summary projects the fields shown next to a message.
func (u User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Username: u.Username, ProfilePicture: u.ProfilePicture}
}

// UserSummary is the display identity of a message participant.
type UserSummary struct {
	ID             string `json:"_id"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
}
