package types

import "time"

// User is the persisted view of an identity handed out by the auth provider.
// DisplayName is mutable via set-name; IsAdmin is refreshed on every connect.
type User struct {
	Id          string    `json:"id" gorm:"primaryKey;size:190"`
	DisplayName string    `json:"name" gorm:"size:128;not null"`
	IsAdmin     bool      `json:"isAdmin" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`
}
