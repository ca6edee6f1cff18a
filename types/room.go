package types

import "time"

// Room is a persistent chat channel identified externally by Code. The first
// user to join an unknown code becomes its owner.
type Room struct {
	Id        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Code      string    `json:"code" gorm:"size:64;uniqueIndex;not null"`
	OwnerId   string    `json:"ownerId" gorm:"size:190;not null"`
	CreatedAt time.Time `json:"createdAt"`
}

// Membership records that a user has joined a room at least once. It says
// nothing about whether the user is online.
type Membership struct {
	UserId    string    `gorm:"primaryKey;size:190"`
	RoomId    uint64    `gorm:"primaryKey"`
	CreatedAt time.Time
}
