package model

import "time"

// Chat is a persisted conversation thread. Components outside storage refer
// to it by UUID only.
type Chat struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatRef pairs the storage id with the stable external id.
type ChatRef struct {
	IntID int64
	UUID  string
}
