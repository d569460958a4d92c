// Package domain contains core domain types for the CBT research service.
package domain

import (
	"time"
)

// Participant is an anonymous device identity known to the store.
type Participant struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// IdleFor returns how long the participant has been inactive as of now.
func (p *Participant) IdleFor(now time.Time) time.Duration {
	d := now.Sub(p.LastSeenAt)
	if d < 0 {
		return 0
	}
	return d
}
