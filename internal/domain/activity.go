package domain

import (
	"time"

	"github.com/google/uuid"
)

// Activity describes why a change happened. Each activity is linked to at
// most one clock tick of an entity.
type Activity struct {
	ID          uuid.UUID `json:"id"`
	Description string    `json:"description"`
	Actor       string    `json:"actor"`
	CreatedAt   time.Time `json:"created_at"`
}
