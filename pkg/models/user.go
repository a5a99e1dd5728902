package models

import (
	"time"

	"github.com/google/uuid"
)

// User owns snapshots and API keys. There is no password login; access is
// granted exclusively through API keys tied to a user.
type User struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Email     string    `db:"email"      json:"email"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
