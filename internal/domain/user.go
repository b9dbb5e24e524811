package domain

import (
	"time"

	"github.com/google/uuid"
)

// Starting balance for new accounts, enough for a couple dozen image
// generations.
const InitialCredits = 200

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	Name      string    `json:"name"`
	Credits   int       `gorm:"not null;default:200" json:"credits"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
