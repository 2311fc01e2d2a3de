package catalog

import (
	"time"

	"github.com/google/uuid"
)

type Professional struct {
	ID        uuid.UUID
	Name      string
	Specialty string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Room struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
