package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	ErrProfessionalNotFound    = errors.New("professional not found")
	ErrProfessionalInactive    = errors.New("professional is inactive")
	ErrRoomNotFound            = errors.New("room not found")
	ErrRoomInactive            = errors.New("room is inactive")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrIncompatibleSpecialty   = errors.New("professional specialty incompatible with appointment type")
	ErrUnknownAppointmentType  = errors.New("unknown appointment type")
)

// DB is the subset of pgxpool.Pool the validator needs.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Validator checks resource eligibility before the coordinator commits:
// the professional exists, is active, and carries a specialty allowed for
// the appointment type; the room (when requested) exists and is active.
type Validator struct {
	db DB
}

func NewValidator(db DB) *Validator {
	return &Validator{db: db}
}

func (v *Validator) CheckCreate(ctx context.Context, patientID, professionalID uuid.UUID, roomID *uuid.UUID, appointmentType string) error {
	if err := v.checkPatient(ctx, patientID); err != nil {
		return err
	}

	prof, err := v.GetProfessional(ctx, professionalID)
	if err != nil {
		return err
	}
	if !prof.Active {
		return fmt.Errorf("%w: %s", ErrProfessionalInactive, professionalID)
	}

	if err := v.checkSpecialty(ctx, appointmentType, prof.Specialty); err != nil {
		return err
	}

	if roomID != nil {
		room, err := v.GetRoom(ctx, *roomID)
		if err != nil {
			return err
		}
		if !room.Active {
			return fmt.Errorf("%w: %s", ErrRoomInactive, *roomID)
		}
	}

	return nil
}

func (v *Validator) GetProfessional(ctx context.Context, id uuid.UUID) (*Professional, error) {
	var p Professional
	err := v.db.QueryRow(ctx, `
		SELECT id, name, specialty, active, created_at, updated_at
		FROM professionals
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Specialty, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrProfessionalNotFound, id)
		}
		return nil, fmt.Errorf("load professional: %w", err)
	}
	return &p, nil
}

func (v *Validator) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	var r Room
	err := v.db.QueryRow(ctx, `
		SELECT id, name, active, created_at, updated_at
		FROM rooms
		WHERE id = $1
	`, id).Scan(&r.ID, &r.Name, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
		}
		return nil, fmt.Errorf("load room: %w", err)
	}
	return &r, nil
}

func (v *Validator) checkPatient(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := v.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM patients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("load patient: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrPatientNotFound, id)
	}
	return nil
}

// checkSpecialty consults appointment_type_specialties: rows restrict a
// type to listed specialties, no rows means any specialty may take it.
func (v *Validator) checkSpecialty(ctx context.Context, appointmentType, specialty string) error {
	var restricted, allowed bool
	err := v.db.QueryRow(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM appointment_type_specialties WHERE appointment_type = $1),
			EXISTS(SELECT 1 FROM appointment_type_specialties WHERE appointment_type = $1 AND specialty = $2)
	`, appointmentType, specialty).Scan(&restricted, &allowed)
	if err != nil {
		return fmt.Errorf("load specialty compatibility: %w", err)
	}
	if restricted && !allowed {
		return fmt.Errorf("%w: %q cannot take %q", ErrIncompatibleSpecialty, specialty, appointmentType)
	}
	return nil
}
