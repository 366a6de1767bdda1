package booking

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDoctorNotFound      = errors.New("Doctor not found.")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all appointment persistence needed by the service.
// Create and Update must translate a violation of the (doctor_id, date,
// time) unique constraint into ErrSlotTaken; that constraint, not the
// IsSlotTaken pre-check, is the final arbiter against racing bookings.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	GetDetailByID(ctx context.Context, id int64) (*AppointmentDetail, error)

	Create(ctx context.Context, a *Appointment) (*AppointmentDetail, error)
	Update(ctx context.Context, a *Appointment) (*AppointmentDetail, error)
	Delete(ctx context.Context, id int64) error

	// IsSlotTaken reports whether a live appointment already occupies the
	// triple. A non-nil excludeID ignores that appointment, so an update
	// does not collide with its own row.
	IsSlotTaken(ctx context.Context, doctorID int64, date time.Time, t TimeOfDay, excludeID *int64) (bool, error)

	ListByDoctor(ctx context.Context, doctorID int64, date *time.Time) ([]AppointmentDetail, error)
	ListByPatient(ctx context.Context, patientID int64) ([]AppointmentDetail, error)
}

// DoctorDirectory is the read-only view of the doctor roster the booking
// core consults. Directory maintenance lives elsewhere.
type DoctorDirectory interface {
	GetDoctorByID(ctx context.Context, id int64) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)
	SearchDoctors(ctx context.Context, lastName, firstName string) ([]Doctor, error)
}
