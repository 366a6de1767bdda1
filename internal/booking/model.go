package booking

import (
	"fmt"
	"time"
)

// Role is the closed set of caller roles.
type Role string

const (
	RolePatient       Role = "Patient"
	RoleDoctor        Role = "Doctor"
	RoleManager       Role = "Manager"
	RoleAdministrator Role = "Administrator"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleManager, RoleAdministrator:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Actor is the caller identity every operation is authorized against.
// It is never persisted.
type Actor struct {
	UserID int64
	Role   Role
}

// CanAccess is the single ownership rule shared by read, update and delete:
// any non-patient role may touch any appointment, a patient only their own.
func (a Actor) CanAccess(appt *Appointment) bool {
	if a.Role != RolePatient {
		return true
	}
	return appt.PatientID == a.UserID
}

type Doctor struct {
	ID          int64
	LastName    string
	FirstName   string
	Description string
}

// DisplayName renders the doctor the way appointment listings show them.
func (d *Doctor) DisplayName() string {
	return d.LastName + " " + d.FirstName
}

type Patient struct {
	ID        int64
	LastName  string
	FirstName string
}

func (p *Patient) DisplayName() string {
	return p.LastName + " " + p.FirstName
}

type Appointment struct {
	ID        int64
	DoctorID  int64
	PatientID int64
	Date      time.Time // calendar day, midnight UTC
	Time      TimeOfDay
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppointmentDetail is an appointment enriched with denormalized display
// names for presentation.
type AppointmentDetail struct {
	Appointment
	DoctorName  string
	PatientName string
}

// CreateCommand carries a patient's booking request. The owner is always the
// authenticated patient; it is supplied separately by the caller boundary.
type CreateCommand struct {
	DoctorID int64
	Date     time.Time
	Time     TimeOfDay
}

// UpdateCommand is a partial reschedule. A nil field means "leave unchanged";
// there is no way to clear a field to empty.
type UpdateCommand struct {
	DoctorID *int64
	Date     *time.Time
	Time     *TimeOfDay
}
