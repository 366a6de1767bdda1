package api

import (
	"time"

	"github.com/clinicdesk/appointment-booking/internal/booking"
)

type CreateAppointmentRequest struct {
	DoctorID int64  `json:"doctor_id"`
	Date     string `json:"date"` // YYYY-MM-DD
	Time     string `json:"time"` // HH:MM
}

// UpdateAppointmentRequest is a partial change: an absent field leaves the
// stored value untouched.
type UpdateAppointmentRequest struct {
	DoctorID *int64  `json:"doctor_id,omitempty"`
	Date     *string `json:"date,omitempty"`
	Time     *string `json:"time,omitempty"`
}

type AppointmentResponse struct {
	ID          int64  `json:"id"`
	DoctorID    int64  `json:"doctor_id"`
	DoctorName  string `json:"doctor_name"`
	PatientID   int64  `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

type DoctorResponse struct {
	ID          int64  `json:"id"`
	LastName    string `json:"last_name"`
	FirstName   string `json:"first_name"`
	Description string `json:"description"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(d *booking.AppointmentDetail) AppointmentResponse {
	return AppointmentResponse{
		ID:          d.ID,
		DoctorID:    d.DoctorID,
		DoctorName:  d.DoctorName,
		PatientID:   d.PatientID,
		PatientName: d.PatientName,
		Date:        booking.FormatDate(d.Date),
		Time:        d.Time.String(),
	}
}

func toAppointmentResponses(details []booking.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(details))
	for i := range details {
		out = append(out, toAppointmentResponse(&details[i]))
	}
	return out
}

func toDoctorResponse(d *booking.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:          d.ID,
		LastName:    d.LastName,
		FirstName:   d.FirstName,
		Description: d.Description,
	}
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := booking.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
