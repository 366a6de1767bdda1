package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/clinicdesk/appointment-booking/internal/redis"
)

var (
	ErrBookPastDate    = errors.New("Cannot book appointments in the past.")
	ErrMoveToPastDate  = errors.New("Cannot move appointment to date in the past.")
	ErrInvalidSlotTime = errors.New("Invalid appointment time. Only :00 or :30 from 8:00 to 18:30 allowed.")
	ErrSlotTaken       = errors.New("This time slot is already taken.")
)

type Service struct {
	repo    Repository
	doctors DoctorDirectory
	locker  redisclient.Locker
	log     *zap.Logger
}

func NewService(repo Repository, doctors DoctorDirectory, locker redisclient.Locker, log *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		doctors: doctors,
		locker:  locker,
		log:     log,
	}
}

// Create books a slot for the authenticated patient. Validation happens
// before anything is written; the slot pre-check runs under a per-slot lock
// as a fast rejection path, and the unique constraint on (doctor, date,
// time) settles whatever races past it.
func (s *Service) Create(ctx context.Context, cmd CreateCommand, patientID int64) (*AppointmentDetail, error) {
	date := DateOf(cmd.Date)
	if date.Before(Today()) {
		return nil, ErrBookPastDate
	}
	if !IsValidSlot(cmd.Time) {
		return nil, ErrInvalidSlotTime
	}

	if _, err := s.doctors.GetDoctorByID(ctx, cmd.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	appt := &Appointment{
		DoctorID:  cmd.DoctorID,
		PatientID: patientID,
		Date:      date,
		Time:      cmd.Time,
	}

	var created *AppointmentDetail

	err := s.locker.WithLock(ctx, slotLockKey(appt.DoctorID, date, appt.Time), func(lockCtx context.Context) error {
		taken, err := s.repo.IsSlotTaken(lockCtx, appt.DoctorID, date, appt.Time, nil)
		if err != nil {
			return fmt.Errorf("check slot: %w", err)
		}
		if taken {
			return ErrSlotTaken
		}

		created, err = s.repo.Create(lockCtx, appt)
		if err != nil {
			return err
		}
		return nil
	})

	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		// Another caller holds the slot lock. Skip the pre-check and let
		// the unique constraint decide; a loss surfaces as ErrSlotTaken.
		created, err = s.repo.Create(ctx, appt)
	}
	if err != nil {
		if !errors.Is(err, ErrSlotTaken) {
			s.log.Error("create appointment failed",
				zap.Int64("doctor_id", cmd.DoctorID),
				zap.Int64("patient_id", patientID),
				zap.Error(err))
		}
		return nil, err
	}

	return created, nil
}

// GetByID returns the appointment if the caller may see it. A patient
// asking for someone else's appointment gets the same ErrAppointmentNotFound
// as a missing id, so existence never leaks.
func (s *Service) GetByID(ctx context.Context, id int64, actor Actor) (*AppointmentDetail, error) {
	detail, err := s.repo.GetDetailByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(&detail.Appointment) {
		return nil, ErrAppointmentNotFound
	}
	return detail, nil
}

// Update reschedules an appointment. Absent fields keep their current
// values. The effective triple is only checked for conflicts when it
// actually differs from the appointment's own slot.
func (s *Service) Update(ctx context.Context, id int64, cmd UpdateCommand, actor Actor) (*AppointmentDetail, error) {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(appt) {
		return nil, ErrAppointmentNotFound
	}

	newDoctorID := appt.DoctorID
	if cmd.DoctorID != nil {
		newDoctorID = *cmd.DoctorID
	}
	newDate := appt.Date
	if cmd.Date != nil {
		newDate = DateOf(*cmd.Date)
	}
	newTime := appt.Time
	if cmd.Time != nil {
		newTime = *cmd.Time
	}

	if newDate.Before(Today()) {
		return nil, ErrMoveToPastDate
	}
	if cmd.Time != nil && !IsValidSlot(newTime) {
		return nil, ErrInvalidSlotTime
	}
	if cmd.DoctorID != nil && newDoctorID != appt.DoctorID {
		if _, err := s.doctors.GetDoctorByID(ctx, newDoctorID); err != nil {
			if errors.Is(err, ErrDoctorNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("load doctor: %w", err)
		}
	}

	slotChanged := newDoctorID != appt.DoctorID || !newDate.Equal(appt.Date) || newTime != appt.Time

	appt.DoctorID = newDoctorID
	appt.Date = newDate
	appt.Time = newTime

	if !slotChanged {
		// Writing the appointment back to its own unchanged slot can never
		// conflict with itself.
		return s.repo.Update(ctx, appt)
	}

	var updated *AppointmentDetail

	err = s.locker.WithLock(ctx, slotLockKey(newDoctorID, newDate, newTime), func(lockCtx context.Context) error {
		taken, err := s.repo.IsSlotTaken(lockCtx, newDoctorID, newDate, newTime, &appt.ID)
		if err != nil {
			return fmt.Errorf("check slot: %w", err)
		}
		if taken {
			return ErrSlotTaken
		}

		updated, err = s.repo.Update(lockCtx, appt)
		if err != nil {
			return err
		}
		return nil
	})

	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		updated, err = s.repo.Update(ctx, appt)
	}
	if err != nil {
		if !errors.Is(err, ErrSlotTaken) {
			s.log.Error("update appointment failed", zap.Int64("appointment_id", id), zap.Error(err))
		}
		return nil, err
	}

	return updated, nil
}

// Delete permanently removes an appointment under the same ownership rule
// as read and update.
func (s *Service) Delete(ctx context.Context, id int64, actor Actor) error {
	appt, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !actor.CanAccess(appt) {
		return ErrAppointmentNotFound
	}
	return s.repo.Delete(ctx, id)
}

// ListByDoctor returns a doctor's appointments, optionally for one day.
// Who may call this is the routing boundary's decision.
func (s *Service) ListByDoctor(ctx context.Context, doctorID int64, date *time.Time) ([]AppointmentDetail, error) {
	if date != nil {
		day := DateOf(*date)
		date = &day
	}
	appts, err := s.repo.ListByDoctor(ctx, doctorID, date)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appts, nil
}

// ListByPatient returns every appointment owned by the patient.
func (s *Service) ListByPatient(ctx context.Context, patientID int64) ([]AppointmentDetail, error) {
	appts, err := s.repo.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appts, nil
}

// GetDoctor resolves a doctor from the read-only directory.
func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.doctors.GetDoctorByID(ctx, id)
}

// ListDoctors returns the bookable roster.
func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.doctors.ListDoctors(ctx)
}

// SearchDoctors filters the roster by name fragments.
func (s *Service) SearchDoctors(ctx context.Context, lastName, firstName string) ([]Doctor, error) {
	return s.doctors.SearchDoctors(ctx, lastName, firstName)
}

func slotLockKey(doctorID int64, date time.Time, t TimeOfDay) string {
	return fmt.Sprintf("lock:slot:%d:%s:%s", doctorID, FormatDate(date), t)
}
