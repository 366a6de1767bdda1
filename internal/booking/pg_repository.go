package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var minutes int16

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.Date,
		&minutes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = DateOf(a.Date)
	a.Time = TimeOfDay(minutes)
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var minutes int16
	var doc Doctor
	var pat Patient

	err := row.Scan(
		&d.ID,
		&d.DoctorID,
		&d.PatientID,
		&d.Date,
		&minutes,
		&d.CreatedAt,
		&d.UpdatedAt,
		&doc.LastName,
		&doc.FirstName,
		&pat.LastName,
		&pat.FirstName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	d.Date = DateOf(d.Date)
	d.Time = TimeOfDay(minutes)
	d.DoctorName = doc.DisplayName()
	d.PatientName = pat.DisplayName()
	return &d, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor

	err := row.Scan(
		&d.ID,
		&d.LastName,
		&d.FirstName,
		&d.Description,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	return &d, nil
}

// isUniqueViolation reports whether err is the slot uniqueness constraint
// firing at commit. That path is the authoritative conflict signal, so the
// caller maps it to ErrSlotTaken rather than a storage error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

const detailSelect = `
	SELECT a.id, a.doctor_id, a.patient_id, a.date, a.time_minutes,
	       a.created_at, a.updated_at,
	       d.last_name, d.first_name,
	       p.last_name, p.first_name
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id
`

// Repository methods

func (r *PgRepository) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, doctor_id, patient_id, date, time_minutes, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetDetailByID(ctx context.Context, id int64) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, detailSelect+`WHERE a.id = $1`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) Create(ctx context.Context, a *Appointment) (*AppointmentDetail, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (doctor_id, patient_id, date, time_minutes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		RETURNING id
	`, a.DoctorID, a.PatientID, a.Date, int16(a.Time))

	if err := row.Scan(&a.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	return r.GetDetailByID(ctx, a.ID)
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment) (*AppointmentDetail, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET doctor_id = $2,
		    date = $3,
		    time_minutes = $4,
		    updated_at = now()
		WHERE id = $1
	`, a.ID, a.DoctorID, a.Date, int16(a.Time))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrAppointmentNotFound
	}

	return r.GetDetailByID(ctx, a.ID)
}

func (r *PgRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) IsSlotTaken(ctx context.Context, doctorID int64, date time.Time, t TimeOfDay, excludeID *int64) (bool, error) {
	var taken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND date = $2 AND time_minutes = $3
			  AND ($4::bigint IS NULL OR id <> $4)
		)
	`, doctorID, date, int16(t), excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot taken: %w", err)
	}
	return taken, nil
}

func (r *PgRepository) ListByDoctor(ctx context.Context, doctorID int64, date *time.Time) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+`
		WHERE a.doctor_id = $1
		  AND ($2::date IS NULL OR a.date = $2)
		ORDER BY a.date, a.time_minutes
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDetails(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID int64) ([]AppointmentDetail, error) {
	rows, err := r.pool.Query(ctx, detailSelect+`
		WHERE a.patient_id = $1
		ORDER BY a.date, a.time_minutes
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDetails(rows)
}

func collectDetails(rows pgx.Rows) ([]AppointmentDetail, error) {
	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// DoctorDirectory methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id int64) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, last_name, first_name, description
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, last_name, first_name, description
		FROM doctors
		ORDER BY last_name, first_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDoctors(rows)
}

func (r *PgRepository) SearchDoctors(ctx context.Context, lastName, firstName string) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, last_name, first_name, description
		FROM doctors
		WHERE ($1 = '' OR last_name ILIKE $1 || '%')
		  AND ($2 = '' OR first_name ILIKE $2 || '%')
		ORDER BY last_name, first_name
	`, lastName, firstName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectDoctors(rows)
}

func collectDoctors(rows pgx.Rows) ([]Doctor, error) {
	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
