package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The unique index on (doctor_id, date, time_minutes) is the authoritative
// guard against double booking. Pre-write conflict checks in the service
// are an optimization; this index is what makes the guarantee hold under
// concurrent writers.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS doctors (
		id          BIGSERIAL PRIMARY KEY,
		last_name   TEXT NOT NULL,
		first_name  TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS patients (
		id         BIGSERIAL PRIMARY KEY,
		last_name  TEXT NOT NULL,
		first_name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id           BIGSERIAL PRIMARY KEY,
		doctor_id    BIGINT NOT NULL REFERENCES doctors (id),
		patient_id   BIGINT NOT NULL REFERENCES patients (id),
		date         DATE NOT NULL,
		time_minutes SMALLINT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_appointments_slot
		ON appointments (doctor_id, date, time_minutes)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_patient
		ON appointments (patient_id, date, time_minutes)`,
}

// Migrate creates the schema if it does not exist yet.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement: %w", err)
		}
	}
	return nil
}
