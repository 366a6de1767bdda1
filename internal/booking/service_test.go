package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	redisclient "github.com/clinicdesk/appointment-booking/internal/redis"
)

// -- Mocks --

// mockRepo enforces slot uniqueness under a mutex, the same way the
// database constraint does, so concurrent create attempts behave like the
// real thing.
type mockRepo struct {
	mu     sync.Mutex
	nextID int64
	appts  map[int64]*Appointment

	doctorNames  map[int64]string
	patientNames map[int64]string
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		appts:        make(map[int64]*Appointment),
		doctorNames:  make(map[int64]string),
		patientNames: make(map[int64]string),
	}
}

func (m *mockRepo) detail(a *Appointment) *AppointmentDetail {
	doctorName := m.doctorNames[a.DoctorID]
	if doctorName == "" {
		doctorName = fmt.Sprintf("Doctor %d", a.DoctorID)
	}
	patientName := m.patientNames[a.PatientID]
	if patientName == "" {
		patientName = fmt.Sprintf("Patient %d", a.PatientID)
	}
	cp := *a
	return &AppointmentDetail{Appointment: cp, DoctorName: doctorName, PatientName: patientName}
}

func (m *mockRepo) GetByID(_ context.Context, id int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetDetailByID(_ context.Context, id int64) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return m.detail(a), nil
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.appts {
		if other.DoctorID == a.DoctorID && other.Date.Equal(a.Date) && other.Time == a.Time {
			return nil, ErrSlotTaken
		}
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.appts[a.ID] = &cp
	return m.detail(&cp), nil
}

func (m *mockRepo) Update(_ context.Context, a *Appointment) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[a.ID]; !ok {
		return nil, ErrAppointmentNotFound
	}
	for _, other := range m.appts {
		if other.ID != a.ID && other.DoctorID == a.DoctorID && other.Date.Equal(a.Date) && other.Time == a.Time {
			return nil, ErrSlotTaken
		}
	}
	a.UpdatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return m.detail(&cp), nil
}

func (m *mockRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appts[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appts, id)
	return nil
}

func (m *mockRepo) IsSlotTaken(_ context.Context, doctorID int64, date time.Time, t TimeOfDay, excludeID *int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.Time == t {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) ListByDoctor(_ context.Context, doctorID int64, date *time.Time) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range m.appts {
		if a.DoctorID != doctorID {
			continue
		}
		if date != nil && !a.Date.Equal(*date) {
			continue
		}
		out = append(out, *m.detail(a))
	}
	return out, nil
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID int64) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range m.appts {
		if a.PatientID == patientID {
			out = append(out, *m.detail(a))
		}
	}
	return out, nil
}

type mockDirectory struct {
	doctors map[int64]Doctor
}

func newMockDirectory(ids ...int64) *mockDirectory {
	d := &mockDirectory{doctors: make(map[int64]Doctor)}
	for _, id := range ids {
		d.doctors[id] = Doctor{ID: id, LastName: "House", FirstName: "Gregory"}
	}
	return d
}

func (d *mockDirectory) GetDoctorByID(_ context.Context, id int64) (*Doctor, error) {
	doc, ok := d.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &doc, nil
}

func (d *mockDirectory) ListDoctors(_ context.Context) ([]Doctor, error) {
	var out []Doctor
	for _, doc := range d.doctors {
		out = append(out, doc)
	}
	return out, nil
}

func (d *mockDirectory) SearchDoctors(_ context.Context, _, _ string) ([]Doctor, error) {
	return d.ListDoctors(context.Background())
}

// passLocker always grants the lock.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// busyLocker never grants the lock, forcing the constraint-only write path.
type busyLocker struct{}

func (busyLocker) WithLock(context.Context, string, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func newTestService(repo *mockRepo, dir *mockDirectory) *Service {
	return NewService(repo, dir, passLocker{}, zap.NewNop())
}

func tomorrow() time.Time  { return Today().AddDate(0, 0, 1) }
func yesterday() time.Time { return Today().AddDate(0, 0, -1) }

// -- Create --

func TestCreateSuccess(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	cmd := CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}
	got, err := svc.Create(context.Background(), cmd, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got.DoctorID != 1 || !got.Date.Equal(tomorrow()) || got.Time != NewTimeOfDay(10, 0) {
		t.Errorf("created slot %d %s %s does not match request", got.DoctorID, FormatDate(got.Date), got.Time)
	}
	if got.PatientID != 5 {
		t.Errorf("owner = %d, want the authenticated patient 5", got.PatientID)
	}
	if got.ID == 0 {
		t.Error("id was not assigned")
	}
	if got.DoctorName == "" || got.PatientName == "" {
		t.Error("display names were not denormalized")
	}
}

func TestCreateReadAfterWrite(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(9, 30)}, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	read, err := svc.GetByID(context.Background(), created.ID, Actor{UserID: 5, Role: RolePatient})
	if err != nil {
		t.Fatalf("GetByID after create: %v", err)
	}

	if *read != *created {
		t.Errorf("read-after-write mismatch:\n created %+v\n read    %+v", created, read)
	}
}

func TestCreatePastDate(t *testing.T) {
	svc := newTestService(newMockRepo(), newMockDirectory(1))

	_, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: yesterday(), Time: NewTimeOfDay(10, 0)}, 5)
	if !errors.Is(err, ErrBookPastDate) {
		t.Fatalf("err = %v, want ErrBookPastDate", err)
	}
	if err.Error() != "Cannot book appointments in the past." {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCreateInvalidTime(t *testing.T) {
	svc := newTestService(newMockRepo(), newMockDirectory(1))

	for _, bad := range []TimeOfDay{NewTimeOfDay(19, 0), NewTimeOfDay(7, 30), NewTimeOfDay(8, 15), NewTimeOfDay(18, 31)} {
		_, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: Today(), Time: bad}, 5)
		if !errors.Is(err, ErrInvalidSlotTime) {
			t.Errorf("time %s: err = %v, want ErrInvalidSlotTime", bad, err)
		}
	}

	_, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: Today(), Time: NewTimeOfDay(19, 0)}, 5)
	if err == nil || err.Error() != "Invalid appointment time. Only :00 or :30 from 8:00 to 18:30 allowed." {
		t.Errorf("message = %v", err)
	}
}

func TestCreateTodayIsBookable(t *testing.T) {
	svc := newTestService(newMockRepo(), newMockDirectory(1))

	if _, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: Today(), Time: NewTimeOfDay(18, 30)}, 5); err != nil {
		t.Fatalf("booking today at closing time: %v", err)
	}
}

func TestCreateUnknownDoctor(t *testing.T) {
	svc := newTestService(newMockRepo(), newMockDirectory(1))

	_, err := svc.Create(context.Background(), CreateCommand{DoctorID: 99, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 5)
	if !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("err = %v, want ErrDoctorNotFound", err)
	}
}

func TestCreateSlotTaken(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	cmd := CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}
	if _, err := svc.Create(context.Background(), cmd, 5); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := svc.Create(context.Background(), cmd, 7)
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}
	if err.Error() != "This time slot is already taken." {
		t.Errorf("message = %q", err.Error())
	}
}

func TestCreateConcurrentSameSlot(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	cmd := CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}

	const callers = 20
	var (
		wg        sync.WaitGroup
		successes int64
		conflicts int64
		mu        sync.Mutex
	)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(patientID int64) {
			defer wg.Done()
			_, err := svc.Create(context.Background(), cmd, patientID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSlotTaken):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if conflicts != callers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, callers-1)
	}
}

// Lock contention must not surface as an error: the write goes through and
// the uniqueness constraint arbitrates.
func TestCreateWhenLockContended(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, newMockDirectory(1), busyLocker{}, zap.NewNop())

	cmd := CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}
	if _, err := svc.Create(context.Background(), cmd, 5); err != nil {
		t.Fatalf("create without lock: %v", err)
	}

	_, err := svc.Create(context.Background(), cmd, 7)
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken from the constraint path", err)
	}
}

// -- GetByID --

func TestGetByIDOwnershipShapedAsAbsence(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Patient 5 asking for patient 7's appointment gets the same answer as
	// asking for an id that does not exist.
	_, errForeign := svc.GetByID(context.Background(), created.ID, Actor{UserID: 5, Role: RolePatient})
	_, errMissing := svc.GetByID(context.Background(), created.ID+1000, Actor{UserID: 5, Role: RolePatient})

	if !errors.Is(errForeign, ErrAppointmentNotFound) {
		t.Errorf("foreign read err = %v, want ErrAppointmentNotFound", errForeign)
	}
	if !errors.Is(errMissing, ErrAppointmentNotFound) {
		t.Errorf("missing read err = %v, want ErrAppointmentNotFound", errMissing)
	}

	// Every other role may read it.
	for _, role := range []Role{RoleDoctor, RoleManager, RoleAdministrator} {
		if _, err := svc.GetByID(context.Background(), created.ID, Actor{UserID: 5, Role: role}); err != nil {
			t.Errorf("role %s read err = %v", role, err)
		}
	}
}

// -- Update --

func TestUpdatePartialDefaultsToCurrent(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1, 2))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newTime := NewTimeOfDay(11, 30)
	got, err := svc.Update(context.Background(), created.ID, UpdateCommand{Time: &newTime}, Actor{UserID: 5, Role: RolePatient})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if got.DoctorID != 1 || !got.Date.Equal(tomorrow()) {
		t.Errorf("omitted fields changed: doctor=%d date=%s", got.DoctorID, FormatDate(got.Date))
	}
	if got.Time != newTime {
		t.Errorf("time = %s, want %s", got.Time, newTime)
	}
}

func TestUpdateNoChangesNeverConflictsWithItself(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Update(context.Background(), created.ID, UpdateCommand{}, Actor{UserID: 5, Role: RolePatient}); err != nil {
		t.Fatalf("no-op update: %v", err)
	}

	// Explicitly restating the current slot is also not a conflict.
	sameTime := created.Time
	sameDate := created.Date
	sameDoctor := created.DoctorID
	cmd := UpdateCommand{DoctorID: &sameDoctor, Date: &sameDate, Time: &sameTime}
	if _, err := svc.Update(context.Background(), created.ID, cmd, Actor{UserID: 5, Role: RolePatient}); err != nil {
		t.Fatalf("same-slot update: %v", err)
	}
}

func TestUpdateToTakenSlot(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	taken, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mine, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(11, 0)}, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	target := taken.Time
	_, err = svc.Update(context.Background(), mine.ID, UpdateCommand{Time: &target}, Actor{UserID: 5, Role: RolePatient})
	if !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("err = %v, want ErrSlotTaken", err)
	}
}

func TestUpdatePastDate(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	past := yesterday()
	_, err = svc.Update(context.Background(), created.ID, UpdateCommand{Date: &past}, Actor{UserID: 5, Role: RolePatient})
	if !errors.Is(err, ErrMoveToPastDate) {
		t.Fatalf("err = %v, want ErrMoveToPastDate", err)
	}
	if err.Error() != "Cannot move appointment to date in the past." {
		t.Errorf("message = %q", err.Error())
	}
}

func TestUpdateChangedDoctorMustExist(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ghost := int64(42)
	_, err = svc.Update(context.Background(), created.ID, UpdateCommand{DoctorID: &ghost}, Actor{UserID: 5, Role: RolePatient})
	if !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("err = %v, want ErrDoctorNotFound", err)
	}
}

func TestUpdateByAdministratorIgnoresOwnership(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := Today().AddDate(0, 0, 2)
	got, err := svc.Update(context.Background(), created.ID, UpdateCommand{Date: &later}, Actor{UserID: 1, Role: RoleAdministrator})
	if err != nil {
		t.Fatalf("administrator update: %v", err)
	}
	if !got.Date.Equal(later) {
		t.Errorf("date = %s, want %s", FormatDate(got.Date), FormatDate(later))
	}
	if got.PatientID != 7 {
		t.Errorf("ownership changed: patient = %d", got.PatientID)
	}
}

func TestUpdateForeignAppointmentAsPatient(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	later := Today().AddDate(0, 0, 2)
	_, err = svc.Update(context.Background(), created.ID, UpdateCommand{Date: &later}, Actor{UserID: 5, Role: RolePatient})
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("err = %v, want ErrAppointmentNotFound", err)
	}
}

// -- Delete --

func TestDelete(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1))

	created, err := svc.Create(context.Background(), CreateCommand{DoctorID: 1, Date: tomorrow(), Time: NewTimeOfDay(10, 0)}, 7)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A stranger patient cannot delete it, and cannot learn it exists.
	if err := svc.Delete(context.Background(), created.ID, Actor{UserID: 5, Role: RolePatient}); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("foreign delete err = %v, want ErrAppointmentNotFound", err)
	}

	if err := svc.Delete(context.Background(), created.ID, Actor{UserID: 7, Role: RolePatient}); err != nil {
		t.Fatalf("owner delete: %v", err)
	}

	// Removal is permanent.
	if _, err := svc.GetByID(context.Background(), created.ID, Actor{UserID: 1, Role: RoleAdministrator}); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("read after delete err = %v, want ErrAppointmentNotFound", err)
	}

	if err := svc.Delete(context.Background(), created.ID, Actor{UserID: 7, Role: RolePatient}); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("second delete err = %v, want ErrAppointmentNotFound", err)
	}
}

// -- Lists --

func TestListByDoctorAndPatient(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, newMockDirectory(1, 2))

	d1 := tomorrow()
	d2 := Today().AddDate(0, 0, 2)

	mustCreate := func(doctorID int64, date time.Time, tod TimeOfDay, patientID int64) {
		t.Helper()
		if _, err := svc.Create(context.Background(), CreateCommand{DoctorID: doctorID, Date: date, Time: tod}, patientID); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	mustCreate(1, d1, NewTimeOfDay(10, 0), 5)
	mustCreate(1, d2, NewTimeOfDay(10, 0), 5)
	mustCreate(2, d1, NewTimeOfDay(10, 0), 7)

	all, err := svc.ListByDoctor(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("ListByDoctor: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("doctor 1 has %d appointments, want 2", len(all))
	}

	day, err := svc.ListByDoctor(context.Background(), 1, &d1)
	if err != nil {
		t.Fatalf("ListByDoctor with date: %v", err)
	}
	if len(day) != 1 {
		t.Errorf("doctor 1 on %s has %d appointments, want 1", FormatDate(d1), len(day))
	}

	mine, err := svc.ListByPatient(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListByPatient: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("patient 5 has %d appointments, want 2", len(mine))
	}
	for _, a := range mine {
		if a.PatientID != 5 {
			t.Errorf("listed appointment owned by %d", a.PatientID)
		}
	}
}

// -- Authorization predicate --

func TestCanAccess(t *testing.T) {
	appt := &Appointment{ID: 1, PatientID: 7}

	cases := []struct {
		actor Actor
		want  bool
	}{
		{Actor{UserID: 7, Role: RolePatient}, true},
		{Actor{UserID: 5, Role: RolePatient}, false},
		{Actor{UserID: 5, Role: RoleDoctor}, true},
		{Actor{UserID: 5, Role: RoleManager}, true},
		{Actor{UserID: 5, Role: RoleAdministrator}, true},
	}

	for _, tc := range cases {
		if got := tc.actor.CanAccess(appt); got != tc.want {
			t.Errorf("CanAccess(%d/%s) = %v, want %v", tc.actor.UserID, tc.actor.Role, got, tc.want)
		}
	}
}
