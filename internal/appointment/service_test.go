package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/telehealth-consult/internal/config"
	"github.com/hackgods/telehealth-consult/internal/db"
	"github.com/hackgods/telehealth-consult/internal/notify"
	redisclient "github.com/hackgods/telehealth-consult/internal/redis"
	"github.com/hackgods/telehealth-consult/internal/videocall"
)

type memRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]Patient
	doctors  map[uuid.UUID]Doctor
	slots    map[uuid.UUID]AppointmentSlot
	appts    map[uuid.UUID]Appointment
	events   []string
}

func newMemRepo() *memRepo {
	return &memRepo{
		patients: make(map[uuid.UUID]Patient),
		doctors:  make(map[uuid.UUID]Doctor),
		slots:    make(map[uuid.UUID]AppointmentSlot),
		appts:    make(map[uuid.UUID]Appointment),
	}
}

func (r *memRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *memRepo) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *memRepo) ListDoctors(_ context.Context, specialty string, limit, offset int) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Doctor
	for _, d := range r.doctors {
		if specialty == "" || (d.Specialty != nil && *d.Specialty == specialty) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (r *memRepo) GetSlotByID(_ context.Context, id uuid.UUID) (*AppointmentSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memRepo) ListOpenSlots(_ context.Context, doctorID uuid.UUID, _ time.Time, _ int) ([]AppointmentSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AppointmentSlot
	for _, s := range r.slots {
		if s.DoctorID == doctorID && s.Status == SlotOpen {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) GetConfirmedAppointmentForSlot(_ context.Context, slotID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appts {
		if a.SlotID == slotID && a.Status == StatusConfirmed {
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	a, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s, _ := r.GetSlotByID(ctx, a.SlotID)
	p, _ := r.GetPatientByID(ctx, a.PatientID)
	d, _ := r.GetDoctorByID(ctx, a.DoctorID)
	return &AppointmentDetail{Appointment: *a, Slot: s, Patient: p, Doctor: d}, nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) ListAppointmentsByDoctor(_ context.Context, doctorID uuid.UUID, _, _ int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) CreatePendingAppointment(_ context.Context, in NewAppointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp := in.ExpiresAt
	a := Appointment{
		ID:        uuid.New(),
		SlotID:    in.SlotID,
		PatientID: in.PatientID,
		DoctorID:  in.DoctorID,
		Type:      in.Type,
		Status:    StatusPending,
		Reason:    in.Reason,
		ExpiresAt: &exp,
	}
	r.appts[a.ID] = a
	return &a, nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	r.appts[id] = a
	return &a, nil
}

func (r *memRepo) MarkPaid(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appts[id]
	if !ok || (a.Status != StatusPending && a.Status != StatusConfirmed) {
		return nil, ErrAppointmentNotFound
	}
	a.Paid = true
	a.Status = StatusConfirmed
	r.appts[id] = a
	return &a, nil
}

func (r *memRepo) FindExpiredPending(_ context.Context, now time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appts {
		if a.Status == StatusPending && !a.Paid && a.ExpiresAt != nil && a.ExpiresAt.Before(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev db.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev.EventType)
	return nil
}

type recordingScheduler struct {
	scheduled []videocall.ScheduleParams
}

func (r *recordingScheduler) Schedule(_ context.Context, p videocall.ScheduleParams) (*videocall.VideoCall, error) {
	r.scheduled = append(r.scheduled, p)
	return &videocall.VideoCall{ID: uuid.New(), AppointmentID: p.AppointmentID}, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	created []notify.AppointmentNotice
}

func (n *recordingNotifier) AppointmentCreated(a notify.AppointmentNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, a)
}
func (n *recordingNotifier) PrescriptionCreated(notify.PrescriptionNotice) {}
func (n *recordingNotifier) VideoCallReady(notify.VideoCallNotice)         {}

type seed struct {
	repo    *memRepo
	patient Patient
	doctor  Doctor
	slot    AppointmentSlot
}

func seeded() seed {
	repo := newMemRepo()
	email := "asha@example.com"
	p := Patient{ID: uuid.New(), Name: "Asha", Email: &email}
	d := Doctor{ID: uuid.New(), Name: "Rao", ConsultFeePaise: 70000}
	s := AppointmentSlot{
		ID:        uuid.New(),
		DoctorID:  d.ID,
		StartTime: time.Now().Add(time.Hour),
		EndTime:   time.Now().Add(90 * time.Minute),
		Status:    SlotOpen,
		Capacity:  1,
	}
	repo.patients[p.ID] = p
	repo.doctors[d.ID] = d
	repo.slots[s.ID] = s
	return seed{repo: repo, patient: p, doctor: d, slot: s}
}

func testConfig() config.Config {
	return config.Config{AppointmentTTL: 10 * time.Minute, ConsultFeePaise: 50000}
}

func TestCreateAppointment(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	notifier := &recordingNotifier{}
	svc := NewService(sd.repo, redisclient.NoopLocker{}, testConfig(), WithNotifier(notifier))

	appt, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeVideo, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, sd.doctor.ID, appt.DoctorID)
	assert.Equal(t, TypeVideo, appt.Type)
	assert.Equal(t, []string{EventAppointmentCreated}, sd.repo.events)

	require.Len(t, notifier.created, 1)
	assert.Equal(t, "asha@example.com", notifier.created[0].Patient.Email)
	assert.Equal(t, "Rao", notifier.created[0].Doctor.Name)
}

func TestCreateAppointmentValidation(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	svc := NewService(sd.repo, redisclient.NoopLocker{}, testConfig())

	_, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, "phone", nil)
	require.ErrorIs(t, err, ErrInvalidType)

	_, err = svc.CreateAppointment(ctx, sd.slot.ID, uuid.New(), TypeVideo, nil)
	require.ErrorIs(t, err, ErrPatientNotFound)

	_, err = svc.CreateAppointment(ctx, uuid.New(), sd.patient.ID, TypeVideo, nil)
	require.ErrorIs(t, err, ErrSlotNotFound)

	blocked := sd.slot
	blocked.ID = uuid.New()
	blocked.Status = SlotBlocked
	sd.repo.slots[blocked.ID] = blocked
	_, err = svc.CreateAppointment(ctx, blocked.ID, sd.patient.ID, TypeVideo, nil)
	require.ErrorIs(t, err, ErrSlotNotOpen)
}

func TestCreateAppointmentSlotLocked(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	svc := NewService(sd.repo, redisclient.NewRedisLocker(client, time.Second), testConfig())

	require.NoError(t, mr.Set(redisclient.SlotKey(sd.slot.ID), "other"))
	_, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeInClinic, nil)
	require.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestCreateAppointmentSlotAlreadyBooked(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	svc := NewService(sd.repo, redisclient.NoopLocker{}, testConfig())

	appt, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeInClinic, nil)
	require.NoError(t, err)
	_, err = svc.ConfirmAppointment(ctx, appt.ID)
	require.NoError(t, err)

	_, err = svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeInClinic, nil)
	require.ErrorIs(t, err, ErrSlotAlreadyBooked)
}

func TestConfirmSchedulesVideoCallsOnly(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	calls := &recordingScheduler{}
	svc := NewService(sd.repo, redisclient.NoopLocker{}, testConfig(), WithCallScheduler(calls))

	clinic, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeInClinic, nil)
	require.NoError(t, err)
	_, err = svc.ConfirmAppointment(ctx, clinic.ID)
	require.NoError(t, err)
	assert.Empty(t, calls.scheduled)

	slot2 := sd.slot
	slot2.ID = uuid.New()
	sd.repo.slots[slot2.ID] = slot2
	video, err := svc.CreateAppointment(ctx, slot2.ID, sd.patient.ID, TypeVideo, nil)
	require.NoError(t, err)
	confirmed, err := svc.ConfirmAppointment(ctx, video.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, confirmed.Status)

	require.Len(t, calls.scheduled, 1)
	assert.Equal(t, video.ID, calls.scheduled[0].AppointmentID)
	assert.Equal(t, sd.doctor.ID, calls.scheduled[0].DoctorID)
	assert.Equal(t, sd.patient.ID, calls.scheduled[0].PatientID)

	_, err = svc.ConfirmAppointment(ctx, video.ID)
	require.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestConfirmAfterExpiry(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	cfg := testConfig()
	cfg.AppointmentTTL = -time.Minute
	svc := NewService(sd.repo, redisclient.NoopLocker{}, cfg)

	appt, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeVideo, nil)
	require.NoError(t, err)

	_, err = svc.ConfirmAppointment(ctx, appt.ID)
	require.ErrorIs(t, err, ErrAppointmentExpiredState)
	assert.Equal(t, StatusExpired, sd.repo.appts[appt.ID].Status)
}

func TestMarkPaidConfirmsAndSchedules(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	calls := &recordingScheduler{}
	svc := NewService(sd.repo, redisclient.NoopLocker{}, testConfig(), WithCallScheduler(calls))

	appt, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeVideo, nil)
	require.NoError(t, err)

	payable, err := svc.ForPayment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70000), payable.FeePaise)
	assert.False(t, payable.Paid)

	require.NoError(t, svc.MarkPaid(ctx, appt.ID))
	stored := sd.repo.appts[appt.ID]
	assert.True(t, stored.Paid)
	assert.Equal(t, StatusConfirmed, stored.Status)
	assert.Len(t, calls.scheduled, 1)
	assert.Contains(t, sd.repo.events, EventAppointmentPaid)

	// Paying again does not schedule a second call.
	require.NoError(t, svc.MarkPaid(ctx, appt.ID))
	assert.Len(t, calls.scheduled, 1)
}

func TestForPaymentFallsBackToDefaultFee(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	d := sd.doctor
	d.ConsultFeePaise = 0
	sd.repo.doctors[d.ID] = d
	svc := NewService(sd.repo, redisclient.NoopLocker{}, testConfig())

	appt, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeVideo, nil)
	require.NoError(t, err)

	payable, err := svc.ForPayment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), payable.FeePaise)
}

func TestExpirePendingAppointments(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	cfg := testConfig()
	cfg.AppointmentTTL = -time.Minute
	svc := NewService(sd.repo, redisclient.NoopLocker{}, cfg)

	stale, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeVideo, nil)
	require.NoError(t, err)

	paid, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeVideo, nil)
	require.NoError(t, err)
	p := sd.repo.appts[paid.ID]
	p.Paid = true
	sd.repo.appts[paid.ID] = p

	n, err := svc.ExpirePendingAppointments(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, StatusExpired, sd.repo.appts[stale.ID].Status)
	assert.Equal(t, StatusPending, sd.repo.appts[paid.ID].Status)
}

func TestGetAppointmentVisibility(t *testing.T) {
	ctx := context.Background()
	sd := seeded()
	svc := NewService(sd.repo, redisclient.NoopLocker{}, testConfig())

	appt, err := svc.CreateAppointment(ctx, sd.slot.ID, sd.patient.ID, TypeVideo, nil)
	require.NoError(t, err)

	detail, err := svc.GetAppointment(ctx, appt.ID, sd.doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha", detail.Patient.Name)

	_, err = svc.GetAppointment(ctx, appt.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotYourAppointment)

	list, err := svc.ListAppointments(ctx, sd.doctor.ID, true, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
