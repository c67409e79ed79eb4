package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is the fire-and-forget surface used by request handlers and
// other services.
type Notifier interface {
	AppointmentCreated(n AppointmentNotice)
	PrescriptionCreated(n PrescriptionNotice)
	VideoCallReady(n VideoCallNotice)
}

// Dispatcher runs notifications in the background. Failures are logged and
// never reach the caller.
type Dispatcher struct {
	svc     *Service
	timeout time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(svc *Service, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		svc:     svc,
		timeout: timeout,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

func (d *Dispatcher) AppointmentCreated(n AppointmentNotice) {
	d.run(KindAppointmentCreated, n.AppointmentID, func(ctx context.Context) error {
		return d.svc.AppointmentCreated(ctx, n)
	})
}

func (d *Dispatcher) PrescriptionCreated(n PrescriptionNotice) {
	d.run(KindPrescriptionCreated, n.PrescriptionID, func(ctx context.Context) error {
		return d.svc.PrescriptionCreated(ctx, n)
	})
}

func (d *Dispatcher) VideoCallReady(n VideoCallNotice) {
	d.run(KindVideoCallReady, n.AppointmentID, func(ctx context.Context) error {
		return d.svc.VideoCallReady(ctx, n)
	})
}

// Wait blocks until in-flight notifications finish. Called on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(kind, ref string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			d.logger.Warn().Err(err).Str("kind", kind).Str("ref", ref).Msg("notification failed")
		}
	}()
}

var _ Notifier = (*Dispatcher)(nil)
