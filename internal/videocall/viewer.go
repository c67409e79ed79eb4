package videocall

import "context"

// Viewer is the call screen's state holder. It recomputes State from every
// snapshot and fires each callback once per rising edge, so redelivered
// snapshots are harmless.
type Viewer struct {
	IsDoctor bool

	// OnWaiting fires on the doctor side when a patient starts waiting.
	OnWaiting func(VideoCall)
	// OnAdmitted fires on the patient side when the call turns active and
	// the screen should join the room.
	OnAdmitted func(VideoCall)
	OnEnded    func(VideoCall)

	state State
}

func (v *Viewer) State() State {
	return v.state
}

// Apply folds one confirmed snapshot into the screen state.
func (v *Viewer) Apply(c VideoCall) State {
	prev := v.state
	next := Derive(c, v.IsDoctor)
	v.state = next

	if v.IsDoctor && next.PatientWaiting && !prev.PatientWaiting && v.OnWaiting != nil {
		v.OnWaiting(c)
	}
	if !v.IsDoctor && next.ShouldJoinRoom && !prev.ShouldJoinRoom && v.OnAdmitted != nil {
		v.OnAdmitted(c)
	}
	if next.Ended && !prev.Ended && v.OnEnded != nil {
		v.OnEnded(c)
	}
	return next
}

// Run applies snapshots from w until it closes or ctx ends.
func (v *Viewer) Run(ctx context.Context, w *Watch) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-w.C:
			if !ok {
				return
			}
			v.Apply(c)
		}
	}
}
