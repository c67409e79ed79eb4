package videocall

// IsPatientWaiting is true only when the record is in the waiting state and
// the patient's client has signalled presence.
func IsPatientWaiting(c VideoCall) bool {
	return c.Status == StatusWaiting && c.PatientJoinedAt != nil
}

// State is what a call screen renders, derived from one snapshot.
type State struct {
	Status         Status `json:"status"`
	PatientWaiting bool   `json:"patient_waiting"`
	CanAdmit       bool   `json:"can_admit"`
	ShouldJoinRoom bool   `json:"should_join_room"`
	Ended          bool   `json:"ended"`
}

// Derive recomputes the screen state from scratch. It looks only at the
// snapshot, so applying the same snapshot twice yields the same state.
func Derive(c VideoCall, isDoctor bool) State {
	s := State{
		Status:         c.Status,
		PatientWaiting: IsPatientWaiting(c),
		ShouldJoinRoom: c.Status == StatusActive,
		Ended:          c.Status == StatusEnded,
	}
	if isDoctor {
		s.CanAdmit = s.PatientWaiting
	}
	return s
}

// transitions lists the lifecycle edges. Self edges are a patient rejoining
// or presence being re-stamped.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusWaiting, StatusEnded},
	StatusWaiting:   {StatusWaiting, StatusActive, StatusEnded},
	StatusActive:    {StatusActive, StatusEnded},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// check rejects a move to target from c's stored status.
func check(c VideoCall, target Status) error {
	if c.Status == StatusEnded {
		return ErrCallEnded
	}
	if !canTransition(c.Status, target) {
		return ErrInvalidTransition
	}
	return nil
}

// checkJoin validates a patient join against the current record. An active
// call stays active.
func checkJoin(c VideoCall) error {
	target := StatusWaiting
	if c.Status == StatusActive {
		target = StatusActive
	}
	return check(c, target)
}

// checkAdmit validates an admit against the current record.
func checkAdmit(c VideoCall) error {
	if c.Status == StatusEnded {
		return ErrCallEnded
	}
	if !IsPatientWaiting(c) {
		return ErrNoPatientWaiting
	}
	return check(c, StatusActive)
}

// checkEnd validates a participant ending the call. Participants can only
// end an active call; scheduled and waiting calls are left to checkReap.
func checkEnd(c VideoCall) error {
	if err := check(c, StatusEnded); err != nil {
		return err
	}
	if c.Status != StatusActive {
		return ErrInvalidTransition
	}
	return nil
}

// checkReap validates the worker ending a call nobody finished.
func checkReap(c VideoCall) error {
	if err := check(c, StatusEnded); err != nil {
		return err
	}
	if c.Status == StatusActive {
		return ErrInvalidTransition
	}
	return nil
}
