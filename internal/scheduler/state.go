package scheduler

import "fmt"

// State is a step in the patient's booking flow.
type State int

const (
	Idle State = iota
	SlotsLoading
	SlotsReady
	SlotsEmpty
	SlotsError
	SlotSelected
	FormValidating
	Booking
	Success
	BookingError
)

var stateNames = [...]string{
	Idle:           "idle",
	SlotsLoading:   "slots-loading",
	SlotsReady:     "slots-ready",
	SlotsEmpty:     "slots-empty",
	SlotsError:     "slots-error",
	SlotSelected:   "slot-selected",
	FormValidating: "form-validating",
	Booking:        "booking",
	Success:        "success",
	BookingError:   "booking-error",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// TransitionError is returned when an event is not valid in the current
// state. The session is left unchanged.
type TransitionError struct {
	Event string
	State State
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Event, e.State)
}
