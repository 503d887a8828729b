package domain

// Stage is the discrete phase of a conversation in the state machine.
type Stage string

// Conversation stages. A conversation starts in StageGreeting (implicitly:
// no record exists yet), gathers booking details, asks for confirmation,
// and synchronously passes through StageBooking into one of the terminal
// stages. StageBooking is never persisted as the stage a new inbound message
// is evaluated from; it is entered and exited within a single processing step.
const (
	StageGreeting      Stage = "greeting"
	StageGatheringInfo Stage = "gathering_info"
	StageConfirming    Stage = "confirming"
	StageBooking       Stage = "booking"
	StageBooked        Stage = "booked"
	StageFailed        Stage = "failed"
	StageAbandoned     Stage = "abandoned"
)

// Terminal reports whether the stage is final: no further automated booking
// attempt is made for a conversation in a terminal stage.
func (s Stage) Terminal() bool {
	switch s {
	case StageBooked, StageFailed, StageAbandoned:
		return true
	}
	return false
}

// Valid reports whether s is a member of the closed stage set.
func (s Stage) Valid() bool {
	switch s {
	case StageGreeting, StageGatheringInfo, StageConfirming,
		StageBooking, StageBooked, StageFailed, StageAbandoned:
		return true
	}
	return false
}
