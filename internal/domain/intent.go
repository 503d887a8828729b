package domain

// Intent is the classified conversational intent of one inbound message.
// The engine adapter maps free-form model output onto this closed set; an
// unrecognized label degrades to IntentUnclear rather than failing.
type Intent string

// Recognized intents.
const (
	// IntentRequestBooking: the customer wants to set up a meeting.
	IntentRequestBooking Intent = "request_booking"
	// IntentProvideInfo: the customer supplies requested details
	// (date, time, attendee).
	IntentProvideInfo Intent = "provide_info"
	// IntentConfirm: explicit affirmative while a booking awaits confirmation.
	IntentConfirm Intent = "confirm_booking"
	// IntentChangeDetails: explicit change of mind about an already
	// provided detail.
	IntentChangeDetails Intent = "change_details"
	// IntentQuestion: a question about services, no booking progress.
	IntentQuestion Intent = "question_services"
	// IntentGreeting: small talk / opening message with no actionable content.
	IntentGreeting Intent = "greeting"
	// IntentEndConversation: the customer explicitly ends the exchange.
	IntentEndConversation Intent = "end_conversation"
	// IntentUnclear: the message carries no extractable new information.
	IntentUnclear Intent = "unclear"
)

// ParseIntent maps a label to a known Intent, defaulting to IntentUnclear.
func ParseIntent(label string) Intent {
	switch Intent(label) {
	case IntentRequestBooking, IntentProvideInfo, IntentConfirm,
		IntentChangeDetails, IntentQuestion, IntentGreeting,
		IntentEndConversation, IntentUnclear:
		return Intent(label)
	}
	return IntentUnclear
}
