package domain

// Slot names required before a booking can proceed.
const (
	SlotPreferredDate = "preferred_date"
	SlotPreferredTime = "preferred_time"
	SlotAttendeeEmail = "attendee_email"
)

// RequiredSlots is the set of slots that must be filled before the
// conversation moves to the confirming stage.
var RequiredSlots = []string{SlotPreferredDate, SlotPreferredTime, SlotAttendeeEmail}

// Slots maps slot names to extracted values. A slot is either unset or
// set-once; only an update explicitly flagged as a correction may overwrite
// an existing value.
type Slots map[string]string

// Clone returns an independent copy so state-machine transitions never
// mutate the record they were handed.
func (s Slots) Clone() Slots {
	out := make(Slots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Complete reports whether every required slot has a value.
func (s Slots) Complete() bool {
	for _, name := range RequiredSlots {
		if s[name] == "" {
			return false
		}
	}
	return true
}

// Missing returns the required slots that still lack a value, in the
// canonical RequiredSlots order.
func (s Slots) Missing() []string {
	var out []string
	for _, name := range RequiredSlots {
		if s[name] == "" {
			out = append(out, name)
		}
	}
	return out
}

// SlotUpdate is a single extraction reported by the engine. Correction marks
// an explicit customer correction, which is the only case where an already
// set slot may be overwritten.
type SlotUpdate struct {
	Name       string `json:"name"`
	Value      string `json:"value"`
	Correction bool   `json:"correction"`
}

// Apply folds updates into a copy of s under first-write-wins semantics:
// a filled slot is only replaced when the update is a correction. Updates
// naming unknown slots or carrying empty values are ignored.
func (s Slots) Apply(updates []SlotUpdate) Slots {
	out := s.Clone()
	for _, u := range updates {
		if u.Value == "" || !knownSlot(u.Name) {
			continue
		}
		if _, exists := out[u.Name]; exists && out[u.Name] != "" && !u.Correction {
			continue
		}
		out[u.Name] = u.Value
	}
	return out
}

func knownSlot(name string) bool {
	for _, n := range RequiredSlots {
		if n == name {
			return true
		}
	}
	return false
}
