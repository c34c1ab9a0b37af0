package boot

import (
	"errors"
	"strings"
)

// ErrSlotNotFound is returned when the device reports no active slot.
var ErrSlotNotFound = errors.New("slot not found")

// Slot is one of the two redundant partition sets of an A/B device.
type Slot uint8

const (
	// SlotA is the partition set with the "_a" suffix.
	SlotA Slot = iota
	// SlotB is the partition set with the "_b" suffix.
	SlotB
)

// Suffix returns the partition name suffix of the slot.
func (s Slot) Suffix() string {
	if s == SlotB {
		return "_b"
	}

	return "_a"
}

// String implements fmt.Stringer.
func (s Slot) String() string {
	return s.Suffix()
}

// Other returns the inactive partner of s.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}

	return SlotA
}

// ParseSlot converts a suffix such as "_a" to a Slot.
func ParseSlot(suffix string) (Slot, bool) {
	switch strings.TrimSpace(suffix) {
	case "_a":
		return SlotA, true
	case "_b":
		return SlotB, true
	default:
		return SlotA, false
	}
}

// AlternateSlot returns the slot to install to given the reported current one.
// Anything other than "_a" selects SlotA, so the result is always one of the two slots.
// An empty report means the slot could not be queried.
func AlternateSlot(current string) (Slot, error) {
	current = strings.TrimSpace(current)
	if current == "" {
		return SlotA, ErrSlotNotFound
	}

	slot, ok := ParseSlot(current)
	if !ok {
		return SlotA, nil
	}

	return slot.Other(), nil
}
