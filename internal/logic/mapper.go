package logic

import "fmt"

// Map converts a confirmed transition into an occupancy event for the given
// input. It is pure: the same arguments always produce the same event.
func Map(tr Transition, in MonitoredInput, lot, id string) (Event, error) {
	kind, err := KindFor(tr.State, in.Polarity)
	if err != nil {
		return Event{}, fmt.Errorf("pin %d (%s): %w", in.Pin, in.Label, err)
	}
	return Event{
		ID:   id,
		Lot:  lot,
		Spot: in.Label,
		Kind: kind,
		Time: tr.Time,
	}, nil
}

// KindFor applies polarity to a logical state.
func KindFor(s State, p Polarity) (Kind, error) {
	var occupied bool
	switch s {
	case StateAsserted:
		occupied = true
	case StateDeasserted:
		occupied = false
	default:
		return "", ErrUnmapped
	}

	switch p {
	case ActiveHigh:
	case ActiveLow:
		occupied = !occupied
	default:
		return "", ErrUnmapped
	}

	if occupied {
		return KindOccupied, nil
	}
	return KindVacated, nil
}
