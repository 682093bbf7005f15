package domain

import "time"

// PairingCounter holds lane-based pairing state per user. Corresponds to pairing_counters.
// Invariant: ReleasedPairs <= min(LeftCount, RightCount); all fields never decrease.
type PairingCounter struct {
	UserID        int64
	LeftCount     int64
	RightCount    int64
	ReleasedPairs int64
	UpdatedAt     time.Time
}

// Pairs returns min(LeftCount, RightCount).
func (c *PairingCounter) Pairs() int64 {
	if c.LeftCount < c.RightCount {
		return c.LeftCount
	}
	return c.RightCount
}

// Available returns the number of balanced pairs not yet released.
func (c *PairingCounter) Available() int64 {
	return c.Pairs() - c.ReleasedPairs
}

// Increment adds one qualifying purchase to the given lane.
func (c *PairingCounter) Increment(lane Lane) error {
	switch lane {
	case LaneLeft:
		c.LeftCount++
	case LaneRight:
		c.RightCount++
	default:
		return ErrInvalidLane
	}
	return nil
}

// Valid reports whether the release invariant holds.
func (c *PairingCounter) Valid() bool {
	return c.LeftCount >= 0 && c.RightCount >= 0 && c.ReleasedPairs >= 0 && c.ReleasedPairs <= c.Pairs()
}

// Covers reports whether c is a monotonic successor of prev (no field decreased).
func (c *PairingCounter) Covers(prev *PairingCounter) bool {
	return c.LeftCount >= prev.LeftCount &&
		c.RightCount >= prev.RightCount &&
		c.ReleasedPairs >= prev.ReleasedPairs
}
