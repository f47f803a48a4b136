package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SeatAvailability normalizes the backend's polymorphic availableSeats
// field, which arrives either as a seat-id array or as a bare count.
type SeatAvailability struct {
	Count int
	Seats []string

	known bool
}

// Known reports whether the backend sent any availability data at all.
func (a SeatAvailability) Known() bool { return a.known }

func (a *SeatAvailability) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*a = SeatAvailability{}
		return nil
	}

	if b[0] == '[' {
		var seats []string
		if err := json.Unmarshal(b, &seats); err != nil {
			return fmt.Errorf("availableSeats: %w", err)
		}
		*a = SeatAvailability{Count: len(seats), Seats: seats, known: true}
		return nil
	}

	var count int
	if err := json.Unmarshal(b, &count); err != nil {
		return fmt.Errorf("availableSeats: %w", err)
	}
	*a = SeatAvailability{Count: count, known: true}
	return nil
}

func (a SeatAvailability) MarshalJSON() ([]byte, error) {
	if !a.known {
		return []byte("null"), nil
	}
	if a.Seats != nil {
		return json.Marshal(a.Seats)
	}
	return json.Marshal(a.Count)
}

// Showtime is one screening slot. Older backend versions omit isActive
// and isAvailable, so both stay optional and Bookable applies a single
// precedence instead of scattering type checks through call sites.
type Showtime struct {
	ID             string           `json:"id"`
	MovieID        string           `json:"movie_id,omitempty"`
	CinemaID       string           `json:"cinema_id,omitempty"`
	Room           string           `json:"room,omitempty"`
	StartTime      Timestamp        `json:"startTime"`
	IsActive       *bool            `json:"isActive,omitempty"`
	IsAvailable    *bool            `json:"isAvailable,omitempty"`
	AvailableSeats SeatAvailability `json:"availableSeats,omitempty"`
}

// Bookable decides whether the showtime can still be booked. Precedence:
// an explicit isActive=false wins, then an explicit isAvailable=false,
// then a start time not in the future, then a known zero seat count.
// Absent fields never block booking.
func (s *Showtime) Bookable(now time.Time) bool {
	if s.IsActive != nil && !*s.IsActive {
		return false
	}
	if s.IsAvailable != nil && !*s.IsAvailable {
		return false
	}
	if !s.StartTime.IsZero() && !s.StartTime.After(now) {
		return false
	}
	if s.AvailableSeats.Known() && s.AvailableSeats.Count == 0 {
		return false
	}
	return true
}
