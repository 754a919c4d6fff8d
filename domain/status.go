package domain

import (
	"errors"
	"strings"
)

// Status is the lifecycle position of a task on the board.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProcess  Status = "in_process"
	StatusDone       Status = "done"
)

// Direction selects which neighbouring status a move targets.
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

var (
	ErrUnknownStatus    = errors.New("unknown task status")
	ErrUnknownDirection = errors.New("unknown move direction")
)

// Statuses returns every status in board order.
func Statuses() []Status {
	return []Status{StatusNotStarted, StatusInProcess, StatusDone}
}

// Valid reports whether s is one of the three board statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProcess, StatusDone:
		return true
	}
	return false
}

// ParseStatus converts the wire representation into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", ErrUnknownStatus
	}
	return s, nil
}

// ParseDirection converts a request value into a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(raw))); d {
	case DirectionForward, DirectionBackward:
		return d, nil
	}
	return "", ErrUnknownDirection
}

// Next returns the status a task moves to from s in direction d.
//
// Forward steps one column to the right and stops at done. Backward always
// lands on not_started, whichever column the task is in. The second result is
// false when the move is not offered (forward from done, backward from
// not_started, or an invalid status).
func Next(s Status, d Direction) (Status, bool) {
	switch d {
	case DirectionForward:
		switch s {
		case StatusNotStarted:
			return StatusInProcess, true
		case StatusInProcess:
			return StatusDone, true
		}
	case DirectionBackward:
		switch s {
		case StatusInProcess, StatusDone:
			return StatusNotStarted, true
		}
	}
	return s, false
}

// Offered reports whether a move control should be rendered for s.
func Offered(s Status, d Direction) bool {
	_, ok := Next(s, d)
	return ok
}
