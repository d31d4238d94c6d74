package sla

import (
	"errors"
	"fmt"
)

var (
	ErrPolicyNotFound    = errors.New("sla policy not found")
	ErrInvalidTransition = errors.New("invalid sla transition")
	ErrInvalidDuration   = errors.New("negative sla duration")
	ErrStateNotFound     = errors.New("sla state not found")
	ErrStateExists       = errors.New("sla state already exists")
	ErrConfiguration     = errors.New("sla configuration error")
)

// ConfigurationError reports a calendar or policy setup that cannot produce
// deadlines. It matches ErrConfiguration with errors.Is.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "sla configuration error: " + e.Reason
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// TransitionError describes an event that the tracker's current status does
// not accept.
type TransitionError struct {
	Event  Event
	Status Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid sla transition: %s while %s", e.Event, e.Status)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
