package domain

import (
	"database/sql/driver"
	"fmt"
)

// HostCheckState is the outcome of the latest check against a host.
type HostCheckState string

// Host check states.
const (
	HostUp      HostCheckState = "UP"
	HostDown    HostCheckState = "DOWN"
	HostError   HostCheckState = "ERROR"
	HostUnknown HostCheckState = "UNKNOWN"
	HostPending HostCheckState = "PENDING"
)

var hostCheckStates = []stateLabel[HostCheckState]{
	{HostUp, "Host Up"},
	{HostDown, "Host Down"},
	{HostError, "Error retrieving state"},
	{HostUnknown, "Cannot determine state"},
	{HostPending, "Data not yet available"},
}

// ServiceCheckState is the outcome of the latest service check.
type ServiceCheckState string

// Service check states.
const (
	ServiceGood     ServiceCheckState = "GOOD"
	ServiceWarning  ServiceCheckState = "WARNING"
	ServiceCritical ServiceCheckState = "CRITICAL"
	ServiceError    ServiceCheckState = "ERROR"
	ServiceUnknown  ServiceCheckState = "UNKNOWN"
	ServicePending  ServiceCheckState = "PENDING"
)

var serviceCheckStates = []stateLabel[ServiceCheckState]{
	{ServiceGood, "Healthy"},
	{ServiceWarning, "Unhealthy"},
	{ServiceCritical, "Bad state"},
	{ServiceError, "Error retrieving state"},
	{ServiceUnknown, "Cannot determine state"},
	{ServicePending, "Data not yet available"},
}

// HostServiceState is the administrative lifecycle state of a host or service.
type HostServiceState string

// Lifecycle states.
const (
	StateActive         HostServiceState = "ACTIVE"
	StateInactive       HostServiceState = "INACTIVE"
	StateMaintenance    HostServiceState = "MAINT"
	StateDecommissioned HostServiceState = "DECOM"
)

var hostServiceStates = []stateLabel[HostServiceState]{
	{StateActive, "Active"},
	{StateInactive, "Inactive"},
	{StateMaintenance, "Maintenance"},
	{StateDecommissioned, "Decommissioned"},
}

type stateLabel[T ~string] struct {
	code  T
	label string
}

func lookupLabel[T ~string](table []stateLabel[T], code T) (string, bool) {
	for _, entry := range table {
		if entry.code == code {
			return entry.label, true
		}
	}
	return "", false
}

func parseState[T ~string](kind string, table []stateLabel[T], code string) (T, error) {
	for _, entry := range table {
		if string(entry.code) == code {
			return entry.code, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%s %q: %w", kind, code, ErrUnknownStateCode)
}

func scanState[T ~string](kind string, table []stateLabel[T], src any) (T, error) {
	switch v := src.(type) {
	case string:
		return parseState(kind, table, v)
	case []byte:
		return parseState(kind, table, string(v))
	default:
		var zero T
		return zero, fmt.Errorf("%s: cannot scan %T", kind, src)
	}
}

func codes[T ~string](table []stateLabel[T]) []T {
	out := make([]T, len(table))
	for i, entry := range table {
		out[i] = entry.code
	}
	return out
}

// ParseHostCheckState resolves an exact stored code.
func ParseHostCheckState(code string) (HostCheckState, error) {
	return parseState("host check state", hostCheckStates, code)
}

// HostCheckStates lists every host check state in declaration order.
func HostCheckStates() []HostCheckState { return codes(hostCheckStates) }

// Code returns the stored code.
func (s HostCheckState) Code() string { return string(s) }

// Label returns the display label, or "" for an invalid value.
func (s HostCheckState) Label() string {
	label, _ := lookupLabel(hostCheckStates, s)
	return label
}

// Value implements driver.Valuer.
func (s HostCheckState) Value() (driver.Value, error) {
	if _, ok := lookupLabel(hostCheckStates, s); !ok {
		return nil, fmt.Errorf("host check state %q: %w", string(s), ErrUnknownStateCode)
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *HostCheckState) Scan(src any) error {
	v, err := scanState("host check state", hostCheckStates, src)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s HostCheckState) MarshalText() ([]byte, error) {
	if _, err := s.Value(); err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *HostCheckState) UnmarshalText(text []byte) error {
	return s.Scan(text)
}

// ParseServiceCheckState resolves an exact stored code.
func ParseServiceCheckState(code string) (ServiceCheckState, error) {
	return parseState("service check state", serviceCheckStates, code)
}

// ServiceCheckStates lists every service check state in declaration order.
func ServiceCheckStates() []ServiceCheckState { return codes(serviceCheckStates) }

// Code returns the stored code.
func (s ServiceCheckState) Code() string { return string(s) }

// Label returns the display label, or "" for an invalid value.
func (s ServiceCheckState) Label() string {
	label, _ := lookupLabel(serviceCheckStates, s)
	return label
}

// Value implements driver.Valuer.
func (s ServiceCheckState) Value() (driver.Value, error) {
	if _, ok := lookupLabel(serviceCheckStates, s); !ok {
		return nil, fmt.Errorf("service check state %q: %w", string(s), ErrUnknownStateCode)
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *ServiceCheckState) Scan(src any) error {
	v, err := scanState("service check state", serviceCheckStates, src)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s ServiceCheckState) MarshalText() ([]byte, error) {
	if _, err := s.Value(); err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ServiceCheckState) UnmarshalText(text []byte) error {
	return s.Scan(text)
}

// ParseHostServiceState resolves an exact stored code.
func ParseHostServiceState(code string) (HostServiceState, error) {
	return parseState("lifecycle state", hostServiceStates, code)
}

// HostServiceStates lists every lifecycle state in declaration order.
func HostServiceStates() []HostServiceState { return codes(hostServiceStates) }

// Code returns the stored code.
func (s HostServiceState) Code() string { return string(s) }

// Label returns the display label, or "" for an invalid value.
func (s HostServiceState) Label() string {
	label, _ := lookupLabel(hostServiceStates, s)
	return label
}

// Value implements driver.Valuer.
func (s HostServiceState) Value() (driver.Value, error) {
	if _, ok := lookupLabel(hostServiceStates, s); !ok {
		return nil, fmt.Errorf("lifecycle state %q: %w", string(s), ErrUnknownStateCode)
	}
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *HostServiceState) Scan(src any) error {
	v, err := scanState("lifecycle state", hostServiceStates, src)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s HostServiceState) MarshalText() ([]byte, error) {
	if _, err := s.Value(); err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *HostServiceState) UnmarshalText(text []byte) error {
	return s.Scan(text)
}
