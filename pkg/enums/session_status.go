package enums

import "fmt"

// SessionStatus tracks the lifecycle of a checkout session.
type SessionStatus string

const (
	SessionStatusInitiated SessionStatus = "initiated"
	SessionStatusPaid      SessionStatus = "paid"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

var validSessionStatuses = []SessionStatus{
	SessionStatusInitiated,
	SessionStatusPaid,
	SessionStatusFailed,
	SessionStatusCancelled,
}

// String implements fmt.Stringer.
func (s SessionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SessionStatus.
func (s SessionStatus) IsValid() bool {
	for _, candidate := range validSessionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusPaid, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// ParseSessionStatus converts raw input into a SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, error) {
	for _, candidate := range validSessionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session status %q", value)
}
