package enums

import "fmt"

// SessionEventKind labels entries in the append-only session diagnostics log.
// These events exist to diagnose stuck wallet flows; the state machine never
// reads them.
type SessionEventKind string

const (
	SessionEventSDKOpened           SessionEventKind = "sdk_opened"
	SessionEventSDKCallbackReturned SessionEventKind = "sdk_callback_returned"
	SessionEventFirstStatusCheck    SessionEventKind = "first_status_check"
	SessionEventWalletState         SessionEventKind = "wallet_state"
)

var validSessionEventKinds = []SessionEventKind{
	SessionEventSDKOpened,
	SessionEventSDKCallbackReturned,
	SessionEventFirstStatusCheck,
	SessionEventWalletState,
}

// String implements fmt.Stringer.
func (k SessionEventKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known SessionEventKind.
func (k SessionEventKind) IsValid() bool {
	for _, candidate := range validSessionEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseSessionEventKind converts raw input into a SessionEventKind.
func ParseSessionEventKind(value string) (SessionEventKind, error) {
	for _, candidate := range validSessionEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid session event kind %q", value)
}

// WalletState is the coarse in-app wallet flow state stamped on wallet_state
// diagnostic events.
type WalletState string

const (
	WalletStateIdle             WalletState = "idle"
	WalletStateSDKOpened        WalletState = "sdk_opened"
	WalletStateAwaitingCallback WalletState = "awaiting_callback"
	WalletStateConfirming       WalletState = "confirming"
	WalletStateConfirmed        WalletState = "confirmed"
	WalletStateAbandoned        WalletState = "abandoned"
)

// String implements fmt.Stringer.
func (w WalletState) String() string {
	return string(w)
}
