package blescan

import (
	"strings"
)

// Category classifies a BLE failure for remediation purposes.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotConnected
	CategoryMACMismatch
	CategoryBluetoothOff
	CategoryTimeout
	CategoryNotFound
	CategoryReadFailed
)

func (c Category) String() string {
	switch c {
	case CategoryNotConnected:
		return "not_connected"
	case CategoryMACMismatch:
		return "mac_mismatch"
	case CategoryBluetoothOff:
		return "bluetooth_off"
	case CategoryTimeout:
		return "timeout"
	case CategoryNotFound:
		return "not_found"
	case CategoryReadFailed:
		return "read_failed"
	default:
		return "unknown"
	}
}

// Error is a classified BLE failure. RequiresBluetoothReset selects the
// user-facing remediation: power-cycle Bluetooth versus a plain retry.
type Error struct {
	Category               Category
	RequiresBluetoothReset bool
	Message                string
}

func (e *Error) Error() string {
	return e.Message
}

// known phrase fragments per category, matched case-insensitively against
// response descriptions
var categoryPhrases = []struct {
	category Category
	reset    bool
	phrases  []string
}{
	{CategoryNotConnected, true, []string{"not connected", "connection lost", "disconnected", "gatt error"}},
	{CategoryBluetoothOff, true, []string{"bluetooth off", "bluetooth disabled", "adapter off", "adapter disabled"}},
	{CategoryTimeout, true, []string{"timeout", "timed out"}},
	{CategoryMACMismatch, false, []string{"mac mismatch", "address mismatch", "wrong device"}},
}

// Classify maps a response description to a failure category. Unrecognized
// descriptions classify as unknown with no reset instruction.
func Classify(desc string) *Error {
	lower := strings.ToLower(desc)
	for _, entry := range categoryPhrases {
		for _, phrase := range entry.phrases {
			if strings.Contains(lower, phrase) {
				return &Error{
					Category:               entry.category,
					RequiresBluetoothReset: entry.reset,
					Message:                remediation(entry.category, desc),
				}
			}
		}
	}
	return &Error{Category: CategoryUnknown, Message: failureMessage(desc)}
}

func remediation(c Category, desc string) string {
	switch c {
	case CategoryNotConnected, CategoryBluetoothOff, CategoryTimeout:
		return "connection to the battery was lost; turn Bluetooth off and on, then try again"
	case CategoryMACMismatch:
		return "connected to the wrong battery; please try again"
	default:
		return failureMessage(desc)
	}
}

func failureMessage(desc string) string {
	if desc == "" {
		return "Bluetooth operation failed; please try again"
	}
	return "Bluetooth operation failed: " + desc
}

// errNotFound is the terminal failure of an exhausted match phase.
func errNotFound() *Error {
	return &Error{
		Category: CategoryNotFound,
		Message:  "battery not found nearby; move closer to the battery and try again",
	}
}

// errReadFailed is the terminal failure of an exhausted service read.
func errReadFailed() *Error {
	return &Error{
		Category: CategoryReadFailed,
		Message:  "could not read energy values from the battery",
	}
}

// errWatchdog is the global watchdog expiry.
func errWatchdog() *Error {
	return &Error{
		Category:               CategoryTimeout,
		RequiresBluetoothReset: true,
		Message:                "battery scan timed out; turn Bluetooth off and on, then try again",
	}
}
