package blescan

import (
	"encoding/json"
	"errors"
	"strings"
)

// Field names a battery QR label may use for its identifier when the
// payload is a JSON document rather than a bare id.
var qrIDFields = []string{"battery_id", "batteryId", "bat_id", "sn", "id"}

// ErrNoBatteryID means the QR payload carried no usable identifier.
var ErrNoBatteryID = errors.New("QR payload contains no battery identifier")

// ParseBatteryID extracts the battery identifier from a scanned QR payload.
// The payload is either the bare identifier string or a JSON object with
// one of the known identifier fields.
func ParseBatteryID(payload string) (string, error) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" {
		return "", ErrNoBatteryID
	}

	if strings.HasPrefix(trimmed, "{") {
		var doc map[string]interface{}
		if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
			for _, field := range qrIDFields {
				if v, ok := doc[field].(string); ok && strings.TrimSpace(v) != "" {
					return strings.TrimSpace(v), nil
				}
			}
			return "", ErrNoBatteryID
		}
		// not valid JSON after all; fall through and treat as a bare id
	}

	return trimmed, nil
}
