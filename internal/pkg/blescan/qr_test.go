package blescan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestParseBatteryID tests identifier extraction from QR payloads
func TestParseBatteryID(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{"bare identifier", "OVS123ABC456", "OVS123ABC456", false},
		{"bare identifier with whitespace", "  OVS123ABC456\n", "OVS123ABC456", false},
		{"json battery_id", `{"battery_id":"OVS123ABC456"}`, "OVS123ABC456", false},
		{"json batteryId", `{"batteryId":"OVS123ABC456"}`, "OVS123ABC456", false},
		{"json bat_id", `{"bat_id":"OVS123ABC456"}`, "OVS123ABC456", false},
		{"json sn", `{"sn":"OVS123ABC456"}`, "OVS123ABC456", false},
		{"json id", `{"id":"OVS123ABC456"}`, "OVS123ABC456", false},
		{"json prefers battery_id", `{"id":"WRONG","battery_id":"RIGHT1"}`, "RIGHT1", false},
		{"json with no known field", `{"serial":"OVS123ABC456"}`, "", true},
		{"json with empty identifier", `{"battery_id":"  "}`, "", true},
		{"braces but not json", `{not json`, "{not json", false},
		{"empty payload", "", "", true},
		{"whitespace only", "   ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBatteryID(tt.payload)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoBatteryID)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
