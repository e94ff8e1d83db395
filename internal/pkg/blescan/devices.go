// Package blescan drives the battery-side Bluetooth workflow over the
// bridge channel: scan for nearby batteries, match the one named by a QR
// code, connect, and read its telemetry service into a Reading. Each
// scan-to-read cycle is one Operation progressing through a tagged phase
// machine; a Controller owns the bridge event registrations and routes
// callbacks to the active operation per battery slot.
package blescan

import (
	"sort"
	"strings"
	"time"
)

// Device is one discovered peripheral, deduplicated by MAC address.
type Device struct {
	MAC      string `json:"mac"`
	Name     string `json:"name"`
	RSSI     int    `json:"rssi"`
	LastSeen time.Time
}

// deviceSet accumulates discoveries. Only devices whose advertised name
// starts with the product prefix are kept.
type deviceSet struct {
	prefix string
	byMAC  map[string]Device
}

func newDeviceSet(productPrefix string) *deviceSet {
	return &deviceSet{
		prefix: productPrefix,
		byMAC:  make(map[string]Device),
	}
}

func (s *deviceSet) add(d Device) {
	if d.MAC == "" {
		return
	}
	if s.prefix != "" && !strings.HasPrefix(strings.ToUpper(d.Name), strings.ToUpper(s.prefix)) {
		return
	}
	d.LastSeen = time.Now()
	s.byMAC[d.MAC] = d
}

// sorted returns the devices ordered by descending signal strength.
func (s *deviceSet) sorted() []Device {
	out := make([]Device, 0, len(s.byMAC))
	for _, d := range s.byMAC {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RSSI > out[j].RSSI
	})
	return out
}

func (s *deviceSet) len() int {
	return len(s.byMAC)
}

// idSuffix returns the lowercase trailing 6 characters of a battery
// identifier, the portion batteries advertise in their BLE name.
func idSuffix(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}

// nameMatchesSuffix reports whether a device name's trailing 6 characters
// equal suffix, case-insensitive.
func nameMatchesSuffix(name, suffix string) bool {
	if suffix == "" {
		return false
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < len(suffix) {
		return false
	}
	return name[len(name)-len(suffix):] == suffix
}
