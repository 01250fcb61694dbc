package robovac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrRoomsNotConfigured is returned when no room mapping table exists at
// all. The text doubles as operator remediation.
var ErrRoomsNotConfigured = errors.New(
	"no room mappings configured; add a rooms table to the device entry in the config file " +
		"(room id -> DPS 173 payload). To capture a payload: enable debug logging, start a room " +
		"clean from the Eufy app, and copy the DPS 173 value from the robovacd log")

// RoomNotFoundError reports a lookup miss against a configured table.
type RoomNotFoundError struct {
	RoomID    string
	Available []string
}

func (e *RoomNotFoundError) Error() string {
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("room %q not found in configured rooms (available: %s); add it to the device's rooms table in the config file", e.RoomID, available)
}

// RoomMap maps room identifiers to the opaque DPS 173 selection payload
// (base64, written to the device verbatim). Keys are matched exactly and
// case-sensitively; the table is operator-entered config, loaded read-only.
type RoomMap map[string]string

// Resolve looks up the selection payload for a room id.
func (m RoomMap) Resolve(roomID string) (string, error) {
	if len(m) == 0 {
		return "", ErrRoomsNotConfigured
	}
	payload, ok := m[roomID]
	if !ok {
		available := make([]string, 0, len(m))
		for id := range m {
			available = append(available, id)
		}
		sort.Strings(available)
		return "", &RoomNotFoundError{RoomID: roomID, Available: available}
	}
	return payload, nil
}
