package robovac

import "encoding/base64"

// State is the semantic vacuum activity classified from the DPS 153 blob.
type State string

const (
	StateCleaning     State = "cleaning"
	StateRoomCleaning State = "room_cleaning"
	StatePaused       State = "paused"
	StateReturning    State = "returning"
	StateDocked       State = "docked"
	StateError        State = "error"
	StateUnknown      State = "unknown"
)

// Substatus values refining the decoded state.
const (
	SubstatusCharging       = "charging"
	SubstatusFullyCharged   = "fully_charged"
	SubstatusDustCollecting = "dust_collecting"
	SubstatusWaterRefilling = "water_refilling"
	SubstatusMopWashingPre  = "mop_washing_pre"
	SubstatusMopWashing     = "mop_washing"
	SubstatusMopDrying      = "mop_drying"
	SubstatusMopOperations  = "mop_operations"
	SubstatusCleaning       = "cleaning"
	SubstatusPaused         = "paused"
	SubstatusReturning      = "returning"
	SubstatusIdle           = "idle"
	SubstatusUnknown        = "unknown"
	SubstatusError          = "error"
)

// SubstatusDescriptions maps substatus tags to display text.
var SubstatusDescriptions = map[string]string{
	SubstatusCharging:       "Charging",
	SubstatusFullyCharged:   "Fully Charged",
	SubstatusDustCollecting: "Collecting Dust",
	SubstatusWaterRefilling: "Refilling Water",
	SubstatusMopWashingPre:  "Pre-washing Mop",
	SubstatusMopWashing:     "Washing Mop",
	SubstatusMopDrying:      "Drying Mop",
	SubstatusMopOperations:  "Mop Operations",
	SubstatusCleaning:       "Cleaning",
	SubstatusPaused:         "Paused",
	SubstatusReturning:      "Returning to Dock",
	SubstatusIdle:           "Idle",
	SubstatusUnknown:        "Unknown",
	SubstatusError:          "Error",
}

// statusRule pairs a byte-pattern predicate with its outcome. Rules are
// evaluated top to bottom, first match wins; the order is part of the
// protocol contract because patterns overlap (a room-cleaning blob also
// matches the generic docked pattern). Each predicate carries its own
// length guards so a short blob simply fails the rule instead of faulting.
type statusRule struct {
	name   string
	match  func(b []byte) bool
	decode func(b []byte) (State, string)
}

var statusRules = []statusRule{
	{
		// Example capture: 06 10 03 1a 02 08 01
		name: "room_cleaning",
		match: func(b []byte) bool {
			return b[0] == 0x06 && b[1] == 0x10 && b[2] == 0x03
		},
		decode: func(b []byte) (State, string) {
			return StateRoomCleaning, SubstatusCleaning
		},
	},
	{
		name: "whole_house",
		match: func(b []byte) bool {
			return b[1] == 0x0a && b[2] == 0x00 && len(b) >= 5 && b[3] == 0x10 && b[4] == 0x05
		},
		decode: func(b []byte) (State, string) {
			if len(b) >= 7 && b[6] == 0x02 {
				return StatePaused, SubstatusPaused
			}
			return StateCleaning, SubstatusCleaning
		},
	},
	{
		// Mop work reported under the whole-house prefix; the device sits
		// on the dock while it runs.
		name: "dock_mop",
		match: func(b []byte) bool {
			return b[1] == 0x0a && b[2] == 0x00 && len(b) >= 5 && b[3] == 0x10 && b[4] == 0x09
		},
		decode: func(b []byte) (State, string) {
			return StateDocked, dockedSubstatus(b)
		},
	},
	{
		name: "returning",
		match: func(b []byte) bool {
			return b[1] == 0x10 && b[2] == 0x07 && len(b) >= 4 && b[3] == 0x42
		},
		decode: func(b []byte) (State, string) {
			return StateReturning, SubstatusReturning
		},
	},
	{
		name: "docked",
		match: func(b []byte) bool {
			return b[1] == 0x10
		},
		decode: func(b []byte) (State, string) {
			return StateDocked, dockedSubstatus(b)
		},
	},
}

// Decode classifies a raw DPS 153 status blob. It is total: malformed or
// unrecognized input resolves to a safe default, never a panic.
func Decode(blob []byte) (State, string) {
	state, substatus, _ := decodeStatus(blob)
	return state, substatus
}

// DecodeBase64 decodes the base64 form the device reports on poll.
func DecodeBase64(value string) (State, string) {
	blob, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return StateUnknown, SubstatusUnknown
	}
	return Decode(blob)
}

// decodeStatus additionally reports the matched rule name, or "" when no
// rule matched and the safe default applied.
func decodeStatus(blob []byte) (State, string, string) {
	if len(blob) < 3 {
		return StateUnknown, SubstatusUnknown, ""
	}
	for _, rule := range statusRules {
		if rule.match(blob) {
			state, substatus := rule.decode(blob)
			return state, substatus, rule.name
		}
	}
	// Unknown patterns park on the safe side; callers flag these for
	// observability so new firmware patterns surface in logs.
	return StateDocked, SubstatusIdle, ""
}

// dockedSubstatus refines a docked classification from the same blob.
func dockedSubstatus(b []byte) string {
	if len(b) < 3 {
		return SubstatusUnknown
	}

	if b[1] == 0x10 {
		switch b[2] {
		case 0x03:
			if len(b) >= 5 {
				switch b[4] {
				case 0x00:
					return SubstatusCharging
				case 0x02:
					return SubstatusFullyCharged
				}
			}
			return SubstatusCharging
		case 0x09:
			if len(b) >= 4 {
				switch b[3] {
				case 0xfa:
					return SubstatusDustCollecting
				case 0x1a:
					return SubstatusMopDrying
				case 0x3a:
					return SubstatusMopWashing
				}
			}
			return SubstatusMopOperations
		}
	}

	if b[1] == 0x0a && b[2] == 0x00 {
		if len(b) >= 5 && b[3] == 0x10 && b[4] == 0x09 {
			if len(b) >= 12 && b[11] == 0x3a {
				return SubstatusMopWashingPre
			}
			return SubstatusWaterRefilling
		}
	}

	return SubstatusIdle
}
