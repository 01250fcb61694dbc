package robovac

import (
	"encoding/base64"
	"strconv"
)

// DPS field identifiers for the S1 Pro (T2080).
const (
	dpsWorkMode     = "5"   // work mode written alongside commands
	dpsStatus       = "6"   // status indicator, >=100 means error code
	dpsStatus2      = "7"   // secondary status indicator (legacy fallback)
	dpsBattery      = "8"   // battery percentage
	dpsFanPrimary   = "9"   // fan speed, lowercase tokens
	dpsCommand      = "152" // base64 command channel
	dpsActivity     = "153" // opaque status blob (most reliable)
	dpsFanSecondary = "158" // fan speed, capitalized tokens
	dpsBatteryAlt   = "163" // battery fallback
	dpsRoomSelect   = "173" // room selection payload
)

// The raw snapshot is a loosely typed map straight off the wire. These
// accessors absorb absent fields, wrong types, and unparsable values
// into an explicit ok=false instead of faulting.

func dpsInt(data map[string]any, key string) (int, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func dpsString(data map[string]any, key string) (string, bool) {
	if data == nil {
		return "", false
	}
	v, ok := data[key].(string)
	return v, ok
}

func dpsBlob(data map[string]any, key string) ([]byte, bool) {
	if data == nil {
		return nil, false
	}
	switch v := data[key].(type) {
	case []byte:
		return v, true
	case string:
		if v == "" {
			return nil, false
		}
		blob, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, false
		}
		return blob, true
	default:
		return nil, false
	}
}
