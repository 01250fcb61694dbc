package robovac

// DPS 152 command payloads, captured from app traffic (base64 of the
// device's internal command encoding).
const (
	cmdStart    = "AA=="
	cmdCleaning = "AggO"
	cmdPause    = "AggN"
	cmdReturn   = "AggG"
)

// DPS 5 work-mode tokens mirrored after the matching command write. The
// cleaning confirmation has no mode of its own.
var commandModes = map[string]string{
	cmdStart:  "smart",
	cmdPause:  "pause",
	cmdReturn: "charge",
}
