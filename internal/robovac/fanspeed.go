package robovac

// FanSpeed is one of the four suction levels the S1 Pro exposes.
type FanSpeed string

const (
	FanQuiet    FanSpeed = "Quiet"
	FanStandard FanSpeed = "Standard"
	FanTurbo    FanSpeed = "Turbo"
	FanMaximum  FanSpeed = "Maximum"
)

// The device reports and accepts fan speed on two parallel fields with
// different token vocabularies: DPS 9 (lowercase, legacy) and DPS 158
// (capitalized). Both must be written together when changing speed.
type fanTokens struct {
	primary   string // DPS 9
	secondary string // DPS 158
}

var fanSpeedToDevice = map[FanSpeed]fanTokens{
	FanQuiet:    {primary: "gentle", secondary: "Quiet"},
	FanStandard: {primary: "normal", secondary: "Standard"},
	FanTurbo:    {primary: "strong", secondary: "Turbo"},
	FanMaximum:  {primary: "max", secondary: "Max"},
}

// fanSpeedFromDevice is a superset of the canonical tokens: it also
// resolves legacy tokens seen on older firmware, so either field's value
// maps to exactly one level.
var fanSpeedFromDevice = map[string]FanSpeed{
	"gentle":   FanQuiet,
	"normal":   FanStandard,
	"strong":   FanTurbo,
	"max":      FanMaximum,
	"Quiet":    FanQuiet,
	"Standard": FanStandard,
	"Turbo":    FanTurbo,
	"Max":      FanMaximum,
	"middle":   FanStandard, // legacy fallback
}

// DeviceTokens returns the (DPS 9, DPS 158) token pair for a level.
func (f FanSpeed) DeviceTokens() (primary, secondary string, ok bool) {
	tokens, ok := fanSpeedToDevice[f]
	if !ok {
		return "", "", false
	}
	return tokens.primary, tokens.secondary, true
}

// FanSpeedFromToken resolves a device token from either field. An
// unrecognized token yields ok=false; callers treat that as "speed
// unknown", not an error.
func FanSpeedFromToken(token string) (FanSpeed, bool) {
	speed, ok := fanSpeedFromDevice[token]
	return speed, ok
}

// FanSpeeds lists the selectable levels in display order.
func FanSpeeds() []FanSpeed {
	return []FanSpeed{FanQuiet, FanStandard, FanTurbo, FanMaximum}
}
