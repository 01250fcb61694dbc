package robovac

import "testing"

func TestFanSpeedRoundTrip(t *testing.T) {
	for _, level := range FanSpeeds() {
		primary, secondary, ok := level.DeviceTokens()
		if !ok {
			t.Fatalf("%s: no device tokens", level)
		}
		if got, ok := FanSpeedFromToken(primary); !ok || got != level {
			t.Fatalf("%s: primary token %q resolved to %s (ok=%v)", level, primary, got, ok)
		}
		if got, ok := FanSpeedFromToken(secondary); !ok || got != level {
			t.Fatalf("%s: secondary token %q resolved to %s (ok=%v)", level, secondary, got, ok)
		}
	}
}

func TestFanSpeedTokens(t *testing.T) {
	tests := []struct {
		level         FanSpeed
		wantPrimary   string
		wantSecondary string
	}{
		{FanQuiet, "gentle", "Quiet"},
		{FanStandard, "normal", "Standard"},
		{FanTurbo, "strong", "Turbo"},
		{FanMaximum, "max", "Max"},
	}
	for _, tc := range tests {
		primary, secondary, ok := tc.level.DeviceTokens()
		if !ok || primary != tc.wantPrimary || secondary != tc.wantSecondary {
			t.Fatalf("%s tokens = (%q, %q, %v), want (%q, %q, true)",
				tc.level, primary, secondary, ok, tc.wantPrimary, tc.wantSecondary)
		}
	}
}

func TestFanSpeedLegacyToken(t *testing.T) {
	got, ok := FanSpeedFromToken("middle")
	if !ok || got != FanStandard {
		t.Fatalf("middle resolved to %s (ok=%v), want Standard", got, ok)
	}
}

func TestFanSpeedUnknownToken(t *testing.T) {
	if _, ok := FanSpeedFromToken("ludicrous"); ok {
		t.Fatal("expected unknown token to report ok=false")
	}
	if _, _, ok := FanSpeed("Ludicrous").DeviceTokens(); ok {
		t.Fatal("expected unknown level to report ok=false")
	}
}
