package robovac

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session is the per-device transport collaborator. ReadStatus returns the
// raw DPS snapshot; Write pushes field values. Write success is the only
// acknowledgment the device offers.
type Session interface {
	ReadStatus(ctx context.Context) (map[string]any, error)
	Write(ctx context.Context, dps map[string]any) error
}

// Status is the semantic view derived from one poll snapshot.
type Status struct {
	State         State
	Substatus     string
	Battery       int
	BatteryKnown  bool
	FanSpeed      FanSpeed
	FanSpeedKnown bool
	ErrorCode     string
	UpdatedAt     time.Time
}

// VacuumConfig collects the collaborators for one device handle.
type VacuumConfig struct {
	DeviceID string
	Name     string
	Session  Session
	Rooms    RoomMap
	Logger   *zap.Logger
	Metrics  *Metrics
}

// Vacuum is the handle for a single S1 Pro: it owns the latest raw DPS
// snapshot, the paused shadow flag, and the command sequencing logic.
type Vacuum struct {
	deviceID string
	name     string
	session  Session
	rooms    RoomMap
	logger   *zap.Logger
	metrics  *Metrics

	// seq grants exclusive use of the device session. A command sequence
	// holds it for its full duration, settle delays included; polls take
	// it with TryPoll and skip the cycle when a sequence is in flight.
	seq sync.Mutex

	// mu guards the snapshot and shadow state.
	mu           sync.Mutex
	data         map[string]any
	updatedAt    time.Time
	shadowPaused bool
	intent       Intent

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewVacuum(cfg VacuumConfig) *Vacuum {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vacuum{
		deviceID: cfg.DeviceID,
		name:     cfg.Name,
		session:  cfg.Session,
		rooms:    cfg.Rooms,
		logger:   logger.With(zap.String("device_id", cfg.DeviceID)),
		metrics:  cfg.Metrics,
		intent:   IntentIdle,
		sleep:    sleepContext,
	}
}

func (v *Vacuum) DeviceID() string { return v.deviceID }
func (v *Vacuum) Name() string     { return v.name }

// Rooms lists the configured room ids, sorted.
func (v *Vacuum) Rooms() []string {
	ids := make([]string, 0, len(v.rooms))
	for id := range v.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Refresh reads a fresh snapshot, waiting for any in-flight sequence.
func (v *Vacuum) Refresh(ctx context.Context) error {
	v.seq.Lock()
	defer v.seq.Unlock()
	return v.refreshLocked(ctx)
}

// TryPoll refreshes unless a command sequence currently holds the
// session. The skipped cycle is reported as ok=false, not an error.
func (v *Vacuum) TryPoll(ctx context.Context) (bool, error) {
	if !v.seq.TryLock() {
		return false, nil
	}
	defer v.seq.Unlock()
	return true, v.refreshLocked(ctx)
}

func (v *Vacuum) refreshLocked(ctx context.Context) error {
	data, err := v.session.ReadStatus(ctx)
	if err != nil {
		v.metrics.pollResult(v.deviceID, v.name, false)
		return fmt.Errorf("read status: %w", err)
	}
	v.mu.Lock()
	v.data = data
	v.updatedAt = time.Now()
	v.mu.Unlock()
	v.metrics.pollResult(v.deviceID, v.name, true)

	if blob, ok := dpsBlob(data, dpsActivity); ok && len(blob) >= 3 {
		if _, _, rule := decodeStatus(blob); rule == "" {
			v.logger.Warn("unrecognized status pattern, defaulting to docked",
				zap.String("dps153", hex.EncodeToString(blob)))
			v.metrics.unknownPattern(v.deviceID)
		}
	}
	return nil
}

// Status derives the full semantic view from the current snapshot.
func (v *Vacuum) Status() Status {
	v.mu.Lock()
	data := v.data
	updatedAt := v.updatedAt
	v.mu.Unlock()

	var st Status
	st.State, st.Substatus = classify(data)
	st.Battery, st.BatteryKnown = batteryFrom(data)
	st.FanSpeed, st.FanSpeedKnown = fanSpeedFrom(data)
	st.ErrorCode = errorCodeFrom(data)
	st.UpdatedAt = updatedAt
	return st
}

// Activity returns the decoded semantic state.
func (v *Vacuum) Activity() State {
	state, _ := classify(v.snapshot())
	return state
}

// Substatus returns the refinement tag for the decoded state.
func (v *Vacuum) Substatus() string {
	_, substatus := classify(v.snapshot())
	return substatus
}

// Battery returns the battery percentage, ok=false when unreported.
func (v *Vacuum) Battery() (int, bool) {
	return batteryFrom(v.snapshot())
}

// FanSpeed returns the current fan speed, ok=false when the device
// reports a token the translator does not recognize.
func (v *Vacuum) FanSpeed() (FanSpeed, bool) {
	return fanSpeedFrom(v.snapshot())
}

// ErrorCode returns the device error code, ok=false when healthy.
func (v *Vacuum) ErrorCode() (string, bool) {
	code := errorCodeFrom(v.snapshot())
	return code, code != ""
}

func (v *Vacuum) snapshot() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.data
}

// classify turns a raw snapshot into (state, substatus). DPS 6 error
// codes win; then the DPS 153 blob; then legacy fallbacks kept for
// firmware that does not populate DPS 153.
func classify(data map[string]any) (State, string) {
	if code, ok := dpsInt(data, dpsStatus); ok && code >= 100 {
		return StateError, SubstatusError
	}
	if blob, ok := dpsBlob(data, dpsActivity); ok && len(blob) > 0 {
		state, substatus, _ := decodeStatus(blob)
		return state, substatus
	}
	if cmd, ok := dpsString(data, dpsCommand); ok {
		switch cmd {
		case cmdCleaning:
			return StateCleaning, SubstatusCleaning
		case cmdPause:
			return StatePaused, SubstatusPaused
		case cmdReturn:
			return StateReturning, SubstatusReturning
		}
	}
	s1, ok1 := dpsInt(data, dpsStatus)
	s2, ok2 := dpsInt(data, dpsStatus2)
	if ok1 && ok2 {
		switch {
		case s1 == 2 && s2 == 3:
			return StateCleaning, SubstatusCleaning
		case s1 == 3 && s2 == 4:
			return StatePaused, SubstatusPaused
		case s1 == 1 && s2 == 2:
			return StateReturning, SubstatusReturning
		case s1 == 0 && s2 == 0:
			if battery, ok := batteryFrom(data); ok && battery >= 95 {
				return StateDocked, SubstatusIdle
			}
			return StateUnknown, SubstatusIdle
		}
	}
	return StateUnknown, SubstatusUnknown
}

func batteryFrom(data map[string]any) (int, bool) {
	for _, key := range []string{dpsBattery, dpsBatteryAlt} {
		if battery, ok := dpsInt(data, key); ok && battery >= 0 && battery <= 100 {
			return battery, true
		}
	}
	return 0, false
}

func fanSpeedFrom(data map[string]any) (FanSpeed, bool) {
	for _, key := range []string{dpsFanPrimary, dpsFanSecondary} {
		if token, ok := dpsString(data, key); ok {
			if speed, ok := FanSpeedFromToken(token); ok {
				return speed, true
			}
		}
	}
	return "", false
}

func errorCodeFrom(data map[string]any) string {
	if code, ok := dpsInt(data, dpsStatus); ok && code >= 100 {
		return strconv.Itoa(code)
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
