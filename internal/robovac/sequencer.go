package robovac

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Intent is the sequencer's local view of what the user last asked for.
// The device's authoritative state always comes from the status decoder;
// the intent only tracks sequence progress.
type Intent string

const (
	IntentIdle      Intent = "idle"
	IntentStarting  Intent = "starting"
	IntentCleaning  Intent = "cleaning"
	IntentPausing   Intent = "pausing"
	IntentPaused    Intent = "paused"
	IntentReturning Intent = "returning"
)

// Sequencing delays are fixed constants measured against the device, not
// adaptive to observed latency.
const (
	settleDelay    = 500 * time.Millisecond // after each DPS 152 write
	commandWait    = 1 * time.Second        // before the post-command refresh
	startStabilize = 2 * time.Second        // between start and cleaning writes
)

// UnsupportedCommandError reports an intent name the sequencer does not
// recognize.
type UnsupportedCommandError struct {
	Command string
}

func (e *UnsupportedCommandError) Error() string {
	return fmt.Sprintf("unsupported command %q", e.Command)
}

// Intent returns the sequencer's current intent state.
func (v *Vacuum) Intent() Intent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.intent
}

// ShadowPaused reports the locally held pause record. Read-only outside
// the sequencer.
func (v *Vacuum) ShadowPaused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shadowPaused
}

// Start begins cleaning, or resumes it when the last known state looks
// paused. Resume is a single cleaning write; a fresh start runs the full
// start sequence.
func (v *Vacuum) Start(ctx context.Context) error {
	v.seq.Lock()
	defer v.seq.Unlock()

	if v.shouldResume() {
		v.logger.Info("resuming from pause")
		v.setIntent(IntentStarting)
		if err := v.sendCommand(ctx, cmdCleaning); err != nil {
			v.setIntent(IntentIdle)
			return err
		}
		v.setShadowPaused(false)
		v.setIntent(IntentCleaning)
		return nil
	}

	v.logger.Info("starting new cleaning session")
	return v.freshStartLocked(ctx)
}

// shouldResume checks the three pause signals: decoded state, the shadow
// flag, and the last raw DPS 152 value. Any of them selects the resume
// path; the shadow flag covers the window where the decoded state is
// stale or ambiguous.
func (v *Vacuum) shouldResume() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.shadowPaused {
		return true
	}
	if state, _ := classify(v.data); state == StatePaused {
		return true
	}
	if cmd, ok := dpsString(v.data, dpsCommand); ok && cmd == cmdPause {
		return true
	}
	return false
}

// freshStartLocked runs the full start sequence: start write, stabilize,
// cleaning write. Callers must hold seq.
func (v *Vacuum) freshStartLocked(ctx context.Context) error {
	v.setIntent(IntentStarting)
	v.setShadowPaused(false)
	if err := v.sendCommand(ctx, cmdStart); err != nil {
		v.setIntent(IntentIdle)
		return err
	}
	if err := v.sleep(ctx, startStabilize); err != nil {
		v.setIntent(IntentIdle)
		return err
	}
	if err := v.sendCommand(ctx, cmdCleaning); err != nil {
		v.setIntent(IntentIdle)
		return err
	}
	v.setIntent(IntentCleaning)
	return nil
}

// Pause pauses the vacuum. The shadow flag is raised before the write so
// the next Start prefers resume even if the device state is stale; a
// failed write lowers it again.
func (v *Vacuum) Pause(ctx context.Context) error {
	v.seq.Lock()
	defer v.seq.Unlock()

	v.setIntent(IntentPausing)
	v.setShadowPaused(true)
	if err := v.sendCommand(ctx, cmdPause); err != nil {
		v.setShadowPaused(false)
		v.setIntent(IntentIdle)
		return err
	}
	v.setIntent(IntentPaused)
	return nil
}

// Stop is an alias for Pause: the S1 Pro has no distinct stop primitive.
func (v *Vacuum) Stop(ctx context.Context) error {
	return v.Pause(ctx)
}

// ReturnToDock sends the vacuum back to its station.
func (v *Vacuum) ReturnToDock(ctx context.Context) error {
	v.seq.Lock()
	defer v.seq.Unlock()

	v.setIntent(IntentReturning)
	v.setShadowPaused(false)
	if err := v.sendCommand(ctx, cmdReturn); err != nil {
		v.setIntent(IntentIdle)
		return err
	}
	return nil
}

// CleanRoom selects a configured room and starts cleaning it. Room
// cleaning never resumes from pause: the fresh-start sequence always
// runs, whatever the shadow flag or decoded state says.
func (v *Vacuum) CleanRoom(ctx context.Context, roomID string) error {
	v.seq.Lock()
	defer v.seq.Unlock()

	payload, err := v.rooms.Resolve(roomID)
	if err != nil {
		return err
	}

	v.logger.Info("starting room cleaning", zap.String("room_id", roomID))
	v.setIntent(IntentStarting)
	if err := v.write(ctx, map[string]any{dpsRoomSelect: payload}); err != nil {
		v.setIntent(IntentIdle)
		return err
	}
	if err := v.sleep(ctx, settleDelay); err != nil {
		v.setIntent(IntentIdle)
		return err
	}
	return v.freshStartLocked(ctx)
}

// SetFanSpeed writes both fan speed fields together.
func (v *Vacuum) SetFanSpeed(ctx context.Context, level FanSpeed) error {
	primary, secondary, ok := level.DeviceTokens()
	if !ok {
		return fmt.Errorf("invalid fan speed %q", level)
	}

	v.seq.Lock()
	defer v.seq.Unlock()
	return v.write(ctx, map[string]any{
		dpsFanPrimary:   primary,
		dpsFanSecondary: secondary,
	})
}

// Command dispatches a named intent with free-form parameters, the shape
// the bridge's custom-command topic delivers.
func (v *Vacuum) Command(ctx context.Context, name string, params map[string]any) error {
	switch name {
	case "clean_room":
		raw, ok := params["room_id"]
		if !ok {
			return fmt.Errorf("clean_room: room_id parameter is required")
		}
		return v.CleanRoom(ctx, roomIDString(raw))
	default:
		return &UnsupportedCommandError{Command: name}
	}
}

// sendCommand performs one DPS 152 command step: the command write, a
// settle delay, the mirrored DPS 5 work-mode write where one exists, and
// a status refresh once the device has had time to react. A failed write
// aborts the remaining steps; earlier writes are not undone.
func (v *Vacuum) sendCommand(ctx context.Context, cmd string) error {
	v.logger.Debug("sending command", zap.String("dps152", cmd))
	if err := v.write(ctx, map[string]any{dpsCommand: cmd}); err != nil {
		return err
	}
	v.metrics.commandSent(v.deviceID, commandName(cmd))
	if err := v.sleep(ctx, settleDelay); err != nil {
		return err
	}
	if mode, ok := commandModes[cmd]; ok {
		if err := v.write(ctx, map[string]any{dpsWorkMode: mode}); err != nil {
			return err
		}
	}
	if err := v.sleep(ctx, commandWait); err != nil {
		return err
	}
	return v.refreshLocked(ctx)
}

func (v *Vacuum) write(ctx context.Context, dps map[string]any) error {
	if err := v.session.Write(ctx, dps); err != nil {
		v.metrics.writeFailure(v.deviceID)
		return fmt.Errorf("device write: %w", err)
	}
	return nil
}

func (v *Vacuum) setIntent(intent Intent) {
	v.mu.Lock()
	v.intent = intent
	v.mu.Unlock()
}

func (v *Vacuum) setShadowPaused(paused bool) {
	v.mu.Lock()
	v.shadowPaused = paused
	v.mu.Unlock()
}

func commandName(cmd string) string {
	switch cmd {
	case cmdStart:
		return "start"
	case cmdCleaning:
		return "cleaning"
	case cmdPause:
		return "pause"
	case cmdReturn:
		return "return"
	default:
		return "unknown"
	}
}

func roomIDString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		// JSON numbers arrive as float64; room ids are small integers.
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprint(v)
	}
}
