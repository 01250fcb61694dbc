package robovac

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSession struct {
	mu     sync.Mutex
	writes []map[string]any
	data   map[string]any
	// failWrite fails the nth write (1-based), 0 disables.
	failWrite int
	readErr   error
	onWrite   func(dps map[string]any)
}

func (s *fakeSession) ReadStatus(_ context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.data == nil {
		return map[string]any{}, nil
	}
	return s.data, nil
}

func (s *fakeSession) Write(_ context.Context, dps map[string]any) error {
	s.mu.Lock()
	s.writes = append(s.writes, dps)
	n := len(s.writes)
	fail := s.failWrite
	onWrite := s.onWrite
	s.mu.Unlock()
	if onWrite != nil {
		onWrite(dps)
	}
	if fail != 0 && n == fail {
		return errors.New("write refused")
	}
	return nil
}

func (s *fakeSession) recorded() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.writes...)
}

func newTestVacuum(session *fakeSession) *Vacuum {
	v := NewVacuum(VacuumConfig{
		DeviceID: "dev1",
		Name:     "Test Vacuum",
		Session:  session,
		Rooms:    RoomMap{"kitchen": "CgEB"},
	})
	v.sleep = func(context.Context, time.Duration) error { return nil }
	return v
}

func assertWrites(t *testing.T, got []map[string]any, want []map[string]any) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("recorded %d writes, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if fmt.Sprint(got[i]) != fmt.Sprint(want[i]) {
			t.Fatalf("write %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStartFreshSequence(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	assertWrites(t, session.recorded(), []map[string]any{
		{"152": "AA=="},
		{"5": "smart"},
		{"152": "AggO"},
	})
	if v.Intent() != IntentCleaning {
		t.Fatalf("intent = %s, want cleaning", v.Intent())
	}
}

func TestStartFreshSleepsBetweenWrites(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)
	var delays []time.Duration
	v.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []time.Duration{settleDelay, commandWait, startStabilize, settleDelay, commandWait}
	if len(delays) != len(want) {
		t.Fatalf("recorded %d delays, want %d: %v", len(delays), len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestStartResumesOnShadowFlag(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)
	v.setShadowPaused(true)

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	assertWrites(t, session.recorded(), []map[string]any{
		{"152": "AggO"},
	})
	if v.ShadowPaused() {
		t.Fatal("expected shadow flag cleared after resume")
	}
}

func TestStartResumesOnDecodedPause(t *testing.T) {
	pausedBlob := base64.StdEncoding.EncodeToString(
		[]byte{0x08, 0x0a, 0x00, 0x10, 0x05, 0x18, 0x02})
	session := &fakeSession{data: map[string]any{"153": pausedBlob}}
	v := newTestVacuum(session)
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	assertWrites(t, session.recorded(), []map[string]any{
		{"152": "AggO"},
	})
}

func TestStartResumesOnLastPauseCommand(t *testing.T) {
	session := &fakeSession{data: map[string]any{"152": "AggN"}}
	v := newTestVacuum(session)
	if err := v.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	writes := session.recorded()
	if len(writes) != 1 || fmt.Sprint(writes[0]) != fmt.Sprint(map[string]any{"152": "AggO"}) {
		t.Fatalf("expected single resume write, got %v", writes)
	}
}

func TestPauseRaisesShadowBeforeWrite(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)
	var shadowAtWrite bool
	session.onWrite = func(dps map[string]any) {
		if _, ok := dps["152"]; ok {
			shadowAtWrite = v.ShadowPaused()
		}
	}

	if err := v.Pause(context.Background()); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !shadowAtWrite {
		t.Fatal("expected shadow flag raised before the pause write")
	}
	if !v.ShadowPaused() {
		t.Fatal("expected shadow flag to stay raised")
	}
	if v.Intent() != IntentPaused {
		t.Fatalf("intent = %s, want paused", v.Intent())
	}
	assertWrites(t, session.recorded(), []map[string]any{
		{"152": "AggN"},
		{"5": "pause"},
	})
}

func TestPauseFailureLowersShadow(t *testing.T) {
	session := &fakeSession{failWrite: 1}
	v := newTestVacuum(session)

	if err := v.Pause(context.Background()); err == nil {
		t.Fatal("expected pause error")
	}
	if v.ShadowPaused() {
		t.Fatal("expected shadow flag lowered after failed pause")
	}
}

func TestStopAliasesPause(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)

	if err := v.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	assertWrites(t, session.recorded(), []map[string]any{
		{"152": "AggN"},
		{"5": "pause"},
	})
	if !v.ShadowPaused() {
		t.Fatal("expected stop to record the pause")
	}
}

func TestReturnToDockClearsShadow(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)
	v.setShadowPaused(true)

	if err := v.ReturnToDock(context.Background()); err != nil {
		t.Fatalf("ReturnToDock: %v", err)
	}
	if v.ShadowPaused() {
		t.Fatal("expected shadow flag cleared")
	}
	assertWrites(t, session.recorded(), []map[string]any{
		{"152": "AggG"},
		{"5": "charge"},
	})
}

// Room cleaning always runs the full fresh-start sequence, even when a
// pause is on record.
func TestCleanRoomIgnoresPause(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)
	v.setShadowPaused(true)

	if err := v.CleanRoom(context.Background(), "kitchen"); err != nil {
		t.Fatalf("CleanRoom: %v", err)
	}
	assertWrites(t, session.recorded(), []map[string]any{
		{"173": "CgEB"},
		{"152": "AA=="},
		{"5": "smart"},
		{"152": "AggO"},
	})
	if v.ShadowPaused() {
		t.Fatal("expected shadow flag cleared by fresh start")
	}
}

func TestCleanRoomUnknownRoomWritesNothing(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)

	err := v.CleanRoom(context.Background(), "garage")
	var notFound *RoomNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RoomNotFoundError, got %v", err)
	}
	if len(session.recorded()) != 0 {
		t.Fatalf("expected no device writes, got %v", session.recorded())
	}
}

func TestSequenceAbortsOnWriteFailure(t *testing.T) {
	session := &fakeSession{failWrite: 2}
	v := newTestVacuum(session)

	if err := v.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	// The failed mode write is the last one recorded; the cleaning
	// confirmation never goes out.
	writes := session.recorded()
	if len(writes) != 2 {
		t.Fatalf("expected sequence to stop after 2 writes, got %v", writes)
	}
	if v.Intent() != IntentIdle {
		t.Fatalf("intent = %s, want idle", v.Intent())
	}
}

func TestSetFanSpeedWritesBothFields(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)

	if err := v.SetFanSpeed(context.Background(), FanTurbo); err != nil {
		t.Fatalf("SetFanSpeed: %v", err)
	}
	assertWrites(t, session.recorded(), []map[string]any{
		{"9": "strong", "158": "Turbo"},
	})

	if err := v.SetFanSpeed(context.Background(), FanSpeed("Ludicrous")); err == nil {
		t.Fatal("expected invalid fan speed error")
	}
}

func TestCommandDispatch(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)

	if err := v.Command(context.Background(), "clean_room", map[string]any{"room_id": "kitchen"}); err != nil {
		t.Fatalf("Command: %v", err)
	}
	writes := session.recorded()
	if len(writes) == 0 || fmt.Sprint(writes[0]) != fmt.Sprint(map[string]any{"173": "CgEB"}) {
		t.Fatalf("expected room selection write first, got %v", writes)
	}

	err := v.Command(context.Background(), "self_destruct", nil)
	var unsupported *UnsupportedCommandError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedCommandError, got %v", err)
	}
	if unsupported.Command != "self_destruct" {
		t.Fatalf("unexpected command name %q", unsupported.Command)
	}

	if err := v.Command(context.Background(), "clean_room", nil); err == nil {
		t.Fatal("expected missing room_id error")
	}
}

func TestCommandNumericRoomID(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)
	v.rooms = RoomMap{"3": "CgED"}

	// JSON numbers decode to float64.
	if err := v.Command(context.Background(), "clean_room", map[string]any{"room_id": float64(3)}); err != nil {
		t.Fatalf("Command: %v", err)
	}
	writes := session.recorded()
	if len(writes) == 0 || fmt.Sprint(writes[0]) != fmt.Sprint(map[string]any{"173": "CgED"}) {
		t.Fatalf("expected room selection write, got %v", writes)
	}
}

func TestTryPollSkipsDuringSequence(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)

	inSequence := make(chan struct{})
	release := make(chan struct{})
	v.sleep = func(context.Context, time.Duration) error {
		select {
		case <-inSequence:
		default:
			close(inSequence)
		}
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- v.Start(context.Background()) }()
	<-inSequence

	polled, err := v.TryPoll(context.Background())
	if err != nil {
		t.Fatalf("TryPoll: %v", err)
	}
	if polled {
		t.Fatal("expected poll to be skipped while the sequence holds the session")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}

	polled, err = v.TryPoll(context.Background())
	if err != nil || !polled {
		t.Fatalf("expected poll after sequence, got polled=%v err=%v", polled, err)
	}
}

func TestSequenceStopsOnCancelledContext(t *testing.T) {
	session := &fakeSession{}
	v := newTestVacuum(session)
	v.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := v.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(session.recorded()) != 1 {
		t.Fatalf("expected only the initial write, got %v", session.recorded())
	}
}
