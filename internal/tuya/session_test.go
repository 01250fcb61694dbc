package tuya

import "testing"

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(Config{
		DeviceID: "dev1",
		Host:     "127.0.0.1",
		LocalKey: "0123456789abcdef",
	}, nil)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestNewSessionValidation(t *testing.T) {
	if _, err := NewSession(Config{Host: "h", LocalKey: "0123456789abcdef"}, nil); err == nil {
		t.Fatal("expected missing device id error")
	}
	if _, err := NewSession(Config{DeviceID: "d", Host: "h", LocalKey: "short"}, nil); err == nil {
		t.Fatal("expected short local key error")
	}
}

// Unsubscribing one subscriber must leave the others receiving frames,
// whatever order the removers run in.
func TestSubscribeRemovalOrder(t *testing.T) {
	s := newTestSession(t)

	var first, second, third int
	unsub1 := s.Subscribe(func(Message) { first++ })
	unsub2 := s.Subscribe(func(Message) { second++ })
	unsub3 := s.Subscribe(func(Message) { third++ })

	unsub1()
	s.dispatch(Message{Seq: 1})
	if first != 0 || second != 1 || third != 1 {
		t.Fatalf("after removing first: counts = %d/%d/%d, want 0/1/1", first, second, third)
	}

	unsub3()
	s.dispatch(Message{Seq: 2})
	if first != 0 || second != 2 || third != 1 {
		t.Fatalf("after removing third: counts = %d/%d/%d, want 0/2/1", first, second, third)
	}

	// Removers are idempotent.
	unsub1()
	unsub3()
	unsub2()
	s.dispatch(Message{Seq: 3})
	if first != 0 || second != 2 || third != 1 {
		t.Fatalf("after removing all: counts = %d/%d/%d, want 0/2/1", first, second, third)
	}
}
