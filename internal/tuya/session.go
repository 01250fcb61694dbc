package tuya

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	devicePort     = 6668
	heartbeatEvery = 10 * time.Second
	ioTimeout      = 5 * time.Second
)

// Config identifies one device on the LAN. The local key is the 16-byte
// pre-shared secret obtained out of band after pairing.
type Config struct {
	DeviceID string
	Host     string
	LocalKey string
}

// Session is a local 3.3 protocol session with a single device: one TCP
// connection, a read loop fanning frames out to subscribers, and a
// heartbeat keeping the device from dropping the link.
type Session struct {
	deviceID string
	host     string
	key      []byte
	logger   *zap.Logger

	mu      sync.Mutex
	conn    net.Conn
	decoder *frameDecoder
	seq     uint32

	subscribers      map[int]func(Message)
	nextSub          int
	heartbeatStarted bool
	closed           chan struct{}
}

func NewSession(cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("tuya: device id is required")
	}
	if len(cfg.LocalKey) != 16 {
		return nil, fmt.Errorf("tuya: local key must be 16 bytes, got %d", len(cfg.LocalKey))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		deviceID:    cfg.DeviceID,
		host:        cfg.Host,
		key:         []byte(cfg.LocalKey),
		logger:      logger.With(zap.String("device_id", cfg.DeviceID)),
		subscribers: make(map[int]func(Message)),
		closed:      make(chan struct{}),
	}, nil
}

// Connect dials the device and starts the read loop. Calling it on a
// connected session is a no-op; a dropped connection is redialed by the
// next ReadStatus or Write.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil
	}
	select {
	case <-s.closed:
		s.mu.Unlock()
		return errors.New("session closed")
	default:
	}

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", s.host, devicePort))
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("dial device: %w", err)
	}
	s.conn = conn
	s.decoder = newFrameDecoder(s.key)
	first := !s.heartbeatStarted
	s.heartbeatStarted = true
	s.mu.Unlock()

	go s.readLoop(conn)
	if first {
		go s.heartbeatLoop()
	}
	return nil
}

func (s *Session) readLoop(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.disconnect(conn)
			return
		}
		messages, err := s.decoder.Feed(buf[:n])
		if err != nil {
			s.logger.Debug("dropped undecodable frame", zap.Error(err))
		}
		for _, msg := range messages {
			s.dispatch(msg)
		}
	}
}

func (s *Session) dispatch(msg Message) {
	s.mu.Lock()
	subs := make([]func(Message), 0, len(s.subscribers))
	for _, cb := range s.subscribers {
		subs = append(subs, cb)
	}
	s.mu.Unlock()
	for _, cb := range subs {
		cb(msg)
	}
}

func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ioTimeout)
			_ = s.send(ctx, CmdHeartbeat, nil)
			cancel()
		}
	}
}

// Subscribe registers a frame callback and returns its remover. The
// remover is idempotent and safe to call in any order relative to other
// subscribers.
func (s *Session) Subscribe(cb func(Message)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// ReadStatus polls the device for its full DPS snapshot.
func (s *Session) ReadStatus(ctx context.Context) (map[string]any, error) {
	body, err := json.Marshal(map[string]any{
		"gwId":  s.deviceID,
		"devId": s.deviceID,
		"uid":   s.deviceID,
		"t":     timestamp(),
	})
	if err != nil {
		return nil, err
	}

	resp, err := s.request(ctx, CmdDPQuery, body)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Dps map[string]any `json:"dps"`
	}
	if err := json.Unmarshal(resp.Payload, &parsed); err != nil {
		return nil, fmt.Errorf("parse status payload: %w", err)
	}
	if parsed.Dps == nil {
		return nil, errors.New("status payload missing dps")
	}
	return parsed.Dps, nil
}

// Write pushes DPS values. A successful socket write is the only
// acknowledgment the protocol offers; no response is awaited and no
// retry is attempted.
func (s *Session) Write(ctx context.Context, dps map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"devId": s.deviceID,
		"uid":   s.deviceID,
		"t":     timestamp(),
		"dps":   dps,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, CmdControl, body)
}

// request sends a frame and waits for the response carrying its sequence
// number.
func (s *Session) request(ctx context.Context, cmd Command, payload []byte) (Message, error) {
	reqCtx, cancel := context.WithTimeout(ctx, ioTimeout)
	defer cancel()

	seq := s.nextSeq()
	respCh := make(chan Message, 1)
	unsub := s.Subscribe(func(msg Message) {
		if msg.Seq == seq {
			respCh <- msg
		}
	})
	defer unsub()

	if err := s.sendSeq(reqCtx, seq, cmd, payload); err != nil {
		return Message{}, err
	}

	select {
	case <-reqCtx.Done():
		return Message{}, reqCtx.Err()
	case resp := <-respCh:
		return resp, nil
	}
}

func (s *Session) send(ctx context.Context, cmd Command, payload []byte) error {
	return s.sendSeq(ctx, s.nextSeq(), cmd, payload)
}

func (s *Session) sendSeq(ctx context.Context, seq uint32, cmd Command, payload []byte) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("session not connected")
	}

	frame, err := encodeFrame(Message{Seq: seq, Cmd: cmd, Payload: payload}, s.key)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
	} else {
		if err := conn.SetWriteDeadline(time.Now().Add(ioTimeout)); err != nil {
			return err
		}
	}
	_, err = conn.Write(frame)
	_ = conn.SetWriteDeadline(time.Time{})
	return err
}

func (s *Session) nextSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// disconnect drops one connection so a later call can redial. A newer
// connection established in the meantime is left alone.
func (s *Session) disconnect(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = conn.Close()
	if s.conn == conn {
		s.conn = nil
		s.logger.Debug("device connection dropped")
	}
}

// Close tears down the session for good. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func timestamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}
