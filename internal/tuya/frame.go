package tuya

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Command identifies a Tuya 3.3 frame type.
type Command uint32

const (
	CmdControl   Command = 0x07 // DPS write
	CmdStatus    Command = 0x08 // unsolicited status push
	CmdHeartbeat Command = 0x09
	CmdDPQuery   Command = 0x0a // DPS poll
)

const (
	framePrefix uint32 = 0x000055aa
	frameSuffix uint32 = 0x0000aa55

	// header: prefix + seq + cmd + length
	frameHeaderLen = 16
	// trailer inside length: crc + suffix
	frameTrailerLen = 8

	protocolVersion = "3.3"
)

// versionHeader prefixes encrypted command payloads: the protocol version
// followed by 12 reserved zero bytes. DP_QUERY payloads omit it.
var versionHeader = append([]byte(protocolVersion), make([]byte, 12)...)

// Message is one decoded frame. ReturnCode is only meaningful on frames
// received from the device.
type Message struct {
	Seq        uint32
	Cmd        Command
	ReturnCode uint32
	Payload    []byte
}

// encodeFrame builds a client frame: the JSON payload is AES-ECB
// encrypted with the local key, version-headed except for DP_QUERY, and
// wrapped in the prefix/length/crc/suffix envelope.
func encodeFrame(msg Message, key []byte) ([]byte, error) {
	payload := msg.Payload
	if len(payload) > 0 {
		encrypted, err := aesEcbEncrypt(payload, key)
		if err != nil {
			return nil, err
		}
		if msg.Cmd != CmdDPQuery {
			payload = append(append([]byte(nil), versionHeader...), encrypted...)
		} else {
			payload = encrypted
		}
	}

	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.BigEndian, framePrefix)
	_ = binary.Write(buf, binary.BigEndian, msg.Seq)
	_ = binary.Write(buf, binary.BigEndian, uint32(msg.Cmd))
	_ = binary.Write(buf, binary.BigEndian, uint32(len(payload)+frameTrailerLen))
	buf.Write(payload)
	_ = binary.Write(buf, binary.BigEndian, crc32.ChecksumIEEE(buf.Bytes()))
	_ = binary.Write(buf, binary.BigEndian, frameSuffix)
	return buf.Bytes(), nil
}

// frameDecoder reassembles device frames from a TCP byte stream.
type frameDecoder struct {
	key    []byte
	buffer []byte
}

func newFrameDecoder(key []byte) *frameDecoder {
	return &frameDecoder{key: key}
}

// Feed appends stream data and returns every complete frame it can
// decode. Garbage before a prefix is discarded byte by byte; a corrupt
// frame is skipped without losing the ones behind it.
func (d *frameDecoder) Feed(data []byte) ([]Message, error) {
	d.buffer = append(d.buffer, data...)
	var messages []Message
	for {
		// Resynchronize on the frame prefix.
		for len(d.buffer) >= 4 && binary.BigEndian.Uint32(d.buffer[:4]) != framePrefix {
			d.buffer = d.buffer[1:]
		}
		if len(d.buffer) < frameHeaderLen {
			return messages, nil
		}
		length := binary.BigEndian.Uint32(d.buffer[12:16])
		if length < frameTrailerLen || length > 1<<20 {
			d.buffer = d.buffer[1:]
			continue
		}
		total := frameHeaderLen + int(length)
		if len(d.buffer) < total {
			return messages, nil
		}
		frame := d.buffer[:total]
		d.buffer = d.buffer[total:]

		msg, err := d.decodeFrame(frame)
		if err != nil {
			return messages, err
		}
		messages = append(messages, msg)
	}
}

func (d *frameDecoder) decodeFrame(frame []byte) (Message, error) {
	end := len(frame)
	if binary.BigEndian.Uint32(frame[end-4:]) != frameSuffix {
		return Message{}, errors.New("missing frame suffix")
	}
	checksum := binary.BigEndian.Uint32(frame[end-8 : end-4])
	if crc32.ChecksumIEEE(frame[:end-8]) != checksum {
		return Message{}, errors.New("checksum mismatch")
	}

	msg := Message{
		Seq: binary.BigEndian.Uint32(frame[4:8]),
		Cmd: Command(binary.BigEndian.Uint32(frame[8:12])),
	}

	payload := frame[frameHeaderLen : end-8]
	// Device frames carry a 4-byte return code ahead of the payload.
	if len(payload) >= 4 {
		msg.ReturnCode = binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
	}
	if bytes.HasPrefix(payload, []byte(protocolVersion)) && len(payload) >= len(versionHeader) {
		payload = payload[len(versionHeader):]
	}
	if len(payload) > 0 {
		decrypted, err := aesEcbDecrypt(payload, d.key)
		if err != nil {
			return Message{}, fmt.Errorf("decrypt payload: %w", err)
		}
		msg.Payload = decrypted
	}
	return msg, nil
}
