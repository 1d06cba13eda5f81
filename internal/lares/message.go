package lares

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope CMD values. Panel responses reuse the request's CMD, with
// REALTIME also carrying unsolicited change notifications.
const (
	CmdLogin    = "LOGIN"
	CmdRead     = "READ"
	CmdRealtime = "REALTIME"
	CmdUser     = "CMD_USR"
)

// Message is one wire-level envelope exchanged with the panel.
//
// Field order on the wire is fixed (SENDER, RECEIVER, CMD, ID,
// PAYLOAD_TYPE, PAYLOAD, TIMESTAMP, CRC_16) because the checksum covers a
// byte prefix of the serialised frame.
type Message struct {
	// Sender identifies the frame's originator. Outbound frames carry the
	// configured client identity; panel frames carry the panel's.
	Sender string

	// Receiver is empty when the frame is addressed to the panel.
	Receiver string

	// Cmd is the envelope command verb.
	Cmd string

	// ID is the correlation id: a monotonically increasing decimal string,
	// restarting at "1" on every new connection.
	ID string

	// PayloadType tags the payload shape. Filled from the payload itself
	// when left empty on encode.
	PayloadType string

	// Payload is the decoded frame body.
	Payload Payload

	// Timestamp is seconds since the Unix epoch.
	Timestamp int64

	// CRC is the frame checksum as transmitted, e.g. "0x1a2b". Populated
	// by Encode and by DecodeMessage.
	CRC string
}

// wireMessage fixes the serialised field order of an envelope. The
// checksum stop-point rule depends on CRC_16 being the final key.
type wireMessage struct {
	Sender      string          `json:"SENDER"`
	Receiver    string          `json:"RECEIVER"`
	Cmd         string          `json:"CMD"`
	ID          string          `json:"ID"`
	PayloadType string          `json:"PAYLOAD_TYPE"`
	Payload     json.RawMessage `json:"PAYLOAD"`
	Timestamp   int64           `json:"TIMESTAMP"`
	CRC         string          `json:"CRC_16"`
}

// inboundMessage mirrors wireMessage with tolerant scalar fields. Panel
// firmware quotes numbers inconsistently, including the envelope
// timestamp.
type inboundMessage struct {
	Sender      string          `json:"SENDER"`
	Receiver    string          `json:"RECEIVER"`
	Cmd         string          `json:"CMD"`
	ID          Scalar          `json:"ID"`
	PayloadType string          `json:"PAYLOAD_TYPE"`
	Payload     json.RawMessage `json:"PAYLOAD"`
	Timestamp   Scalar          `json:"TIMESTAMP"`
	CRC         string          `json:"CRC_16"`
}

// Encode serialises the message in wire field order, computes the
// checksum under the stop-point rule and patches it over the sentinel.
// The message's CRC field is updated to the transmitted value.
func (m *Message) Encode() ([]byte, error) {
	payload := json.RawMessage(`{}`)
	if m.Payload != nil {
		b, err := json.Marshal(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", m.PayloadType, err)
		}
		payload = b
	}

	if m.PayloadType == "" && m.Payload != nil {
		m.PayloadType = m.Payload.PayloadType()
	}

	raw, err := json.Marshal(wireMessage{
		Sender:      m.Sender,
		Receiver:    m.Receiver,
		Cmd:         m.Cmd,
		ID:          m.ID,
		PayloadType: m.PayloadType,
		Payload:     payload,
		Timestamp:   m.Timestamp,
		CRC:         crcSentinel,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	prefix, ok := checksumInput(raw)
	if !ok {
		return nil, fmt.Errorf("encode envelope: CRC_16 key missing after marshal")
	}
	m.CRC = FormatChecksum(Checksum(prefix))

	// The sentinel sits between the frame's final quotes; the checksum is
	// always the same six bytes long, so it is patched in place.
	idx := bytes.LastIndex(raw, []byte(`"`+crcSentinel+`"`))
	if idx < 0 {
		return nil, fmt.Errorf("encode envelope: checksum sentinel missing")
	}
	copy(raw[idx+1:], m.CRC)

	return raw, nil
}

// DecodeMessage parses a received frame, verifies its checksum against
// the raw bytes and decodes the payload by PAYLOAD_TYPE. Unknown payload
// types are retained opaquely rather than rejected. All failures wrap
// ErrParse: the caller drops the frame and keeps the connection alive.
func DecodeMessage(raw []byte) (*Message, error) {
	var frame inboundMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: envelope: %w", ErrParse, err)
	}

	if err := verifyChecksum(raw, frame.CRC); err != nil {
		return nil, err
	}

	payload, err := decodePayload(frame.PayloadType, frame.Payload)
	if err != nil {
		return nil, err
	}

	ts, _ := frame.Timestamp.Int64()

	return &Message{
		Sender:      frame.Sender,
		Receiver:    frame.Receiver,
		Cmd:         frame.Cmd,
		ID:          frame.ID.String(),
		PayloadType: frame.PayloadType,
		Payload:     payload,
		Timestamp:   ts,
		CRC:         frame.CRC,
	}, nil
}
