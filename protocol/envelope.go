// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope marks frames that cannot be decoded into a
// valid envelope: missing sender_id or type, data that is not
// normalizable to a mapping, or bytes that are not JSON at all.
// Consumers drop such frames after logging — no task identity can be
// recovered from them, so they are never recorded as task failures.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the wire unit exchanged over the bus.
type Envelope struct {
	// SenderID identifies the publishing node or agent.
	SenderID string `json:"sender_id"`

	// Type tags the payload kind; by convention it is the subject the
	// envelope was published on.
	Type string `json:"type"`

	// Data is the payload, always a mapping. Senders with non-object
	// payloads get them wrapped under "raw_text" (see Decode).
	Data map[string]any `json:"data"`

	// AuthToken optionally carries the mesh token for gated subjects.
	// Empty means absent on the wire.
	AuthToken string `json:"auth_token,omitempty"`
}

// NewEnvelope builds an envelope for a subject. A nil data map becomes
// an empty one so the wire form is always a JSON object.
func NewEnvelope(senderID, subject string, data map[string]any) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{SenderID: senderID, Type: subject, Data: data}
}

// Encode serializes an envelope to its JSON wire form. Envelopes with
// an empty sender_id or type are rejected before they reach the wire
// so a malformed frame is caught on the publishing side too.
func (e Envelope) Encode() ([]byte, error) {
	if e.SenderID == "" {
		return nil, fmt.Errorf("protocol: encode: empty sender_id: %w", ErrMalformedEnvelope)
	}
	if e.Type == "" {
		return nil, fmt.Errorf("protocol: encode: empty type: %w", ErrMalformedEnvelope)
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	encoded, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return encoded, nil
}

// Decode parses the JSON wire form into an envelope, normalizing data
// to a mapping: a JSON object passes through, an absent or null data
// field becomes an empty map, and any other JSON value is wrapped as
// {"raw_text": <text>} where strings keep their unquoted form and
// other values keep their literal JSON text.
func Decode(raw []byte) (Envelope, error) {
	var frame struct {
		SenderID  string          `json:"sender_id"`
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		AuthToken string          `json:"auth_token"`
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode: %v: %w", err, ErrMalformedEnvelope)
	}
	if frame.SenderID == "" {
		return Envelope{}, fmt.Errorf("protocol: decode: missing sender_id: %w", ErrMalformedEnvelope)
	}
	if frame.Type == "" {
		return Envelope{}, fmt.Errorf("protocol: decode: missing type: %w", ErrMalformedEnvelope)
	}

	data, err := normalizeData(frame.Data)
	if err != nil {
		return Envelope{}, err
	}

	return Envelope{
		SenderID:  frame.SenderID,
		Type:      frame.Type,
		Data:      data,
		AuthToken: frame.AuthToken,
	}, nil
}

// IsMalformed reports whether err stems from an undecodable envelope.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedEnvelope)
}

// normalizeData turns the raw data field into a mapping.
func normalizeData(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("protocol: decode: data: %v: %w", err, ErrMalformedEnvelope)
	}

	switch v := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	case string:
		return map[string]any{"raw_text": v}, nil
	default:
		// Numbers, booleans, arrays: keep the literal JSON text.
		return map[string]any{"raw_text": string(raw)}, nil
	}
}
