// Copyright 2026 The Flotilla Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"reflect"
	"strings"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name     string
		envelope Envelope
	}{
		{
			name: "full envelope",
			envelope: Envelope{
				SenderID:  "node-7",
				Type:      SubjectTaskNew,
				Data:      map[string]any{"task_id": float64(12), "instruction": "ping host X"},
				AuthToken: "mesh-secret",
			},
		},
		{
			name:     "no auth token",
			envelope: Envelope{SenderID: "cli", Type: SubjectCoreRequest, Data: map[string]any{"op": "status"}},
		},
		{
			name:     "empty data",
			envelope: Envelope{SenderID: "node-7", Type: SubjectNodeHeartbeat, Data: map[string]any{}},
		},
		{
			name: "nested data",
			envelope: Envelope{
				SenderID: "strategist",
				Type:     SubjectTaskResult,
				Data: map[string]any{
					"plan": map[string]any{"steps": []any{"inspect", "apply"}},
				},
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			raw, err := test.envelope.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, err := Decode(raw)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(decoded, test.envelope) {
				t.Errorf("round trip = %#v, want %#v", decoded, test.envelope)
			}
		})
	}
}

func TestEncodeNilDataBecomesEmptyObject(t *testing.T) {
	raw, err := Envelope{SenderID: "n", Type: "tasks.new"}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(raw), `"data":{}`) {
		t.Errorf("wire form %s does not carry an empty data object", raw)
	}
}

func TestEncodeRejectsMissingFields(t *testing.T) {
	if _, err := (Envelope{Type: "tasks.new"}).Encode(); !IsMalformed(err) {
		t.Errorf("empty sender_id: err = %v, want malformed", err)
	}
	if _, err := (Envelope{SenderID: "n"}).Encode(); !IsMalformed(err) {
		t.Errorf("empty type: err = %v, want malformed", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"missing sender", `{"type":"tasks.new","data":{}}`},
		{"missing type", `{"sender_id":"n","data":{}}`},
		{"empty sender", `{"sender_id":"","type":"tasks.new","data":{}}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode([]byte(test.raw))
			if err == nil {
				t.Fatal("Decode succeeded, want malformed envelope error")
			}
			if !IsMalformed(err) {
				t.Errorf("err = %v, want ErrMalformedEnvelope", err)
			}
		})
	}
}

func TestDecodeNormalizesData(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]any
	}{
		{
			name: "object passes through",
			raw:  `{"sender_id":"n","type":"t","data":{"k":"v"}}`,
			want: map[string]any{"k": "v"},
		},
		{
			name: "absent data",
			raw:  `{"sender_id":"n","type":"t"}`,
			want: map[string]any{},
		},
		{
			name: "null data",
			raw:  `{"sender_id":"n","type":"t","data":null}`,
			want: map[string]any{},
		},
		{
			name: "string wraps unquoted",
			raw:  `{"sender_id":"n","type":"t","data":"restart the relay"}`,
			want: map[string]any{"raw_text": "restart the relay"},
		},
		{
			name: "number keeps JSON text",
			raw:  `{"sender_id":"n","type":"t","data":42}`,
			want: map[string]any{"raw_text": "42"},
		},
		{
			name: "array keeps JSON text",
			raw:  `{"sender_id":"n","type":"t","data":["a","b"]}`,
			want: map[string]any{"raw_text": `["a","b"]`},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			envelope, err := Decode([]byte(test.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !reflect.DeepEqual(envelope.Data, test.want) {
				t.Errorf("Data = %#v, want %#v", envelope.Data, test.want)
			}
		})
	}
}

func TestPayloadConversion(t *testing.T) {
	request := ExecRequest{TaskID: 9, Capability: CapabilityCode, Source: "chat", Instruction: "add retry"}

	data, err := EncodeData(request)
	if err != nil {
		t.Fatalf("EncodeData: %v", err)
	}

	var decoded ExecRequest
	if err := DecodeData(data, &decoded); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if decoded != request {
		t.Errorf("round trip = %+v, want %+v", decoded, request)
	}
}

func TestDecodeDataIgnoresUnknownKeys(t *testing.T) {
	data := map[string]any{"task_id": float64(3), "unexpected": "extra"}
	var result ExecResult
	if err := DecodeData(data, &result); err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if result.TaskID != 3 {
		t.Errorf("TaskID = %d, want 3", result.TaskID)
	}
}
