package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireEnvelope is the JSON shape on the channel.
type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses one channel message.
//
// It returns an error wrapping ErrMalformed for unparseable input, a missing
// type, or an invalid payload, and one wrapping ErrUnknownType for types this
// client does not recognise.
func Decode(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var (
		payload Payload
		err     error
	)

	switch Type(w.Type) {
	case TypeProgressUpdate:
		var p ProgressUpdate
		if err = decodePayload(w.Data, &p, true); err == nil {
			err = p.validate()
		}
		payload = p

	case TypeRecordCompleted:
		var p RecordCompleted
		if err = decodePayload(w.Data, &p, true); err == nil && p.RecordID == "" {
			err = fmt.Errorf("record_completed: missing recordId")
		}
		payload = p

	case TypeAgentLog:
		var p AgentLog
		err = decodePayload(w.Data, &p, true)
		payload = p

	case TypeJobCompleted:
		var p JobCompleted
		err = decodePayload(w.Data, &p, false)
		payload = p

	case TypeJobFailed:
		var p JobFailed
		err = decodePayload(w.Data, &p, false)
		payload = p

	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, w.Type)
	}

	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s: %v", ErrMalformed, w.Type, err)
	}

	return Envelope{Type: Type(w.Type), Payload: payload}, nil
}

// Encode serialises an envelope to its wire form.
func Encode(e Envelope) ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformed)
	}
	if e.Payload.Kind() != e.Type {
		return nil, fmt.Errorf("%w: payload %s does not match type %s", ErrMalformed, e.Payload.Kind(), e.Type)
	}
	if e.Type == TypeConnectionLost {
		return nil, fmt.Errorf("%w: %s is local only", ErrUnknownType, e.Type)
	}

	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	return json.Marshal(wireEnvelope{Type: string(e.Type), Data: data})
}

// decodePayload unmarshals a data object. Absent or null data is accepted
// only when required is false.
func decodePayload(raw json.RawMessage, v any, required bool) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if required {
			return fmt.Errorf("missing data")
		}
		return nil
	}
	if trimmed[0] != '{' {
		return fmt.Errorf("data is not an object")
	}
	return json.Unmarshal(trimmed, v)
}

func (p ProgressUpdate) validate() error {
	if p.Progress < 0 || p.Progress > 100 {
		return fmt.Errorf("progress %d out of range 0-100", p.Progress)
	}
	if p.CompletedRecords < 0 {
		return fmt.Errorf("completedRecords %d is negative", p.CompletedRecords)
	}
	return nil
}
