package near

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type StatusKind uint8

const (
	StatusUnknown StatusKind = iota
	StatusFailure
	StatusSuccessValue
	StatusSuccessReceiptID
)

func (k StatusKind) String() string {
	switch k {
	case StatusFailure:
		return "Failure"
	case StatusSuccessValue:
		return "SuccessValue"
	case StatusSuccessReceiptID:
		return "SuccessReceiptId"
	default:
		return "Unknown"
	}
}

// ExecutionStatus is either the bare string "Unknown" or an object with a
// single key naming the outcome.
type ExecutionStatus struct {
	Kind StatusKind
	Raw  json.RawMessage
}

func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ExecutionStatus{Kind: StatusUnknown}
		return nil
	}
	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		kind, err := statusKindFromName(name)
		if err != nil {
			return err
		}
		*s = ExecutionStatus{Kind: kind}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("execution status: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("execution status: expected a single key, got %d", len(obj))
	}
	for name, raw := range obj {
		kind, err := statusKindFromName(name)
		if err != nil {
			return err
		}
		*s = ExecutionStatus{Kind: kind, Raw: raw}
	}
	return nil
}

func (s ExecutionStatus) MarshalJSON() ([]byte, error) {
	if s.Kind == StatusUnknown {
		return json.Marshal(s.Kind.String())
	}
	raw := s.Raw
	if len(raw) == 0 {
		raw = json.RawMessage(`""`)
	}
	return json.Marshal(map[string]json.RawMessage{s.Kind.String(): raw})
}

func statusKindFromName(name string) (StatusKind, error) {
	switch name {
	case "Unknown":
		return StatusUnknown, nil
	case "Failure":
		return StatusFailure, nil
	case "SuccessValue":
		return StatusSuccessValue, nil
	case "SuccessReceiptId":
		return StatusSuccessReceiptID, nil
	}
	return StatusUnknown, fmt.Errorf("execution status: unknown kind %q", name)
}
