package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/geocoder89/truckmatch/internal/domain/task"
)

func EncodePayload(t Type, payload any) (json.RawMessage, error) {
	if !t.IsValid() {
		return nil, ErrInvalidType
	}

	if err := ValidatePayload(t, payload); err != nil {
		return nil, err
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return b, nil
}

// DecodePayload unmarshals the task payload into its typed struct.
func DecodePayload(tk task.Task) (any, error) {
	t := Type(tk.Type)
	if !t.IsValid() {
		return nil, ErrInvalidType
	}
	if len(tk.Payload) == 0 {
		return nil, ErrInvalidPayload
	}

	switch t {
	case TypeApplicationNotify:
		var p ApplicationNotifyPayload
		if err := json.Unmarshal(tk.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := ValidatePayload(t, p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, ErrInvalidType
	}
}
