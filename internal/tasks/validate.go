package tasks

import "strings"

func ValidatePayload(t Type, payload any) error {
	if !t.IsValid() {
		return ErrInvalidType
	}

	trim := strings.TrimSpace

	switch t {
	case TypeApplicationNotify:
		var p ApplicationNotifyPayload
		switch v := payload.(type) {
		case ApplicationNotifyPayload:
			p = v
		case *ApplicationNotifyPayload:
			p = *v
		default:
			return ErrPayloadTypeMismatch
		}
		if trim(p.JobID) == "" || trim(p.DriverID) == "" || trim(p.OwnerEmail) == "" {
			return ErrInvalidPayload
		}
		return nil

	default:
		return ErrInvalidType
	}
}
