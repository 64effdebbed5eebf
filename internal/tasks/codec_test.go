package tasks

import (
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/truckmatch/internal/domain/task"
)

func validPayload() ApplicationNotifyPayload {
	return ApplicationNotifyPayload{
		JobID:       "job-1",
		JobTitle:    "Tbilisi - Batumi",
		OwnerEmail:  "owner@example.com",
		DriverID:    "driver-1",
		DriverName:  "Giorgi",
		RequestedAt: time.Now().UTC(),
	}
}

func TestEncodeDecode_ApplicationNotify(t *testing.T) {
	payload := validPayload()

	b, err := EncodePayload(TypeApplicationNotify, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	tk := task.New(task.CreateRequest{Type: string(TypeApplicationNotify), Payload: b})

	decoded, err := DecodePayload(tk)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(ApplicationNotifyPayload)
	if !ok {
		t.Fatalf("expected ApplicationNotifyPayload, got %T", decoded)
	}

	if p.JobID != payload.JobID || p.DriverID != payload.DriverID {
		t.Fatalf("round trip mismatch: got %+v", p)
	}
}

func TestEncodePayload_TypeMismatch(t *testing.T) {
	_, err := EncodePayload(TypeApplicationNotify, struct{ JobID string }{JobID: "x"})
	if !errors.Is(err, ErrPayloadTypeMismatch) {
		t.Fatalf("expected ErrPayloadTypeMismatch, got %v", err)
	}
}

func TestValidatePayload_RequiredFields(t *testing.T) {
	p := validPayload()
	p.OwnerEmail = "  "

	if err := ValidatePayload(TypeApplicationNotify, p); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDecodePayload_UnknownType(t *testing.T) {
	tk := task.New(task.CreateRequest{Type: "export.csv", Payload: []byte(`{}`)})

	if _, err := DecodePayload(tk); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}
