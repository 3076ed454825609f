package hal

import (
	"errors"
	"fmt"
	"testing"
)

func TestNormalizeTokenTable(t *testing.T) {
	tests := []struct {
		name   string
		family string
		raw    error
		want   error
	}{
		{"generic timeout", "generic", errors.New("read timeout on id 4"), ErrDisconnected},
		{"generic stale", "generic", errors.New("stale frame"), ErrSensorFault},
		{"generic range", "generic", errors.New("value out_of_range"), ErrInvalidRange},
		{"can magnet", "can", errors.New("MAGNET_TOO_WEAK"), ErrSensorFault},
		{"can bus off", "can", errors.New("bus_off"), ErrDisconnected},
		{"unknown family falls back", "serial", errors.New("NO_RESPONSE"), ErrDisconnected},
		{"unknown token", "generic", errors.New("weird"), ErrSensorFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NormalizeFamily("fl", tt.family, tt.raw, nil)
			if !errors.Is(err, tt.want) {
				t.Fatalf("NormalizeFamily(%v) = %v, want %v", tt.raw, err, tt.want)
			}
			var de *DeviceError
			if !errors.As(err, &de) {
				t.Fatalf("expected *DeviceError, got %T", err)
			}
			if de.Original != tt.raw {
				t.Errorf("Original = %v, want %v", de.Original, tt.raw)
			}
		})
	}
}

func TestNormalizeNil(t *testing.T) {
	if err := Normalize("gyro", nil, nil); err != nil {
		t.Fatalf("Normalize(nil) = %v, want nil", err)
	}
}

func TestNormalizeKeepsWrappedSentinel(t *testing.T) {
	raw := fmt.Errorf("encoder: %w", ErrDisconnected)
	err := Normalize("rr", raw, map[string]int{"id": 2})
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	first := Normalize("fr", errors.New("checksum mismatch"), nil)
	second := Normalize("fr", first, nil)
	if first != second {
		t.Fatalf("second normalization changed the error: %v -> %v", first, second)
	}
}
