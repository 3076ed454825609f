package hal

import (
	"errors"
	"fmt"
	"strings"
)

// Normalized device errors. Every error returned by a port implementation
// should match one of these with errors.Is.
var (
	ErrSensorFault  = errors.New("SENSOR_FAULT")
	ErrDisconnected = errors.New("DISCONNECTED")
	ErrInvalidRange = errors.New("INVALID_RANGE")
)

// DeviceErrorMap lists the message tokens that map onto each normalized code.
type DeviceErrorMap struct {
	Fault        []string
	Disconnected []string
	Range        []string
}

// DeviceErrorMappings holds the token tables per device family. Unknown
// families fall back to "generic"; unknown tokens map to ErrSensorFault.
var DeviceErrorMappings = map[string]DeviceErrorMap{
	"generic": {
		Fault: []string{
			"STALE",
			"CHECKSUM",
			"NAN",
			"SENSOR",
			"BROWNOUT",
		},
		Disconnected: []string{
			"TIMEOUT",
			"NOT_FOUND",
			"DISCONNECTED",
			"NO_RESPONSE",
			"BUS_OFF",
		},
		Range: []string{
			"OUT_OF_RANGE",
			"INVALID_PARAMETER",
			"LIMIT",
		},
	},
	"can": {
		Fault: []string{
			"MAGNET_TOO_WEAK",
			"HARDWARE_FAULT",
			"STICKY_FAULT",
		},
		Disconnected: []string{
			"CAN_TIMEOUT",
			"TX_FAILED",
			"RX_TIMEOUT",
			"BUS_OFF",
		},
		Range: []string{
			"INVALID_PARAM_VALUE",
			"SOFT_LIMIT",
		},
	},
}

// HasFamily reports whether family has a token table.
func HasFamily(family string) bool {
	_, ok := DeviceErrorMappings[family]
	return ok
}

// DeviceError keeps the raw device error next to its normalized code.
type DeviceError struct {
	Device   string
	Code     error
	Original error
	Details  any
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %v (device: %v)", e.Device, e.Code, e.Original)
}

func (e *DeviceError) Unwrap() error {
	return e.Code
}

// Normalize maps a raw device error onto a normalized code using the
// "generic" table.
func Normalize(device string, raw error, details any) error {
	return NormalizeFamily(device, "generic", raw, details)
}

// NormalizeFamily maps a raw device error using the token table for family.
// Errors that are already normalized are returned unchanged.
func NormalizeFamily(device, family string, raw error, details any) error {
	if raw == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(raw, &de) {
		return raw
	}
	if errors.Is(raw, ErrSensorFault) || errors.Is(raw, ErrDisconnected) || errors.Is(raw, ErrInvalidRange) {
		return &DeviceError{Device: device, Code: codeOf(raw), Original: raw, Details: details}
	}
	return &DeviceError{
		Device:   device,
		Code:     mapDeviceErrorToCode(raw.Error(), family),
		Original: raw,
		Details:  details,
	}
}

func codeOf(err error) error {
	switch {
	case errors.Is(err, ErrDisconnected):
		return ErrDisconnected
	case errors.Is(err, ErrInvalidRange):
		return ErrInvalidRange
	default:
		return ErrSensorFault
	}
}

func mapDeviceErrorToCode(msg, family string) error {
	m, ok := DeviceErrorMappings[family]
	if !ok {
		m = DeviceErrorMappings["generic"]
	}
	upper := strings.ToUpper(msg)

	for _, token := range m.Disconnected {
		if strings.Contains(upper, token) {
			return ErrDisconnected
		}
	}
	for _, token := range m.Range {
		if strings.Contains(upper, token) {
			return ErrInvalidRange
		}
	}
	for _, token := range m.Fault {
		if strings.Contains(upper, token) {
			return ErrSensorFault
		}
	}
	return ErrSensorFault
}
