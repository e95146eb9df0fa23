package ams

import (
	"errors"
	"fmt"
)

// Sentinel errors for the AMS wire layer.
var (
	// ErrInvalidNetID indicates NetID text or bytes that do not form a
	// valid six-segment identity.
	ErrInvalidNetID = errors.New("ams: invalid net id")
	// ErrUnresolvedHost indicates no usable local network identity to
	// derive a NetID from.
	ErrUnresolvedHost = errors.New("ams: unresolved host")
	// ErrFraming indicates a violation of the stream framing contract:
	// a length prefix out of bounds, a header or payload that does not
	// decode, or a length field inconsistent with the actual bytes.
	// Framing errors are connection-fatal; the stream is never
	// resynchronized.
	ErrFraming = errors.New("ams: framing error")
)

// Result codes a remote device returns in the header error-code field or
// the leading result field of a response payload.
const (
	CodeDeviceError           uint32 = 0x700
	CodeServiceNotSupported   uint32 = 0x701
	CodeInvalidIndexGroup     uint32 = 0x702
	CodeInvalidIndexOffset    uint32 = 0x703
	CodeAccessDenied          uint32 = 0x704
	CodeInvalidSize           uint32 = 0x705
	CodeInvalidData           uint32 = 0x706
	CodeNotReady              uint32 = 0x707
	CodeBusy                  uint32 = 0x708
	CodeSymbolNotFound        uint32 = 0x710
	CodeSymbolVersionInvalid  uint32 = 0x711
	CodeInvalidDeviceState    uint32 = 0x712
	CodeNotificationUnknown   uint32 = 0x714
	CodeClientNotRegistered   uint32 = 0x715
	CodeNoMoreHandles         uint32 = 0x716
	CodeNotificationSizeLimit uint32 = 0x717
)

// DeviceError is a non-zero result code returned by the remote device for
// a single request. It is request-scoped: the circuit that carried the
// request stays usable.
type DeviceError uint32

func (e DeviceError) Error() string {
	if name := deviceErrName(uint32(e)); name != "" {
		return fmt.Sprintf("ams: device error 0x%x: %s", uint32(e), name)
	}

	return fmt.Sprintf("ams: device error 0x%x", uint32(e))
}

// Code returns the raw device result code.
func (e DeviceError) Code() uint32 { return uint32(e) }

// AsDeviceError reports whether err carries a DeviceError and returns it.
func AsDeviceError(err error) (DeviceError, bool) {
	var devErr DeviceError
	if errors.As(err, &devErr) {
		return devErr, true
	}

	return 0, false
}

func deviceErrName(code uint32) string {
	switch code {
	case CodeDeviceError:
		return "device error"
	case CodeServiceNotSupported:
		return "service not supported"
	case CodeInvalidIndexGroup:
		return "invalid index group"
	case CodeInvalidIndexOffset:
		return "invalid index offset"
	case CodeAccessDenied:
		return "access denied"
	case CodeInvalidSize:
		return "invalid size"
	case CodeInvalidData:
		return "invalid data"
	case CodeNotReady:
		return "device not ready"
	case CodeBusy:
		return "device busy"
	case CodeSymbolNotFound:
		return "symbol not found"
	case CodeSymbolVersionInvalid:
		return "symbol version invalid"
	case CodeInvalidDeviceState:
		return "invalid device state"
	case CodeNotificationUnknown:
		return "notification handle unknown"
	case CodeClientNotRegistered:
		return "notification client not registered"
	case CodeNoMoreHandles:
		return "no more notification handles"
	case CodeNotificationSizeLimit:
		return "notification size too large"
	default:
		return ""
	}
}
