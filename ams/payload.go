package ams

import (
	"encoding"
	"encoding/binary"
	"fmt"
	"time"
)

// Payload is a typed per-command payload with a fixed binary layout and an
// explicit encode/decode pair. All multi-byte fields are little-endian.
type Payload interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

func payloadSizeErr(what string, got, want int) error {
	return fmt.Errorf("%w: %s payload has %d bytes, want at least %d", ErrFraming, what, got, want)
}

// ReadRequest asks for Length bytes at the given index group and offset.
type ReadRequest struct {
	IndexGroup  uint32
	IndexOffset uint32
	Length      uint32
}

func (r *ReadRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], r.IndexGroup)
	binary.LittleEndian.PutUint32(buf[4:8], r.IndexOffset)
	binary.LittleEndian.PutUint32(buf[8:12], r.Length)

	return buf, nil
}

func (r *ReadRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 12 {
		return payloadSizeErr("read request", len(data), 12)
	}

	r.IndexGroup = binary.LittleEndian.Uint32(data[0:4])
	r.IndexOffset = binary.LittleEndian.Uint32(data[4:8])
	r.Length = binary.LittleEndian.Uint32(data[8:12])

	return nil
}

// ReadResponse carries the device result code and the bytes read.
type ReadResponse struct {
	Result uint32
	Data   []byte
}

func (r *ReadResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8+len(r.Data))
	binary.LittleEndian.PutUint32(buf[0:4], r.Result)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(r.Data)))
	copy(buf[8:], r.Data)

	return buf, nil
}

func (r *ReadResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return payloadSizeErr("read response", len(data), 8)
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])
	length := binary.LittleEndian.Uint32(data[4:8])
	if int(length) != len(data)-8 {
		return fmt.Errorf("%w: read response declares %d data bytes, carries %d", ErrFraming, length, len(data)-8)
	}

	r.Data = data[8:]
	if len(r.Data) == 0 {
		r.Data = nil
	}

	return nil
}

// WriteRequest writes Data at the given index group and offset.
type WriteRequest struct {
	IndexGroup  uint32
	IndexOffset uint32
	Data        []byte
}

func (r *WriteRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 12+len(r.Data))
	binary.LittleEndian.PutUint32(buf[0:4], r.IndexGroup)
	binary.LittleEndian.PutUint32(buf[4:8], r.IndexOffset)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(r.Data)))
	copy(buf[12:], r.Data)

	return buf, nil
}

func (r *WriteRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 12 {
		return payloadSizeErr("write request", len(data), 12)
	}

	r.IndexGroup = binary.LittleEndian.Uint32(data[0:4])
	r.IndexOffset = binary.LittleEndian.Uint32(data[4:8])
	length := binary.LittleEndian.Uint32(data[8:12])
	if int(length) != len(data)-12 {
		return fmt.Errorf("%w: write request declares %d data bytes, carries %d", ErrFraming, length, len(data)-12)
	}

	r.Data = data[12:]
	if len(r.Data) == 0 {
		r.Data = nil
	}

	return nil
}

// WriteResponse carries the device result code for a write.
type WriteResponse struct {
	Result uint32
}

func (r *WriteResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, r.Result)

	return buf, nil
}

func (r *WriteResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return payloadSizeErr("write response", len(data), 4)
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])

	return nil
}

// ReadWriteRequest writes Data and reads back up to ReadLength bytes in a
// single exchange. The symbol interface resolves names to handles this way.
type ReadWriteRequest struct {
	IndexGroup  uint32
	IndexOffset uint32
	ReadLength  uint32
	Data        []byte
}

func (r *ReadWriteRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16+len(r.Data))
	binary.LittleEndian.PutUint32(buf[0:4], r.IndexGroup)
	binary.LittleEndian.PutUint32(buf[4:8], r.IndexOffset)
	binary.LittleEndian.PutUint32(buf[8:12], r.ReadLength)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(r.Data)))
	copy(buf[16:], r.Data)

	return buf, nil
}

func (r *ReadWriteRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return payloadSizeErr("read-write request", len(data), 16)
	}

	r.IndexGroup = binary.LittleEndian.Uint32(data[0:4])
	r.IndexOffset = binary.LittleEndian.Uint32(data[4:8])
	r.ReadLength = binary.LittleEndian.Uint32(data[8:12])
	length := binary.LittleEndian.Uint32(data[12:16])
	if int(length) != len(data)-16 {
		return fmt.Errorf("%w: read-write request declares %d data bytes, carries %d", ErrFraming, length, len(data)-16)
	}

	r.Data = data[16:]
	if len(r.Data) == 0 {
		r.Data = nil
	}

	return nil
}

// ReadWriteResponse carries the device result code and the bytes read back.
type ReadWriteResponse struct {
	Result uint32
	Data   []byte
}

func (r *ReadWriteResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8+len(r.Data))
	binary.LittleEndian.PutUint32(buf[0:4], r.Result)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(r.Data)))
	copy(buf[8:], r.Data)

	return buf, nil
}

func (r *ReadWriteResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return payloadSizeErr("read-write response", len(data), 8)
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])
	length := binary.LittleEndian.Uint32(data[4:8])
	if int(length) != len(data)-8 {
		return fmt.Errorf("%w: read-write response declares %d data bytes, carries %d", ErrFraming, length, len(data)-8)
	}

	r.Data = data[8:]
	if len(r.Data) == 0 {
		r.Data = nil
	}

	return nil
}

// ReadStateRequest has no payload.
type ReadStateRequest struct{}

func (r *ReadStateRequest) MarshalBinary() ([]byte, error) { return nil, nil }

func (r *ReadStateRequest) UnmarshalBinary(data []byte) error {
	if len(data) != 0 {
		return fmt.Errorf("%w: read-state request carries %d unexpected bytes", ErrFraming, len(data))
	}

	return nil
}

// ReadStateResponse reports the device state machine and device-specific state.
type ReadStateResponse struct {
	Result      uint32
	ADSState    ADSState
	DeviceState uint16
}

func (r *ReadStateResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], r.Result)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(r.ADSState))
	binary.LittleEndian.PutUint16(buf[6:8], r.DeviceState)

	return buf, nil
}

func (r *ReadStateResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return payloadSizeErr("read-state response", len(data), 8)
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])
	r.ADSState = ADSState(binary.LittleEndian.Uint16(data[4:6]))
	r.DeviceState = binary.LittleEndian.Uint16(data[6:8])

	return nil
}

// ReadDeviceInfoRequest has no payload.
type ReadDeviceInfoRequest struct{}

func (r *ReadDeviceInfoRequest) MarshalBinary() ([]byte, error) { return nil, nil }

func (r *ReadDeviceInfoRequest) UnmarshalBinary(data []byte) error {
	if len(data) != 0 {
		return fmt.Errorf("%w: device-info request carries %d unexpected bytes", ErrFraming, len(data))
	}

	return nil
}

// deviceNameLen is the fixed size of the NUL-padded device name field.
const deviceNameLen = 16

// ReadDeviceInfoResponse reports the device name and version.
// Name occupies a fixed 16-byte NUL-padded field on the wire; longer names
// are truncated on encode.
type ReadDeviceInfoResponse struct {
	Result uint32
	Major  uint8
	Minor  uint8
	Build  uint16
	Name   string
}

func (r *ReadDeviceInfoResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8+deviceNameLen)
	binary.LittleEndian.PutUint32(buf[0:4], r.Result)
	buf[4] = r.Major
	buf[5] = r.Minor
	binary.LittleEndian.PutUint16(buf[6:8], r.Build)
	copy(buf[8:8+deviceNameLen], r.Name)

	return buf, nil
}

func (r *ReadDeviceInfoResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 8+deviceNameLen {
		return payloadSizeErr("device-info response", len(data), 8+deviceNameLen)
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])
	r.Major = data[4]
	r.Minor = data[5]
	r.Build = binary.LittleEndian.Uint16(data[6:8])

	name := data[8 : 8+deviceNameLen]
	end := len(name)
	for i, b := range name {
		if b == 0 {
			end = i
			break
		}
	}
	r.Name = string(name[:end])

	return nil
}

// WriteControlRequest requests a device state transition with optional
// command data.
type WriteControlRequest struct {
	ADSState    ADSState
	DeviceState uint16
	Data        []byte
}

func (r *WriteControlRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8+len(r.Data))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(r.ADSState))
	binary.LittleEndian.PutUint16(buf[2:4], r.DeviceState)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(r.Data)))
	copy(buf[8:], r.Data)

	return buf, nil
}

func (r *WriteControlRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return payloadSizeErr("write-control request", len(data), 8)
	}

	r.ADSState = ADSState(binary.LittleEndian.Uint16(data[0:2]))
	r.DeviceState = binary.LittleEndian.Uint16(data[2:4])
	length := binary.LittleEndian.Uint32(data[4:8])
	if int(length) != len(data)-8 {
		return fmt.Errorf("%w: write-control request declares %d data bytes, carries %d", ErrFraming, length, len(data)-8)
	}

	r.Data = data[8:]
	if len(r.Data) == 0 {
		r.Data = nil
	}

	return nil
}

// WriteControlResponse carries the device result code for a state transition.
type WriteControlResponse struct {
	Result uint32
}

func (r *WriteControlResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, r.Result)

	return buf, nil
}

func (r *WriteControlResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return payloadSizeErr("write-control response", len(data), 4)
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])

	return nil
}

// addNotificationReservedLen is the size of the trailing reserved block of
// an AddDeviceNotification request. It encodes as zero bytes.
const addNotificationReservedLen = 16

// AddNotificationRequest registers a device notification on the value at
// the given index group and offset. MaxDelay and CycleTime are expressed
// in whole milliseconds on the wire; sub-millisecond fractions are dropped.
type AddNotificationRequest struct {
	IndexGroup  uint32
	IndexOffset uint32
	Length      uint32
	Mode        TransmissionMode
	MaxDelay    time.Duration
	CycleTime   time.Duration
}

func (r *AddNotificationRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 24+addNotificationReservedLen)
	binary.LittleEndian.PutUint32(buf[0:4], r.IndexGroup)
	binary.LittleEndian.PutUint32(buf[4:8], r.IndexOffset)
	binary.LittleEndian.PutUint32(buf[8:12], r.Length)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Mode))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(r.MaxDelay.Milliseconds()))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(r.CycleTime.Milliseconds()))

	return buf, nil
}

func (r *AddNotificationRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 24+addNotificationReservedLen {
		return payloadSizeErr("add-notification request", len(data), 24+addNotificationReservedLen)
	}

	r.IndexGroup = binary.LittleEndian.Uint32(data[0:4])
	r.IndexOffset = binary.LittleEndian.Uint32(data[4:8])
	r.Length = binary.LittleEndian.Uint32(data[8:12])
	r.Mode = TransmissionMode(binary.LittleEndian.Uint32(data[12:16]))
	r.MaxDelay = time.Duration(binary.LittleEndian.Uint32(data[16:20])) * time.Millisecond
	r.CycleTime = time.Duration(binary.LittleEndian.Uint32(data[20:24])) * time.Millisecond

	return nil
}

// AddNotificationResponse carries the device result code and the
// server-assigned notification handle.
type AddNotificationResponse struct {
	Result uint32
	Handle uint32
}

func (r *AddNotificationResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], r.Result)
	binary.LittleEndian.PutUint32(buf[4:8], r.Handle)

	return buf, nil
}

func (r *AddNotificationResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return payloadSizeErr("add-notification response", len(data), 8)
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])
	r.Handle = binary.LittleEndian.Uint32(data[4:8])

	return nil
}

// DeleteNotificationRequest cancels the notification behind Handle.
type DeleteNotificationRequest struct {
	Handle uint32
}

func (r *DeleteNotificationRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, r.Handle)

	return buf, nil
}

func (r *DeleteNotificationRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return payloadSizeErr("delete-notification request", len(data), 4)
	}

	r.Handle = binary.LittleEndian.Uint32(data[0:4])

	return nil
}

// DeleteNotificationResponse carries the device result code for a cancel.
type DeleteNotificationResponse struct {
	Result uint32
}

func (r *DeleteNotificationResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, r.Result)

	return buf, nil
}

func (r *DeleteNotificationResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return payloadSizeErr("delete-notification response", len(data), 4)
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])

	return nil
}
