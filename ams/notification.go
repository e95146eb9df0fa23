package ams

import (
	"encoding/binary"
	"fmt"
	"time"
)

// filetimeEpochDelta is the count of 100ns intervals between the Windows
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01). Notification
// timestamps travel as FILETIME on the wire.
const filetimeEpochDelta = 116444736000000000

func filetimeFromTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100 + filetimeEpochDelta)
}

func timeFromFiletime(ft uint64) time.Time {
	return time.Unix(0, (int64(ft)-filetimeEpochDelta)*100)
}

// NotificationSample is one pushed value for one notification handle.
type NotificationSample struct {
	Handle uint32
	Data   []byte
}

// NotificationStamp groups the samples captured at one server timestamp.
// Timestamps have 100ns resolution on the wire.
type NotificationStamp struct {
	Timestamp time.Time
	Samples   []NotificationSample
}

// NotificationStream is the payload of an unsolicited DeviceNotification
// frame: one or more stamps, each carrying samples for registered handles.
//
// Wire layout: total length (4, covering everything after this field),
// stamp count (4); per stamp: FILETIME timestamp (8), sample count (4);
// per sample: handle (4), data size (4), data.
type NotificationStream struct {
	Stamps []NotificationStamp
}

func (ns *NotificationStream) MarshalBinary() ([]byte, error) {
	size := 4
	for i := range ns.Stamps {
		size += 12
		for j := range ns.Stamps[i].Samples {
			size += 8 + len(ns.Stamps[i].Samples[j].Data)
		}
	}

	buf := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(ns.Stamps)))

	off := 8
	for i := range ns.Stamps {
		stamp := &ns.Stamps[i]
		binary.LittleEndian.PutUint64(buf[off:off+8], filetimeFromTime(stamp.Timestamp))
		binary.LittleEndian.PutUint32(buf[off+8:off+12], uint32(len(stamp.Samples)))
		off += 12

		for j := range stamp.Samples {
			sample := &stamp.Samples[j]
			binary.LittleEndian.PutUint32(buf[off:off+4], sample.Handle)
			binary.LittleEndian.PutUint32(buf[off+4:off+8], uint32(len(sample.Data)))
			off += 8
			off += copy(buf[off:], sample.Data)
		}
	}

	return buf, nil
}

func (ns *NotificationStream) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return payloadSizeErr("notification stream", len(data), 8)
	}

	declared := binary.LittleEndian.Uint32(data[0:4])
	if int(declared) != len(data)-4 {
		return fmt.Errorf("%w: notification stream declares %d bytes, carries %d", ErrFraming, declared, len(data)-4)
	}

	stampCount := binary.LittleEndian.Uint32(data[4:8])
	rest := data[8:]

	// Declared counts are checked against the remaining bytes before any
	// allocation sized from them.
	if uint64(stampCount)*12 > uint64(len(rest)) {
		return fmt.Errorf("%w: notification stream declares %d stamps in %d bytes", ErrFraming, stampCount, len(rest))
	}

	ns.Stamps = make([]NotificationStamp, 0, stampCount)

	for s := uint32(0); s < stampCount; s++ {
		if len(rest) < 12 {
			return payloadSizeErr("notification stamp", len(rest), 12)
		}

		stamp := NotificationStamp{Timestamp: timeFromFiletime(binary.LittleEndian.Uint64(rest[0:8]))}
		sampleCount := binary.LittleEndian.Uint32(rest[8:12])
		rest = rest[12:]

		if uint64(sampleCount)*8 > uint64(len(rest)) {
			return fmt.Errorf("%w: notification stamp declares %d samples in %d bytes", ErrFraming, sampleCount, len(rest))
		}

		stamp.Samples = make([]NotificationSample, 0, sampleCount)

		for i := uint32(0); i < sampleCount; i++ {
			if len(rest) < 8 {
				return payloadSizeErr("notification sample", len(rest), 8)
			}

			handle := binary.LittleEndian.Uint32(rest[0:4])
			size := binary.LittleEndian.Uint32(rest[4:8])
			rest = rest[8:]

			if uint64(size) > uint64(len(rest)) {
				return fmt.Errorf("%w: notification sample declares %d data bytes, %d remain", ErrFraming, size, len(rest))
			}

			sample := NotificationSample{Handle: handle}
			if size > 0 {
				sample.Data = rest[:size]
			}

			stamp.Samples = append(stamp.Samples, sample)
			rest = rest[size:]
		}

		ns.Stamps = append(ns.Stamps, stamp)
	}

	if len(rest) != 0 {
		return fmt.Errorf("%w: notification stream has %d trailing bytes", ErrFraming, len(rest))
	}

	return nil
}
