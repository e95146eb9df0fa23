// Package ams provides the wire layer of the ADS over AMS protocol used to
// communicate with industrial I/O controllers: endpoint addressing, frame
// and payload codecs, stream framing, and the shared connection
// infrastructure the higher layers build on.
//
// Every AMS frame travels on a TCP stream as a 4-byte little-endian length
// prefix followed by a fixed 32-byte header and a per-command payload. The
// header carries the target and source endpoint (NetID plus port), the
// command id, direction flags, the payload length, an error code, and the
// invoke id used to correlate responses with requests.
//
// Addressing:
//   - NetID: six-segment peer identity with exact text and byte round trips.
//   - Addr: a NetID plus an AMS port selecting a service on the peer
//     (PLC runtime, EtherCAT master).
//   - LocalNetID derives this host's identity from its first usable IPv4
//     interface address.
//
// Message Codec:
// Each supported command id has a typed request/response payload pair with
// an explicit fixed binary layout (ReadRequest/ReadResponse,
// WriteRequest/WriteResponse, ReadWriteRequest/ReadWriteResponse, state and
// device-info queries, WriteControl, notification management, and the
// unsolicited NotificationStream push). decode(encode(m)) == m holds for
// every representable payload. Frames with unknown command ids keep their
// payload opaque so the stream stays aligned.
//
// Stream Framing:
// FrameReader reads one frame at a time, validating the declared length
// before the body and bounding the body read with a deadline. Framing
// violations wrap ErrFraming and are connection-fatal: the stream is torn
// down, never resynchronized.
//
// Shared Infrastructure:
//   - TaskManager: structured goroutine lifecycle management (receiver,
//     sender, interval, and notification fan-out tasks) with panic recovery.
//   - AtomicOpState: lock-free Closed/Opening/Opened/Closing lifecycle
//     transitions.
//   - DeviceError: the distinguished error type carrying a remote device
//     result code.
package ams
