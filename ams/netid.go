package ams

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// NetIDLen is the encoded size of a NetID in bytes.
const NetIDLen = 6

// DefaultTCPPort is the TCP port an AMS peer listens on.
const DefaultTCPPort = 48898

// Well-known AMS ports.
const (
	// PortPLCRuntime1 addresses the first PLC runtime on the target device.
	PortPLCRuntime1 Port = 851
	// PortEtherCATMaster addresses the EtherCAT master for register-level
	// diagnostic access.
	PortEtherCATMaster Port = 0xFFFF
)

// NetID identifies an AMS peer as six decimal segments, conventionally an
// IPv4 address extended with a fixed ".1.1" suffix. It is a value type;
// two NetIDs compare equal when all six segments match.
type NetID [NetIDLen]byte

// ParseNetID parses the dot-separated decimal form, e.g. "192.168.1.5.1.1".
// The text must contain exactly six segments, each in the range 0..255;
// anything else fails with an error wrapping [ErrInvalidNetID].
func ParseNetID(s string) (NetID, error) {
	var id NetID

	parts := strings.Split(s, ".")
	if len(parts) != NetIDLen {
		return id, fmt.Errorf("%w: %q has %d segments, want %d", ErrInvalidNetID, s, len(parts), NetIDLen)
	}

	for i, part := range parts {
		val, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return NetID{}, fmt.Errorf("%w: %q segment %d", ErrInvalidNetID, s, i+1)
		}

		id[i] = byte(val)
	}

	return id, nil
}

// NetIDFromBytes builds a NetID from its positional 6-byte form.
func NetIDFromBytes(b []byte) (NetID, error) {
	var id NetID

	if len(b) != NetIDLen {
		return id, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidNetID, len(b), NetIDLen)
	}

	copy(id[:], b)

	return id, nil
}

// LocalNetID derives a NetID for this host from the first usable unicast
// IPv4 interface address, extended with the conventional ".1.1" suffix.
// It fails with an error wrapping [ErrUnresolvedHost] when no usable
// address exists.
func LocalNetID() (NetID, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return NetID{}, fmt.Errorf("%w: %w", ErrUnresolvedHost, err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}

		ip := ipNet.IP.To4()
		if ip == nil || !ip.IsGlobalUnicast() {
			continue
		}

		return NetID{ip[0], ip[1], ip[2], ip[3], 1, 1}, nil
	}

	return NetID{}, fmt.Errorf("%w: no usable IPv4 interface address", ErrUnresolvedHost)
}

// String returns the canonical dot-separated decimal form.
// ParseNetID(id.String()) recovers id for every NetID.
func (id NetID) String() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d.%d", id[0], id[1], id[2], id[3], id[4], id[5])
}

// Bytes returns the positional 6-byte form as a fresh slice.
func (id NetID) Bytes() []byte {
	b := make([]byte, NetIDLen)
	copy(b, id[:])

	return b
}

// IsZero reports whether all six segments are zero.
func (id NetID) IsZero() bool {
	return id == NetID{}
}

// Port selects a service on an AMS peer, such as a PLC runtime or the
// EtherCAT master.
type Port uint16

// Addr is a full AMS endpoint reference: a peer identity plus a service port.
type Addr struct {
	NetID NetID
	Port  Port
}

// NewAddr builds an Addr from a NetID in text form and a port.
func NewAddr(netID string, port Port) (Addr, error) {
	id, err := ParseNetID(netID)
	if err != nil {
		return Addr{}, err
	}

	return Addr{NetID: id, Port: port}, nil
}

// String returns the endpoint in "netid:port" form.
func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.NetID, a.Port)
}
