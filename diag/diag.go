// Package diag reads EtherCAT slave diagnostics through the generic
// ADS read and write operations: application-layer state, RX error and
// CRC counters, and lost-link counters, addressed register by register
// through the EtherCAT master port.
//
// Counter registers are clear-on-write. ResetFrameCounters is therefore
// observable bus state, not a local operation: after a reset every
// peer reading the counters sees zeros until new errors accumulate.
package diag

import "fmt"

// ALState is the application-layer state of an EtherCAT slave, the low
// nibble of its AL status register.
type ALState uint8

const (
	ALInit   ALState = 0x01
	ALPreOp  ALState = 0x02
	ALBoot   ALState = 0x03
	ALSafeOp ALState = 0x04
	ALOp     ALState = 0x08
)

// ALErrorFlag is the AL status bit set while the slave reports an
// application-layer error.
const ALErrorFlag uint16 = 0x0010

func (s ALState) String() string {
	switch s {
	case ALInit:
		return "Init"
	case ALPreOp:
		return "PreOp"
	case ALBoot:
		return "Boot"
	case ALSafeOp:
		return "SafeOp"
	case ALOp:
		return "Op"
	default:
		return fmt.Sprintf("ALState(0x%02x)", uint8(s))
	}
}

// SlaveState is one slave's decoded AL status register.
type SlaveState struct {
	Slave uint16
	State ALState
	// Error is the AL error flag. A slave can sit in SafeOp with the
	// error flag set after a fault backed it out of Op.
	Error bool
	// Raw is the full AL status register value.
	Raw uint16
}

// Operational reports whether the slave is in Op without an AL error.
func (s SlaveState) Operational() bool {
	return s.State == ALOp && !s.Error
}

func (s SlaveState) String() string {
	if s.Error {
		return fmt.Sprintf("slave %d: %s (error)", s.Slave, s.State)
	}

	return fmt.Sprintf("slave %d: %s", s.Slave, s.State)
}

// PortCounters carries the error counters of one slave port.
type PortCounters struct {
	// InvalidFrames counts frames with an invalid preamble or format.
	InvalidFrames uint8
	// CRCErrors counts frames that failed the frame checksum.
	CRCErrors uint8
}

// CRCCounters is the decoded RX error counter block of one slave:
// four ports of invalid-frame and CRC error counters, each saturating
// at 255.
type CRCCounters struct {
	Slave uint16
	Ports [4]PortCounters
}

// Total returns the sum of all counters across ports.
func (c CRCCounters) Total() uint32 {
	var total uint32
	for _, p := range c.Ports {
		total += uint32(p.InvalidFrames) + uint32(p.CRCErrors)
	}

	return total
}

// HasErrors reports whether any counter is non-zero.
func (c CRCCounters) HasErrors() bool { return c.Total() > 0 }

// FrameCounters is the invalid-frame half of one slave's RX error
// block, one counter per port. It shares the block with the CRC
// counters, so ResetFrameCounters clears both.
type FrameCounters struct {
	Slave uint16
	Ports [4]uint8
}

// Total returns the sum across ports.
func (c FrameCounters) Total() uint32 {
	var total uint32
	for _, p := range c.Ports {
		total += uint32(p)
	}

	return total
}

// LostLinkCounters is the decoded lost-link counter block of one slave,
// one counter per port.
type LostLinkCounters struct {
	Slave uint16
	Ports [4]uint8
}

// Total returns the sum across ports.
func (c LostLinkCounters) Total() uint32 {
	var total uint32
	for _, p := range c.Ports {
		total += uint32(p)
	}

	return total
}

// BusReport aggregates one diagnostic sweep over a set of slaves.
type BusReport struct {
	States    map[uint16]SlaveState
	CRC       map[uint16]CRCCounters
	LostLinks map[uint16]LostLinkCounters
}

// Healthy reports whether every swept slave is operational with clear
// counters.
func (r BusReport) Healthy() bool {
	for _, state := range r.States {
		if !state.Operational() {
			return false
		}
	}

	for _, counters := range r.CRC {
		if counters.HasErrors() {
			return false
		}
	}

	for _, links := range r.LostLinks {
		if links.Total() > 0 {
			return false
		}
	}

	return true
}
