package ams

// EtherCAT slave controller register addresses reachable through
// [IndexGroupSlaveRegister] on [PortEtherCATMaster]. Multi-byte
// registers are little-endian like the rest of the wire.
const (
	// RegisterDLStatus is the 2-byte data-link status register.
	RegisterDLStatus uint16 = 0x0110
	// RegisterALStatus is the 2-byte application-layer status register:
	// the low nibble carries the AL state, bit 4 the AL error flag.
	RegisterALStatus uint16 = 0x0130
	// RegisterRxErrCounters is the start of the 8-byte RX error counter
	// block: per port one invalid-frame counter and one CRC error
	// counter, each saturating at 0xFF. Any write to the block clears
	// all eight counters.
	RegisterRxErrCounters uint16 = 0x0300
	// RegisterLostLink is the start of the 4-byte lost-link counter
	// block, one counter per port. Any write clears the block.
	RegisterLostLink uint16 = 0x0310
)

// Byte sizes of the slave register blocks.
const (
	RegisterStatusSize        = 2
	RegisterRxErrCountersSize = 8
	RegisterLostLinkSize      = 4
)

// SlaveRegisterGroup packs an I/O device id into the index group
// selecting slave register access.
func SlaveRegisterGroup(deviceID uint16) uint32 {
	return uint32(deviceID)<<16 | IndexGroupSlaveRegister
}

// SplitSlaveRegisterGroup reports whether group selects slave register
// access and unpacks the I/O device id.
func SplitSlaveRegisterGroup(group uint32) (deviceID uint16, ok bool) {
	if group&0xFFFF != IndexGroupSlaveRegister {
		return 0, false
	}

	return uint16(group >> 16), true
}

// SlaveRegisterOffset packs a slave address and register address into
// the index offset for slave register access.
func SlaveRegisterOffset(slaveAddr, register uint16) uint32 {
	return uint32(slaveAddr)<<16 | uint32(register)
}

// SplitSlaveRegisterOffset unpacks a slave register index offset.
func SplitSlaveRegisterOffset(offset uint32) (slaveAddr, register uint16) {
	return uint16(offset >> 16), uint16(offset)
}
