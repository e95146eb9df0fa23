package diag

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/plcforge/go-ads/ads"
	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/logger"
)

// DefaultDeviceID is the I/O device id of the first EtherCAT master.
const DefaultDeviceID uint16 = 1

// Monitor reads slave diagnostics through an ADS client. The client is
// shared, not owned: diagnostic reads interleave with whatever other
// traffic the client carries, and the monitor never closes it.
type Monitor struct {
	client   *ads.Client
	deviceID uint16
	logger   logger.Logger
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithDeviceID selects the I/O device id of the EtherCAT master to
// address.
func WithDeviceID(id uint16) MonitorOption {
	return func(m *Monitor) { m.deviceID = id }
}

// WithLogger sets the monitor logger.
func WithLogger(l logger.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a Monitor reading through client.
func NewMonitor(client *ads.Client, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		client:   client,
		deviceID: DefaultDeviceID,
		logger:   logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// readRegister reads length bytes starting at one slave register.
func (m *Monitor) readRegister(ctx context.Context, slave, register uint16, length uint32) ([]byte, error) {
	data, err := m.client.Read(ctx,
		ams.SlaveRegisterGroup(m.deviceID),
		ams.SlaveRegisterOffset(slave, register),
		length,
	)
	if err != nil {
		return nil, fmt.Errorf("diag: slave %d register 0x%04x: %w", slave, register, err)
	}

	if len(data) != int(length) {
		return nil, fmt.Errorf("diag: slave %d register 0x%04x: %d bytes, want %d", slave, register, len(data), length)
	}

	return data, nil
}

// writeRegister writes data starting at one slave register.
func (m *Monitor) writeRegister(ctx context.Context, slave, register uint16, data []byte) error {
	err := m.client.Write(ctx,
		ams.SlaveRegisterGroup(m.deviceID),
		ams.SlaveRegisterOffset(slave, register),
		data,
	)
	if err != nil {
		return fmt.Errorf("diag: slave %d register 0x%04x: %w", slave, register, err)
	}

	return nil
}

// CheckSlaveState reads and decodes one slave's AL status register.
func (m *Monitor) CheckSlaveState(ctx context.Context, slave uint16) (SlaveState, error) {
	data, err := m.readRegister(ctx, slave, ams.RegisterALStatus, ams.RegisterStatusSize)
	if err != nil {
		return SlaveState{}, err
	}

	raw := binary.LittleEndian.Uint16(data)

	return SlaveState{
		Slave: slave,
		State: ALState(raw & 0x0F),
		Error: raw&ALErrorFlag != 0,
		Raw:   raw,
	}, nil
}

// CheckSlaveCRC reads and decodes one slave's RX error counter block.
func (m *Monitor) CheckSlaveCRC(ctx context.Context, slave uint16) (CRCCounters, error) {
	data, err := m.readRegister(ctx, slave, ams.RegisterRxErrCounters, ams.RegisterRxErrCountersSize)
	if err != nil {
		return CRCCounters{}, err
	}

	counters := CRCCounters{Slave: slave}
	for port := 0; port < len(counters.Ports); port++ {
		counters.Ports[port] = PortCounters{
			InvalidFrames: data[2*port],
			CRCErrors:     data[2*port+1],
		}
	}

	return counters, nil
}

// CheckLostLinks reads and decodes one slave's lost-link counter block.
func (m *Monitor) CheckLostLinks(ctx context.Context, slave uint16) (LostLinkCounters, error) {
	data, err := m.readRegister(ctx, slave, ams.RegisterLostLink, ams.RegisterLostLinkSize)
	if err != nil {
		return LostLinkCounters{}, err
	}

	links := LostLinkCounters{Slave: slave}
	copy(links.Ports[:], data)

	return links, nil
}

// DLStatus reads one slave's raw data-link status register.
func (m *Monitor) DLStatus(ctx context.Context, slave uint16) (uint16, error) {
	data, err := m.readRegister(ctx, slave, ams.RegisterDLStatus, ams.RegisterStatusSize)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(data), nil
}

// ResetFrameCounters clears one slave's RX error counter block. The
// clear is bus-visible: every peer reading the block afterwards sees
// zeros until new errors accumulate.
func (m *Monitor) ResetFrameCounters(ctx context.Context, slave uint16) error {
	return m.writeRegister(ctx, slave, ams.RegisterRxErrCounters, make([]byte, ams.RegisterRxErrCountersSize))
}

// ResetLostLinkCounters clears one slave's lost-link counter block.
func (m *Monitor) ResetLostLinkCounters(ctx context.Context, slave uint16) error {
	return m.writeRegister(ctx, slave, ams.RegisterLostLink, make([]byte, ams.RegisterLostLinkSize))
}

// PollStates reads the AL status of every given slave. The first
// failure aborts the sweep.
func (m *Monitor) PollStates(ctx context.Context, slaves []uint16) (map[uint16]SlaveState, error) {
	states := make(map[uint16]SlaveState, len(slaves))

	for _, slave := range slaves {
		state, err := m.CheckSlaveState(ctx, slave)
		if err != nil {
			return nil, err
		}

		states[slave] = state
	}

	return states, nil
}

// PollCRC reads the RX error counters of every given slave. The first
// failure aborts the sweep.
func (m *Monitor) PollCRC(ctx context.Context, slaves []uint16) (map[uint16]CRCCounters, error) {
	counters := make(map[uint16]CRCCounters, len(slaves))

	for _, slave := range slaves {
		crc, err := m.CheckSlaveCRC(ctx, slave)
		if err != nil {
			return nil, err
		}

		counters[slave] = crc
	}

	return counters, nil
}

// PollFrameCounters reads the invalid-frame counters of every given
// slave. The first failure aborts the sweep.
func (m *Monitor) PollFrameCounters(ctx context.Context, slaves []uint16) (map[uint16]FrameCounters, error) {
	counters := make(map[uint16]FrameCounters, len(slaves))

	for _, slave := range slaves {
		crc, err := m.CheckSlaveCRC(ctx, slave)
		if err != nil {
			return nil, err
		}

		frames := FrameCounters{Slave: slave}
		for port, p := range crc.Ports {
			frames.Ports[port] = p.InvalidFrames
		}

		counters[slave] = frames
	}

	return counters, nil
}

// CheckBus runs one full diagnostic sweep: AL states, RX error
// counters and lost-link counters for every given slave.
func (m *Monitor) CheckBus(ctx context.Context, slaves []uint16) (BusReport, error) {
	report := BusReport{
		States:    make(map[uint16]SlaveState, len(slaves)),
		CRC:       make(map[uint16]CRCCounters, len(slaves)),
		LostLinks: make(map[uint16]LostLinkCounters, len(slaves)),
	}

	for _, slave := range slaves {
		state, err := m.CheckSlaveState(ctx, slave)
		if err != nil {
			return BusReport{}, err
		}

		crc, err := m.CheckSlaveCRC(ctx, slave)
		if err != nil {
			return BusReport{}, err
		}

		links, err := m.CheckLostLinks(ctx, slave)
		if err != nil {
			return BusReport{}, err
		}

		report.States[slave] = state
		report.CRC[slave] = crc
		report.LostLinks[slave] = links

		if !state.Operational() || crc.HasErrors() || links.Total() > 0 {
			m.logger.Debug("slave degraded",
				"slave", slave,
				"state", state.State.String(),
				"alError", state.Error,
				"crcErrors", crc.Total(),
				"lostLinks", links.Total(),
			)
		}
	}

	return report, nil
}
