package diag

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plcforge/go-ads/ads"
	"github.com/plcforge/go-ads/adstest"
	"github.com/plcforge/go-ads/ams"
)

func startMonitor(t *testing.T, opts ...adstest.ServerOption) (*adstest.Server, *Monitor) {
	t.Helper()

	srv := adstest.NewServer(opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	cfg, err := ads.NewConfig("127.0.0.1", srv.Port(),
		ads.WithTargetPort(ams.PortEtherCATMaster),
		ads.WithRequestTimeout(2*time.Second),
	)
	require.NoError(t, err)

	client, err := ads.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return srv, NewMonitor(client)
}

func TestCheckSlaveState(t *testing.T) {
	srv, monitor := startMonitor(t, adstest.WithSlaves(1001, 1002))
	ctx := context.Background()

	state, err := monitor.CheckSlaveState(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, uint16(1001), state.Slave)
	require.Equal(t, ALOp, state.State)
	require.False(t, state.Error)
	require.True(t, state.Operational())

	// A fault backs the slave out of Op with the error flag set.
	srv.SetSlaveALStatus(1001, uint16(ALSafeOp)|ALErrorFlag)

	state, err = monitor.CheckSlaveState(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, ALSafeOp, state.State)
	require.True(t, state.Error)
	require.False(t, state.Operational())

	// The other slave is untouched.
	state, err = monitor.CheckSlaveState(ctx, 1002)
	require.NoError(t, err)
	require.True(t, state.Operational())
}

func TestCheckSlaveStateUnknownSlave(t *testing.T) {
	_, monitor := startMonitor(t, adstest.WithSlaves(1001))

	_, err := monitor.CheckSlaveState(context.Background(), 9999)
	require.Error(t, err)

	devErr, ok := ams.AsDeviceError(err)
	require.True(t, ok)
	require.Equal(t, ams.CodeInvalidIndexOffset, devErr.Code())
}

func TestCheckSlaveCRCAndReset(t *testing.T) {
	srv, monitor := startMonitor(t, adstest.WithSlaves(1001))
	ctx := context.Background()

	counters, err := monitor.CheckSlaveCRC(ctx, 1001)
	require.NoError(t, err)
	require.False(t, counters.HasErrors())

	srv.AddSlaveRxErrors(1001, 1, 3, 5)

	counters, err = monitor.CheckSlaveCRC(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, uint8(3), counters.Ports[1].InvalidFrames)
	require.Equal(t, uint8(5), counters.Ports[1].CRCErrors)
	require.Equal(t, uint32(8), counters.Total())
	require.True(t, counters.HasErrors())

	// The reset clears the whole block on the device, observable by
	// every subsequent reader.
	require.NoError(t, monitor.ResetFrameCounters(ctx, 1001))

	counters, err = monitor.CheckSlaveCRC(ctx, 1001)
	require.NoError(t, err)
	require.False(t, counters.HasErrors())

	raw, ok := srv.SlaveRxErrors(1001)
	require.True(t, ok)
	require.Equal(t, [8]byte{}, raw)
}

func TestCheckLostLinksAndReset(t *testing.T) {
	srv, monitor := startMonitor(t, adstest.WithSlaves(1001))
	ctx := context.Background()

	srv.AddSlaveLostLinks(1001, 2, 4)

	links, err := monitor.CheckLostLinks(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, uint8(4), links.Ports[2])
	require.Equal(t, uint32(4), links.Total())

	require.NoError(t, monitor.ResetLostLinkCounters(ctx, 1001))

	links, err = monitor.CheckLostLinks(ctx, 1001)
	require.NoError(t, err)
	require.Equal(t, uint32(0), links.Total())
}

func TestDLStatus(t *testing.T) {
	_, monitor := startMonitor(t, adstest.WithSlaves(1001))

	status, err := monitor.DLStatus(context.Background(), 1001)
	require.NoError(t, err)
	require.Equal(t, uint16(0x0003), status)
}

func TestPollStates(t *testing.T) {
	slaves := []uint16{1001, 1002, 1003}
	_, monitor := startMonitor(t, adstest.WithSlaves(slaves...))

	states, err := monitor.PollStates(context.Background(), slaves)
	require.NoError(t, err)
	require.Len(t, states, 3)

	for _, slave := range slaves {
		require.True(t, states[slave].Operational(), "slave %d", slave)
	}
}

func TestPollStatesAbortsOnError(t *testing.T) {
	_, monitor := startMonitor(t, adstest.WithSlaves(1001))

	states, err := monitor.PollStates(context.Background(), []uint16{1001, 9999})
	require.Error(t, err)
	require.Nil(t, states)
}

func TestPollSurfacesTimeout(t *testing.T) {
	srv := adstest.NewServer(
		adstest.WithSlaves(1001),
		adstest.WithHandlerDelay(300*time.Millisecond),
	)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Stop() })

	cfg, err := ads.NewConfig("127.0.0.1", srv.Port(),
		ads.WithTargetPort(ams.PortEtherCATMaster),
		ads.WithRequestTimeout(50*time.Millisecond),
	)
	require.NoError(t, err)

	client, err := ads.Connect(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	monitor := NewMonitor(client)

	// No internal retry: the first timed-out read fails the whole sweep.
	states, err := monitor.PollStates(context.Background(), []uint16{1001})
	require.ErrorIs(t, err, ads.ErrTimeout)
	require.Nil(t, states)
}

func TestPollCounterSweeps(t *testing.T) {
	slaves := []uint16{1001, 1002}
	srv, monitor := startMonitor(t, adstest.WithSlaves(slaves...))
	ctx := context.Background()

	srv.AddSlaveRxErrors(1002, 0, 7, 2)
	srv.AddSlaveRxErrors(1002, 3, 1, 0)

	crc, err := monitor.PollCRC(ctx, slaves)
	require.NoError(t, err)
	require.Len(t, crc, 2)
	require.False(t, crc[1001].HasErrors())
	require.Equal(t, uint8(7), crc[1002].Ports[0].InvalidFrames)
	require.Equal(t, uint8(2), crc[1002].Ports[0].CRCErrors)

	// The frame sweep reports the invalid-frame halves of the same block.
	frames, err := monitor.PollFrameCounters(ctx, slaves)
	require.NoError(t, err)
	require.Equal(t, uint32(0), frames[1001].Total())
	require.Equal(t, [4]uint8{7, 0, 0, 1}, frames[1002].Ports)
	require.Equal(t, uint32(8), frames[1002].Total())

	// Clearing the block clears both views.
	require.NoError(t, monitor.ResetFrameCounters(ctx, 1002))

	frames, err = monitor.PollFrameCounters(ctx, slaves)
	require.NoError(t, err)
	require.Equal(t, uint32(0), frames[1002].Total())
}

func TestCheckBus(t *testing.T) {
	slaves := []uint16{1001, 1002}
	srv, monitor := startMonitor(t, adstest.WithSlaves(slaves...))
	ctx := context.Background()

	report, err := monitor.CheckBus(ctx, slaves)
	require.NoError(t, err)
	require.Len(t, report.States, 2)
	require.Len(t, report.CRC, 2)
	require.Len(t, report.LostLinks, 2)
	require.True(t, report.Healthy())

	srv.AddSlaveRxErrors(1002, 0, 0, 1)

	report, err = monitor.CheckBus(ctx, slaves)
	require.NoError(t, err)
	require.False(t, report.Healthy())
}
