package ads

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/logger"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("192.168.1.5", 48898)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "192.168.1.5", cfg.Host())
	assert.Equal(t, 48898, cfg.Port())
	assert.Equal(t, "192.168.1.5:48898", cfg.RemoteAddr())
	assert.True(t, cfg.TargetNetID().IsZero())
	assert.Equal(t, ams.PortPLCRuntime1, cfg.TargetPort())
	assert.True(t, cfg.SourceNetID().IsZero())
	assert.Equal(t, DefaultSourcePort, cfg.SourcePort())
	assert.Equal(t, DefaultRequestTimeout, cfg.RequestTimeout())
	assert.Equal(t, DefaultSenderQueueSize, cfg.senderQueueSize)
	assert.Equal(t, DefaultSampleQueueDepth, cfg.sampleQueueDepth)
	assert.NotNil(t, cfg.logger)
}

func TestNewConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
	}{
		{name: "empty host", host: "", port: 48898},
		{name: "zero port", host: "10.0.0.1", port: 0},
		{name: "negative port", host: "10.0.0.1", port: -1},
		{name: "port too large", host: "10.0.0.1", port: 65536},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := NewConfig(test.host, test.port)
			require.Error(t, err)
			require.Nil(t, cfg)
		})
	}
}

func TestConfigOptions(t *testing.T) {
	target, err := ams.ParseNetID("10.2.3.4.1.1")
	require.NoError(t, err)

	source, err := ams.ParseNetID("10.2.3.9.1.1")
	require.NoError(t, err)

	cfg, err := NewConfig("plc.factory.local", 48898,
		WithTargetNetID(target),
		WithTargetPort(ams.PortEtherCATMaster),
		WithSourceNetID(source),
		WithSourcePort(40001),
		WithRequestTimeout(2*time.Second),
		WithDialTimeout(1*time.Second),
		WithReadTimeout(500*time.Millisecond),
		WithSendTimeout(500*time.Millisecond),
		WithCloseTimeout(1*time.Second),
		WithSenderQueueSize(4),
		WithSampleQueueDepth(8),
		WithLogger(logger.GetLogger()),
	)
	require.NoError(t, err)

	assert.Equal(t, target, cfg.TargetNetID())
	assert.Equal(t, ams.PortEtherCATMaster, cfg.TargetPort())
	assert.Equal(t, source, cfg.SourceNetID())
	assert.Equal(t, ams.Port(40001), cfg.SourcePort())
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 1*time.Second, cfg.dialTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.readTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.sendTimeout)
	assert.Equal(t, 1*time.Second, cfg.closeTimeout)
	assert.Equal(t, 4, cfg.senderQueueSize)
	assert.Equal(t, 8, cfg.sampleQueueDepth)
}

func TestConfigOptionValidation(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{name: "zero target net id", opt: WithTargetNetID(ams.NetID{})},
		{name: "zero source net id", opt: WithSourceNetID(ams.NetID{})},
		{name: "request timeout too small", opt: WithRequestTimeout(time.Millisecond)},
		{name: "request timeout too large", opt: WithRequestTimeout(10 * time.Minute)},
		{name: "dial timeout too small", opt: WithDialTimeout(0)},
		{name: "read timeout too small", opt: WithReadTimeout(time.Microsecond)},
		{name: "send timeout too large", opt: WithSendTimeout(time.Hour)},
		{name: "close timeout too small", opt: WithCloseTimeout(0)},
		{name: "sender queue size zero", opt: WithSenderQueueSize(0)},
		{name: "sample queue depth zero", opt: WithSampleQueueDepth(0)},
		{name: "sample queue depth too large", opt: WithSampleQueueDepth(1 << 20)},
		{name: "nil logger", opt: WithLogger(nil)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg, err := NewConfig("10.0.0.1", 48898, test.opt)
			require.Error(t, err)
			require.Nil(t, cfg)
		})
	}
}
