package ads

import (
	"fmt"
	"time"

	"github.com/plcforge/go-ads/ams"
	"github.com/plcforge/go-ads/logger"
)

// Default values for circuit configuration.
const (
	// DefaultTargetPort is the AMS port requests are routed to when no
	// target port is configured. Port 851 is the first PLC runtime.
	DefaultTargetPort = ams.PortPLCRuntime1
	// DefaultSourcePort is the AMS port stamped on outgoing requests.
	DefaultSourcePort ams.Port = 32905
	// DefaultRequestTimeout is how long a request waits for its response.
	DefaultRequestTimeout = 5 * time.Second
	// DefaultDialTimeout is the timeout for establishing the TCP stream.
	DefaultDialTimeout = 3 * time.Second
	// DefaultReadTimeout bounds reading the body of a frame whose length
	// prefix already arrived.
	DefaultReadTimeout = 5 * time.Second
	// DefaultSendTimeout bounds queueing and writing one outgoing frame.
	DefaultSendTimeout = 3 * time.Second
	// DefaultCloseTimeout bounds circuit teardown.
	DefaultCloseTimeout = 3 * time.Second
	// DefaultSenderQueueSize is the outgoing frame queue capacity.
	DefaultSenderQueueSize = 16
	// DefaultSampleQueueDepth is the per-subscription sample buffer
	// capacity. When a consumer lags further behind, the oldest buffered
	// sample is dropped for each new arrival.
	DefaultSampleQueueDepth = 64
)

// Validation bounds for circuit configuration.
const (
	MinRequestTimeout = 10 * time.Millisecond
	MaxRequestTimeout = 120 * time.Second
	MinIOTimeout      = 10 * time.Millisecond
	MaxIOTimeout      = 120 * time.Second
	MinQueueSize      = 1
	MaxQueueSize      = 65536
)

// Config carries the immutable settings of a client and its circuits.
// Create it with NewConfig; the zero value is not usable.
type Config struct {
	host string
	port int

	targetNetID ams.NetID
	targetPort  ams.Port
	sourceNetID ams.NetID
	sourcePort  ams.Port

	requestTimeout time.Duration
	dialTimeout    time.Duration
	readTimeout    time.Duration
	sendTimeout    time.Duration
	closeTimeout   time.Duration

	senderQueueSize  int
	sampleQueueDepth int

	logger logger.Logger
}

// NewConfig creates a circuit configuration for the router listening on
// host:port. The target NetID defaults to host's IPv4 address extended
// with ".1.1" when host is an IPv4 literal; set it explicitly with
// WithTargetNetID otherwise.
func NewConfig(host string, port int, opts ...Option) (*Config, error) {
	if host == "" {
		return nil, fmt.Errorf("ads: empty host")
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("ads: invalid TCP port %d", port)
	}

	cfg := &Config{
		host:             host,
		port:             port,
		targetPort:       DefaultTargetPort,
		sourcePort:       DefaultSourcePort,
		requestTimeout:   DefaultRequestTimeout,
		dialTimeout:      DefaultDialTimeout,
		readTimeout:      DefaultReadTimeout,
		sendTimeout:      DefaultSendTimeout,
		closeTimeout:     DefaultCloseTimeout,
		senderQueueSize:  DefaultSenderQueueSize,
		sampleQueueDepth: DefaultSampleQueueDepth,
		logger:           logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Host returns the router host name or address.
func (c *Config) Host() string { return c.host }

// Port returns the router TCP port.
func (c *Config) Port() int { return c.port }

// RemoteAddr returns the router address in host:port form.
func (c *Config) RemoteAddr() string { return fmt.Sprintf("%s:%d", c.host, c.port) }

// TargetNetID returns the configured target NetID. It is the zero NetID
// when the target is derived from the host at connect time.
func (c *Config) TargetNetID() ams.NetID { return c.targetNetID }

// TargetPort returns the AMS port requests are routed to.
func (c *Config) TargetPort() ams.Port { return c.targetPort }

// SourceNetID returns the configured source NetID. It is the zero NetID
// when the source is derived from a local interface at connect time.
func (c *Config) SourceNetID() ams.NetID { return c.sourceNetID }

// SourcePort returns the AMS port stamped on outgoing requests.
func (c *Config) SourcePort() ams.Port { return c.sourcePort }

// RequestTimeout returns how long a request waits for its response.
func (c *Config) RequestTimeout() time.Duration { return c.requestTimeout }

// Option configures a Config created by NewConfig.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithTargetNetID sets the NetID of the target device.
func WithTargetNetID(id ams.NetID) Option {
	return optFunc(func(cfg *Config) error {
		if id.IsZero() {
			return fmt.Errorf("%w: zero target net id", ams.ErrInvalidNetID)
		}
		cfg.targetNetID = id
		return nil
	})
}

// WithTargetPort sets the AMS port of the target device.
func WithTargetPort(port ams.Port) Option {
	return optFunc(func(cfg *Config) error {
		cfg.targetPort = port
		return nil
	})
}

// WithSourceNetID sets the NetID stamped as the request source. By
// default the first usable local IPv4 address extended with ".1.1" is
// used.
func WithSourceNetID(id ams.NetID) Option {
	return optFunc(func(cfg *Config) error {
		if id.IsZero() {
			return fmt.Errorf("%w: zero source net id", ams.ErrInvalidNetID)
		}
		cfg.sourceNetID = id
		return nil
	})
}

// WithSourcePort sets the AMS port stamped as the request source.
func WithSourcePort(port ams.Port) Option {
	return optFunc(func(cfg *Config) error {
		cfg.sourcePort = port
		return nil
	})
}

// WithRequestTimeout sets how long each request waits for its response
// before failing with ErrTimeout. A caller context with an earlier
// deadline wins.
func WithRequestTimeout(timeout time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if timeout < MinRequestTimeout || timeout > MaxRequestTimeout {
			return fmt.Errorf("ads: request timeout %v out of range [%v, %v]", timeout, MinRequestTimeout, MaxRequestTimeout)
		}
		cfg.requestTimeout = timeout
		return nil
	})
}

// WithDialTimeout sets the timeout for establishing the TCP stream.
func WithDialTimeout(timeout time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if timeout < MinIOTimeout || timeout > MaxIOTimeout {
			return fmt.Errorf("ads: dial timeout %v out of range [%v, %v]", timeout, MinIOTimeout, MaxIOTimeout)
		}
		cfg.dialTimeout = timeout
		return nil
	})
}

// WithReadTimeout sets the timeout for reading the remainder of a frame
// whose length prefix already arrived. An idle stream between frames is
// not subject to it.
func WithReadTimeout(timeout time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if timeout < MinIOTimeout || timeout > MaxIOTimeout {
			return fmt.Errorf("ads: read timeout %v out of range [%v, %v]", timeout, MinIOTimeout, MaxIOTimeout)
		}
		cfg.readTimeout = timeout
		return nil
	})
}

// WithSendTimeout sets the timeout for queueing and writing one
// outgoing frame.
func WithSendTimeout(timeout time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if timeout < MinIOTimeout || timeout > MaxIOTimeout {
			return fmt.Errorf("ads: send timeout %v out of range [%v, %v]", timeout, MinIOTimeout, MaxIOTimeout)
		}
		cfg.sendTimeout = timeout
		return nil
	})
}

// WithCloseTimeout sets the timeout for circuit teardown.
func WithCloseTimeout(timeout time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if timeout < MinIOTimeout || timeout > MaxIOTimeout {
			return fmt.Errorf("ads: close timeout %v out of range [%v, %v]", timeout, MinIOTimeout, MaxIOTimeout)
		}
		cfg.closeTimeout = timeout
		return nil
	})
}

// WithSenderQueueSize sets the outgoing frame queue capacity.
func WithSenderQueueSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < MinQueueSize || size > MaxQueueSize {
			return fmt.Errorf("ads: sender queue size %d out of range [%d, %d]", size, MinQueueSize, MaxQueueSize)
		}
		cfg.senderQueueSize = size
		return nil
	})
}

// WithSampleQueueDepth sets the per-subscription sample buffer capacity.
func WithSampleQueueDepth(depth int) Option {
	return optFunc(func(cfg *Config) error {
		if depth < MinQueueSize || depth > MaxQueueSize {
			return fmt.Errorf("ads: sample queue depth %d out of range [%d, %d]", depth, MinQueueSize, MaxQueueSize)
		}
		cfg.sampleQueueDepth = depth
		return nil
	})
}

// WithLogger sets the logger used by the client and its circuits.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("ads: nil logger")
		}
		cfg.logger = l
		return nil
	})
}
