// Package ads implements an asynchronous ADS client over an AMS/TCP
// connection.
//
// # Connecting
//
// A Client wraps one TCP connection to an AMS router and multiplexes
// any number of concurrent requests over it, correlated by invoke id:
//
//	cfg, _ := ads.NewConfig("192.168.1.5", 48898,
//	    ads.WithTargetPort(ams.PortPLCRuntime1),
//	)
//	client, err := ads.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// The client never reconnects on its own. When the circuit fails, every
// operation reports ErrConnClosed until the caller calls Reconnect; the
// caller owns the retry policy.
//
// # Symbols
//
// Named variables are addressed through connection-scoped handles.
// ReadSymbol and WriteSymbol resolve and cache handles transparently;
// ResolveSymbol exposes the handle for repeated use:
//
//	value, err := client.ReadSymbol(ctx, "MAIN.counter", 4)
//
// Handles die with the connection. After Reconnect every cached handle
// is invalid and operations carrying one fail with ErrConnClosed.
//
// # Notifications
//
// Subscribe registers a device notification and returns a Subscription
// whose channel delivers samples in publication order:
//
//	sub, err := client.Subscribe(ctx, "MAIN.counter", 4,
//	    ams.TransServerCycle, 10*time.Millisecond, 100*time.Millisecond)
//	for sample := range sub.Samples() {
//	    process(sample)
//	}
//
// Delivery never blocks the circuit: a consumer that lags more than the
// configured buffer behind loses the oldest samples, counted by
// Subscription.Dropped.
//
// # Failure semantics
//
// Request-scoped failures (device error codes, timeouts) leave the
// connection usable. Protocol violations (framing errors, payloads
// that do not decode) are connection-fatal: the circuit tears down,
// outstanding requests fail with ErrConnClosed and subscription
// channels close.
package ads
