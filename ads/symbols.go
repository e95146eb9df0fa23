package ads

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/plcforge/go-ads/ams"
)

const symbolHandleSize = 4

// SymbolHandle is a resolved, connection-scoped reference to a named
// variable on the target device. It is only valid on the connection
// that resolved it; after Reconnect the client must resolve again.
type SymbolHandle struct {
	name       string
	value      uint32
	generation uint64
}

// Name returns the symbol name the handle was resolved from.
func (h SymbolHandle) Name() string { return h.name }

// Value returns the raw device handle.
func (h SymbolHandle) Value() uint32 { return h.value }

// IsZero reports whether the handle never came from a resolver.
func (h SymbolHandle) IsZero() bool { return h.generation == 0 }

// checkHandle verifies h was issued by this circuit.
func (c *circuit) checkHandle(h SymbolHandle) error {
	if h.IsZero() {
		return ErrInvalidHandle
	}

	if h.generation != c.generation {
		return fmt.Errorf("%w: symbol handle %q issued by a previous connection", ErrConnClosed, h.name)
	}

	return nil
}

// resolveSymbol returns the handle for name, resolving through the
// device on first use and caching per connection. Resolution failures
// are not cached; a symbol created later resolves on the next attempt.
func (c *circuit) resolveSymbol(ctx context.Context, name string) (SymbolHandle, error) {
	if h, ok := c.symbols.Load(name); ok {
		return h, nil
	}

	data, err := c.readWrite(ctx, ams.IndexGroupSymbolHandleByName, 0, symbolHandleSize, append([]byte(name), 0))
	if err != nil {
		if devErr, ok := ams.AsDeviceError(err); ok && devErr.Code() == ams.CodeSymbolNotFound {
			return SymbolHandle{}, fmt.Errorf("%w: %q", ErrSymbolNotFound, name)
		}

		return SymbolHandle{}, err
	}

	if len(data) < symbolHandleSize {
		err := fmt.Errorf("%w: symbol handle response has %d bytes, want %d", ams.ErrFraming, len(data), symbolHandleSize)
		c.fault(err)

		return SymbolHandle{}, err
	}

	h := SymbolHandle{
		name:       name,
		value:      binary.LittleEndian.Uint32(data),
		generation: c.generation,
	}

	// Concurrent resolvers for the same name keep one handle. The device
	// hands out one handle per name and connection, so both see the same
	// value.
	actual, _ := c.symbols.LoadOrStore(name, h)

	return actual, nil
}

// releaseSymbol releases h on the device and removes it from the cache.
func (c *circuit) releaseSymbol(ctx context.Context, h SymbolHandle) error {
	if err := c.checkHandle(h); err != nil {
		return err
	}

	c.symbols.Delete(h.name)

	buf := make([]byte, symbolHandleSize)
	binary.LittleEndian.PutUint32(buf, h.value)

	return c.write(ctx, ams.IndexGroupReleaseSymbolHandle, 0, buf)
}

// readSymbolHandle reads length bytes of the variable behind h.
func (c *circuit) readSymbolHandle(ctx context.Context, h SymbolHandle, length uint32) ([]byte, error) {
	if err := c.checkHandle(h); err != nil {
		return nil, err
	}

	return c.read(ctx, ams.IndexGroupSymbolValueByHandle, h.value, length)
}

// writeSymbolHandle writes data to the variable behind h.
func (c *circuit) writeSymbolHandle(ctx context.Context, h SymbolHandle, data []byte) error {
	if err := c.checkHandle(h); err != nil {
		return err
	}

	return c.write(ctx, ams.IndexGroupSymbolValueByHandle, h.value, data)
}
