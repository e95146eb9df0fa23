package ams

import "sync/atomic"

// OpState is the operational lifecycle state of a circuit or server.
type OpState uint32

const (
	// ClosedState is the resting state and the zero value.
	ClosedState OpState = iota
	// ClosingState means teardown has begun but tasks may still run.
	ClosingState
	// OpeningState means the transport is being established.
	OpeningState
	// OpenedState means the peer is serving traffic.
	OpenedState
)

var opStateNames = [...]string{
	ClosedState:  "Closed",
	ClosingState: "Closing",
	OpeningState: "Opening",
	OpenedState:  "Opened",
}

// AtomicOpState tracks an OpState through lock-free compare-and-swap
// transitions along Closed → Opening → Opened → Closing → Closed.
// Opening may fall straight to Closing when a dial is abandoned. Any
// other transition is rejected. The zero value is Closed.
type AtomicOpState struct {
	state atomic.Uint32
}

func (st *AtomicOpState) String() string {
	if s := st.Get(); int(s) < len(opStateNames) {
		return opStateNames[s]
	}

	return "Unknown"
}

// Get returns the current state.
func (st *AtomicOpState) Get() OpState {
	return OpState(st.state.Load())
}

// Set forces the state unconditionally. Lifecycle code prefers the To*
// transitions; Set is for resetting after a failed open.
func (st *AtomicOpState) Set(state OpState) {
	st.state.Store(uint32(state))
}

func (st *AtomicOpState) IsClosed() bool  { return st.Get() == ClosedState }
func (st *AtomicOpState) IsClosing() bool { return st.Get() == ClosingState }
func (st *AtomicOpState) IsOpening() bool { return st.Get() == OpeningState }
func (st *AtomicOpState) IsOpened() bool  { return st.Get() == OpenedState }

// advance swaps into to from the first matching origin state.
func (st *AtomicOpState) advance(to OpState, from ...OpState) bool {
	for _, f := range from {
		if st.state.CompareAndSwap(uint32(f), uint32(to)) {
			return true
		}
	}

	return false
}

// ToOpening begins opening. Legal only from Closed.
func (st *AtomicOpState) ToOpening() bool {
	return st.advance(OpeningState, ClosedState)
}

// ToOpened completes opening. Idempotent when already Opened.
func (st *AtomicOpState) ToOpened() bool {
	return st.IsOpened() || st.advance(OpenedState, OpeningState)
}

// ToClosing begins teardown, from Opened or from a dial still Opening.
func (st *AtomicOpState) ToClosing() bool {
	return st.advance(ClosingState, OpenedState, OpeningState)
}

// ToClosed completes teardown. Idempotent when already Closed.
func (st *AtomicOpState) ToClosed() bool {
	return st.IsClosed() || st.advance(ClosedState, ClosingState)
}
