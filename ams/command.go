package ams

import "fmt"

// Command identifies the operation a frame requests or answers.
type Command uint16

// Command ids of the supported subset.
const (
	CommandInvalid            Command = 0
	CommandReadDeviceInfo     Command = 1
	CommandRead               Command = 2
	CommandWrite              Command = 3
	CommandReadState          Command = 4
	CommandWriteControl       Command = 5
	CommandAddNotification    Command = 6
	CommandDeleteNotification Command = 7
	CommandNotification       Command = 8
	CommandReadWrite          Command = 9
)

func (c Command) String() string {
	switch c {
	case CommandInvalid:
		return "Invalid"
	case CommandReadDeviceInfo:
		return "ReadDeviceInfo"
	case CommandRead:
		return "Read"
	case CommandWrite:
		return "Write"
	case CommandReadState:
		return "ReadState"
	case CommandWriteControl:
		return "WriteControl"
	case CommandAddNotification:
		return "AddDeviceNotification"
	case CommandDeleteNotification:
		return "DeleteDeviceNotification"
	case CommandNotification:
		return "DeviceNotification"
	case CommandReadWrite:
		return "ReadWrite"
	default:
		return fmt.Sprintf("Command(%d)", uint16(c))
	}
}

// StateFlags carries the direction bits of a frame.
type StateFlags uint16

const (
	// FlagResponse marks a frame as the response to a prior request.
	FlagResponse StateFlags = 0x0001
	// FlagCommand marks a frame as carrying an ADS command.
	FlagCommand StateFlags = 0x0004

	// RequestFlags is the flag set of a request frame.
	RequestFlags = FlagCommand
	// ResponseFlags is the flag set of a response frame.
	ResponseFlags = FlagCommand | FlagResponse
)

// IsResponse reports whether the response bit is set.
func (f StateFlags) IsResponse() bool { return f&FlagResponse != 0 }

// IsRequest reports whether the response bit is clear.
func (f StateFlags) IsRequest() bool { return !f.IsResponse() }

// InvokeIDNone is the reserved invoke id carried by unsolicited frames such
// as device notification pushes. Request correlation never issues it.
const InvokeIDNone uint32 = 0

// TransmissionMode selects how a device notification produces samples.
type TransmissionMode uint32

const (
	TransNone TransmissionMode = iota
	TransClientCycle
	TransClientOnChange
	// TransServerCycle pushes the current value on every notification cycle.
	TransServerCycle
	// TransServerOnChange pushes the value only when it changes.
	TransServerOnChange
)

func (m TransmissionMode) String() string {
	switch m {
	case TransNone:
		return "None"
	case TransClientCycle:
		return "ClientCycle"
	case TransClientOnChange:
		return "ClientOnChange"
	case TransServerCycle:
		return "ServerCycle"
	case TransServerOnChange:
		return "ServerOnChange"
	default:
		return fmt.Sprintf("TransmissionMode(%d)", uint32(m))
	}
}

// Reserved index groups of the symbol interface.
const (
	// IndexGroupSymbolHandleByName resolves a symbol name to a handle via
	// ReadWrite: the name goes out in the write data, the handle comes back
	// in the read data.
	IndexGroupSymbolHandleByName uint32 = 0xF003
	// IndexGroupSymbolValueByName accesses a symbol value directly by name.
	IndexGroupSymbolValueByName uint32 = 0xF004
	// IndexGroupSymbolValueByHandle accesses a symbol value by a previously
	// resolved handle carried in the index offset.
	IndexGroupSymbolValueByHandle uint32 = 0xF005
	// IndexGroupReleaseSymbolHandle releases a handle carried in the write data.
	IndexGroupReleaseSymbolHandle uint32 = 0xF006
	// IndexGroupSymbolInfoByName returns symbol metadata by name.
	IndexGroupSymbolInfoByName uint32 = 0xF007
	// IndexGroupSymbolUploadInfo returns symbol table summary information.
	IndexGroupSymbolUploadInfo uint32 = 0xF00C
)

// IndexGroupSlaveRegister selects EtherCAT slave controller register access
// on [PortEtherCATMaster]. The I/O device id goes in the high word of the
// index group; the index offset packs the slave address in its high word
// and the register address in its low word.
const IndexGroupSlaveRegister uint32 = 0x0002

// ADSState is the device state machine state reported by ReadState and
// requested by WriteControl.
type ADSState uint16

const (
	StateInvalid ADSState = iota
	StateIdle
	StateReset
	StateInit
	StateStart
	StateRun
	StateStop
	StateSaveConfig
	StateLoadConfig
	StatePowerFailure
	StatePowerGood
	StateError
	StateShutdown
	StateSuspend
	StateResume
	StateConfig
	StateReconfig
)

func (s ADSState) String() string {
	names := [...]string{
		"Invalid", "Idle", "Reset", "Init", "Start", "Run", "Stop",
		"SaveConfig", "LoadConfig", "PowerFailure", "PowerGood", "Error",
		"Shutdown", "Suspend", "Resume", "Config", "Reconfig",
	}
	if int(s) < len(names) {
		return names[s]
	}

	return fmt.Sprintf("ADSState(%d)", uint16(s))
}
