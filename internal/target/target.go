// Package target holds the static table of supported chips: every name
// this tool accepts on the command line maps to a fixed USB identity and
// a flash geometry. There is no runtime discovery of this data — it is
// compiled in, the way the original tool's target_map array was.
package target

import "fmt"

// Class is the device-class tag carried on a session's device handle
// and used to pick the vendor protocol.
type Class int

const (
	Class8051 Class = iota
	ClassAVR
	ClassSTM32
)

func (c Class) String() string {
	switch c {
	case Class8051:
		return "8051"
	case ClassAVR:
		return "AVR"
	case ClassSTM32:
		return "AVR32/STM32"
	default:
		return "unknown"
	}
}

// Target is one entry of the static target table.
type Target struct {
	Name                string
	Class               Class
	ChipID              uint16
	VendorID            uint16
	ProductID           uint16
	MemorySize          uint32
	FlashPageSize       uint32
	UserPageSize        uint32 // AVR32 user page window; 0 if the chip has none
	InitialAbort        bool
	HonorInterfaceClass bool
}

// table is searched linearly by name; order here only matters for
// the `targets` command's listing.
var table = []Target{
	// Atmel 8051, grounded on arguments.c's target_map. These parts share
	// Atmel's USB vendor ID (0x03EB); ProductID is the Atmel-assigned DFU
	// bootloader PID, equal to ChipID, and several parts share one PID.
	{Name: "at89c51snd1c", Class: Class8051, ChipID: 0x2FFF, VendorID: 0x03EB, ProductID: 0x2FFF, MemorySize: 0x10000, FlashPageSize: 128, InitialAbort: false, HonorInterfaceClass: true},
	{Name: "at89c5130", Class: Class8051, ChipID: 0x2FFD, VendorID: 0x03EB, ProductID: 0x2FFD, MemorySize: 0x4000, FlashPageSize: 128, InitialAbort: false, HonorInterfaceClass: true},
	{Name: "at89c5131", Class: Class8051, ChipID: 0x2FFD, VendorID: 0x03EB, ProductID: 0x2FFD, MemorySize: 0x8000, FlashPageSize: 128, InitialAbort: false, HonorInterfaceClass: true},
	{Name: "at89c5132", Class: Class8051, ChipID: 0x2FFF, VendorID: 0x03EB, ProductID: 0x2FFF, MemorySize: 0x10000, FlashPageSize: 128, InitialAbort: false, HonorInterfaceClass: true},

	// Atmel AVR (AT90USB), also from arguments.c's target_map. The
	// documented low-64KB-writable limitation is preserved verbatim;
	// see arguments.c's REVISIT comment on BOOTSZ fuses.
	{Name: "at90usb1287", Class: ClassAVR, ChipID: 0x2FFB, VendorID: 0x03EB, ProductID: 0x2FFB, MemorySize: 64 * 1024, FlashPageSize: 128, InitialAbort: true, HonorInterfaceClass: false},
	{Name: "at90usb1286", Class: ClassAVR, ChipID: 0x2FFB, VendorID: 0x03EB, ProductID: 0x2FFB, MemorySize: 64 * 1024, FlashPageSize: 128, InitialAbort: true, HonorInterfaceClass: false},
	{Name: "at90usb647", Class: ClassAVR, ChipID: 0x2FFB, VendorID: 0x03EB, ProductID: 0x2FFB, MemorySize: 64*1024 - 8*1024, FlashPageSize: 128, InitialAbort: true, HonorInterfaceClass: false},
	{Name: "at90usb646", Class: ClassAVR, ChipID: 0x2FFB, VendorID: 0x03EB, ProductID: 0x2FFB, MemorySize: 64*1024 - 8*1024, FlashPageSize: 128, InitialAbort: true, HonorInterfaceClass: false},

	// ST STM32, running the DfuSe dialect. The bootloader's USB
	// identity (0483:DF11) is the one ST ships in every STM32
	// "Bootloader" application note; flash geometry is per part.
	{Name: "stm32f103", Class: ClassSTM32, VendorID: 0x0483, ProductID: 0xDF11, MemorySize: 128 * 1024, FlashPageSize: 1024, InitialAbort: false, HonorInterfaceClass: false},
	{Name: "stm32f407", Class: ClassSTM32, VendorID: 0x0483, ProductID: 0xDF11, MemorySize: 1024 * 1024, FlashPageSize: 16 * 1024, InitialAbort: false, HonorInterfaceClass: false},
}

// Lookup returns the target named name, or an error listing nothing
// (callers use the `targets` command to enumerate the table).
func Lookup(name string) (Target, error) {
	for _, t := range table {
		if t.Name == name {
			return t, nil
		}
	}
	return Target{}, fmt.Errorf("target: unknown target %q", name)
}

// All returns the full target table in declaration order, for the
// `targets` listing command.
func All() []Target {
	out := make([]Target, len(table))
	copy(out, table)
	return out
}
