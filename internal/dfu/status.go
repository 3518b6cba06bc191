package dfu

import "fmt"

// Status is the 8-bit bStatus code from a DFU_GETSTATUS reply.
type Status uint8

const (
	StatusOK               Status = 0x00
	StatusErrTarget        Status = 0x01
	StatusErrFile          Status = 0x02
	StatusErrWrite         Status = 0x03
	StatusErrErase         Status = 0x04
	StatusErrCheckErased   Status = 0x05
	StatusErrProg          Status = 0x06
	StatusErrVerify        Status = 0x07
	StatusErrAddress       Status = 0x08
	StatusErrNotDone       Status = 0x09
	StatusErrFirmware      Status = 0x0A
	StatusErrVendor        Status = 0x0B
	StatusErrUsbr          Status = 0x0C
	StatusErrPor           Status = 0x0D
	StatusErrUnknown       Status = 0x0E
	StatusErrStalledPacket Status = 0x0F
)

var statusNames = map[Status]string{
	StatusOK:               "OK",
	StatusErrTarget:        "errTARGET",
	StatusErrFile:          "errFILE",
	StatusErrWrite:         "errWRITE",
	StatusErrErase:         "errERASE",
	StatusErrCheckErased:   "errCHECK_ERASED",
	StatusErrProg:          "errPROG",
	StatusErrVerify:        "errVERIFY",
	StatusErrAddress:       "errADDRESS",
	StatusErrNotDone:       "errNOTDONE",
	StatusErrFirmware:      "errFIRMWARE",
	StatusErrVendor:        "errVENDOR",
	StatusErrUsbr:          "errUSBR",
	StatusErrPor:           "errPOR",
	StatusErrUnknown:       "errUNKNOWN",
	StatusErrStalledPacket: "errSTALLEDPKT",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(0x%02x)", uint8(s))
}

// State is one of the 11 DFU 1.0 states.
type State uint8

const (
	StateAppIdle              State = 0
	StateAppDetach            State = 1
	StateDfuIdle              State = 2
	StateDfuDnloadSync        State = 3
	StateDfuDnbusy            State = 4
	StateDfuDnloadIdle        State = 5
	StateDfuManifestSync      State = 6
	StateDfuManifest          State = 7
	StateDfuManifestWaitReset State = 8
	StateDfuUploadIdle        State = 9
	StateDfuError             State = 10
)

var stateNames = map[State]string{
	StateAppIdle:              "appIDLE",
	StateAppDetach:            "appDETACH",
	StateDfuIdle:              "dfuIDLE",
	StateDfuDnloadSync:        "dfuDNLOAD-SYNC",
	StateDfuDnbusy:            "dfuDNBUSY",
	StateDfuDnloadIdle:        "dfuDNLOAD-IDLE",
	StateDfuManifestSync:      "dfuMANIFEST-SYNC",
	StateDfuManifest:          "dfuMANIFEST",
	StateDfuManifestWaitReset: "dfuMANIFEST-WAIT-RESET",
	StateDfuUploadIdle:        "dfuUPLOAD-IDLE",
	StateDfuError:             "dfuERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(0x%02x)", uint8(s))
}

// StatusRecord is the six-byte DFU_GETSTATUS reply: a status
// code, a 24-bit little-endian poll timeout in milliseconds, a state code
// and a string index. bwPollTimeout is parsed but deliberately never
// honored — the transport polls in a tight,
// bounded loop instead.
type StatusRecord struct {
	Status        Status
	PollTimeoutMs uint32
	State         State
	StringIndex   uint8
}

func decodeStatus(b []byte) (StatusRecord, error) {
	if len(b) != 6 {
		return StatusRecord{}, fmt.Errorf("dfu: short GETSTATUS reply: %d bytes", len(b))
	}
	return StatusRecord{
		Status:        Status(b[0]),
		PollTimeoutMs: uint32(b[1]) | uint32(b[2])<<8 | uint32(b[3])<<16,
		State:         State(b[4]),
		StringIndex:   b[5],
	}, nil
}
