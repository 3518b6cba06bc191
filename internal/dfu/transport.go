// Package dfu implements the USB DFU 1.0 class transport: the six class
// requests, status/state decoding and the idle-state normalization
// algorithm that every vendor protocol runs before it starts talking.
package dfu

import (
	"fmt"
	"time"

	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
)

// Request is one of the six DFU 1.0 class requests.
type Request uint8

const (
	ReqDetach    Request = 0
	ReqDnload    Request = 1
	ReqUpload    Request = 2
	ReqGetStatus Request = 3
	ReqClrStatus Request = 4
	ReqGetState  Request = 5
	ReqAbort     Request = 6
)

const (
	reqTypeOut = 0x21 // host-to-device, class, interface
	reqTypeIn  = 0xA1 // device-to-host, class, interface

	// ClassTimeout is the per-control-transfer timeout; usbsession sets it
	// on the USB device it hands to this transport. DFU firmware can
	// sit in dfuDNBUSY for a while during a real flash erase, but the
	// command frames this transport carries are all short.
	ClassTimeout = 10 * time.Second

	maxIdleAttempts = 4
)

// ControlTransfer is the subset of gousb.Device used by the transport. A
// narrow interface keeps this package free of any direct USB dependency;
// internal/usbsession supplies the real implementation.
type ControlTransfer interface {
	Control(rType, request uint8, val, idx uint16, data []byte) (int, error)
}

// Device is a DFU transport handle: a control-transfer endpoint, the
// interface it was claimed on, and the transaction counter that rides on
// wValue for DNLOAD/UPLOAD. The counter lives here, not in a package
// global, so two devices opened in the same process never share state.
type Device struct {
	XFER      ControlTransfer
	Interface uint16

	// Trace, if set, is called before every control transfer with the
	// request name, wValue and wIndex. Wired from cliapp's --debug 3
	// level; nil means no tracing.
	Trace func(request string, val, idx uint16)

	counter uint16
}

func (d *Device) trace(request string, val, idx uint16) {
	if d.Trace != nil {
		d.Trace(request, val, idx)
	}
}

// Counter returns the current transaction counter without mutating it.
func (d *Device) Counter() uint16 { return d.counter }

// ResetCounter sets the transaction counter to v. Used by the STM32
// protocol around address-pointer changes and by progcmd's STM32
// read-back loops.
func (d *Device) ResetCounter(v uint16) { d.counter = v }

// Detach issues DFU_DETACH with the given timeout in milliseconds.
func (d *Device) Detach(timeoutMs uint16) error {
	d.trace("DETACH", timeoutMs, d.Interface)
	_, err := d.XFER.Control(reqTypeOut, uint8(ReqDetach), timeoutMs, d.Interface, nil)
	if err != nil {
		return hexerr.Wrap(hexerr.KindDeviceAccess, "dfu.Detach", err)
	}
	return nil
}

// Dnload sends one DFU_DNLOAD transfer carrying data (which may be
// empty, signalling end-of-download) and advances the transaction
// counter by one on success.
func (d *Device) Dnload(data []byte) error {
	d.trace("DNLOAD", d.counter, d.Interface)
	_, err := d.XFER.Control(reqTypeOut, uint8(ReqDnload), d.counter, d.Interface, data)
	if err != nil {
		return hexerr.Wrap(hexerr.KindDeviceAccess, "dfu.Dnload", err)
	}
	d.counter++
	return nil
}

// Upload issues one DFU_UPLOAD transfer requesting up to length bytes
// and advances the transaction counter by one on success.
func (d *Device) Upload(length int) ([]byte, error) {
	d.trace("UPLOAD", d.counter, d.Interface)
	buf := make([]byte, length)
	n, err := d.XFER.Control(reqTypeIn, uint8(ReqUpload), d.counter, d.Interface, buf)
	if err != nil {
		return nil, hexerr.Wrap(hexerr.KindDeviceAccess, "dfu.Upload", err)
	}
	d.counter++
	return buf[:n], nil
}

// GetStatus issues DFU_GETSTATUS and decodes the six-byte reply.
func (d *Device) GetStatus() (StatusRecord, error) {
	d.trace("GETSTATUS", 0, d.Interface)
	buf := make([]byte, 6)
	n, err := d.XFER.Control(reqTypeIn, uint8(ReqGetStatus), 0, d.Interface, buf)
	if err != nil {
		return StatusRecord{}, hexerr.Wrap(hexerr.KindDeviceAccess, "dfu.GetStatus", err)
	}
	rec, derr := decodeStatus(buf[:n])
	if derr != nil {
		return StatusRecord{}, hexerr.WrapDetail(hexerr.KindProtocol, "dfu.GetStatus", "decoding reply", derr)
	}
	return rec, nil
}

// ClearStatus issues DFU_CLRSTATUS, moving a device out of dfuERROR.
func (d *Device) ClearStatus() error {
	d.trace("CLRSTATUS", 0, d.Interface)
	_, err := d.XFER.Control(reqTypeOut, uint8(ReqClrStatus), 0, d.Interface, nil)
	if err != nil {
		return hexerr.Wrap(hexerr.KindDeviceAccess, "dfu.ClearStatus", err)
	}
	return nil
}

// GetState issues DFU_GETSTATE and returns the one-byte state.
func (d *Device) GetState() (State, error) {
	d.trace("GETSTATE", 0, d.Interface)
	buf := make([]byte, 1)
	n, err := d.XFER.Control(reqTypeIn, uint8(ReqGetState), 0, d.Interface, buf)
	if err != nil {
		return 0, hexerr.Wrap(hexerr.KindDeviceAccess, "dfu.GetState", err)
	}
	if n != 1 {
		return 0, hexerr.New(hexerr.KindProtocol, "dfu.GetState", "short GETSTATE reply")
	}
	return State(buf[0]), nil
}

// Abort issues DFU_ABORT, returning a device in *-IDLE to dfuIDLE.
func (d *Device) Abort() error {
	d.trace("ABORT", 0, d.Interface)
	_, err := d.XFER.Control(reqTypeOut, uint8(ReqAbort), 0, d.Interface, nil)
	if err != nil {
		return hexerr.Wrap(hexerr.KindDeviceAccess, "dfu.Abort", err)
	}
	return nil
}

// MakeIdle drives a device from whatever state it is in back to
// dfuIDLE/OK, in at most four attempts. Each attempt queries status and
// reacts:
//
//   - transport error querying status: CLRSTATUS, then re-check.
//   - dfuIDLE with status OK: done.
//   - dfuIDLE with non-OK status: CLRSTATUS, then re-check.
//   - dfuDNLOAD-SYNC, dfuDNLOAD-IDLE, dfuMANIFEST-SYNC, dfuUPLOAD-IDLE,
//     dfuDNBUSY, dfuMANIFEST: ABORT, then re-check.
//   - dfuERROR: CLRSTATUS, then re-check.
//   - appIDLE, appDETACH, dfuMANIFEST-WAIT-RESET: fail immediately; these
//     need a bus reset and re-enumeration, not a class request.
func MakeIdle(d *Device) error {
	for attempt := 0; attempt < maxIdleAttempts; attempt++ {
		status, err := d.GetStatus()
		if err != nil {
			if cerr := d.ClearStatus(); cerr != nil {
				return cerr
			}
			continue
		}
		switch status.State {
		case StateDfuIdle:
			if status.Status == StatusOK {
				return nil
			}
			if err := d.ClearStatus(); err != nil {
				return err
			}
		case StateDfuDnloadSync, StateDfuDnloadIdle, StateDfuManifestSync,
			StateDfuUploadIdle, StateDfuDnbusy, StateDfuManifest:
			if err := d.Abort(); err != nil {
				return err
			}
		case StateDfuError:
			if err := d.ClearStatus(); err != nil {
				return err
			}
		case StateAppIdle, StateAppDetach, StateDfuManifestWaitReset:
			return hexerr.New(hexerr.KindProtocol, "dfu.MakeIdle",
				fmt.Sprintf("device stuck in %s, needs a bus reset", status.State))
		default:
			return hexerr.New(hexerr.KindProtocol, "dfu.MakeIdle",
				fmt.Sprintf("device stuck in %s, needs a bus reset", status.State))
		}
	}
	return hexerr.New(hexerr.KindProtocol, "dfu.MakeIdle", "device did not reach dfuIDLE")
}
