// Package atmel implements the Atmel 8051/AVR DFU vendor dialect: a
// handful of command frames sent over DFU_DNLOAD/DFU_UPLOAD, all using
// the same polling idiom (send command, poll GETSTATUS, optionally
// upload the reply).
package atmel

import (
	"fmt"

	"github.com/dfu-programmer/dfu-programmer/internal/dfu"
	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
)

// MaxTransferSize bounds a single ReadFlash chunk.
const MaxTransferSize = 0x0400

// MaxFlashSize bounds the data payload of a single flash-write frame;
// the frame on the wire is this plus the 0x30-byte header/pad.
const MaxFlashSize = 0x0c00

// pollAttempts bounds the erase/blank-check status poll loop.
const pollAttempts = 10

// Erase modes, selecting which flash block EraseFlash
// clears.
const (
	EraseBlock0 = 0x00
	EraseBlock1 = 0x20
	EraseBlock2 = 0x40
	EraseBlock3 = 0x80
	EraseAll    = 0xff
)

// Config property selectors for SetConfig.
const (
	ConfigBSB = iota
	ConfigSBV
	ConfigSSB
	ConfigEB
	ConfigHSB
)

// DeviceInfo is the twelve-field device-info record read by ReadConfig.
// Fields unavailable on a given part are left at Unavailable rather
// than aborting the whole read.
type DeviceInfo struct {
	BootloaderVersion int32
	BootID1           int32
	BootID2           int32
	BSB               int32
	SBV               int32
	SSB               int32
	EB                int32
	Manufacturer      int32
	Family            int32
	ProductName       int32
	ProductRevision   int32
	HSB               int32
}

// Unavailable marks a DeviceInfo field that could not be read.
const Unavailable = -1

// selectors lists the twelve (data0, data1) pairs in device-info order.
var selectors = [12][2]byte{
	{0x00, 0x00}, {0x00, 0x01}, {0x00, 0x02},
	{0x01, 0x00}, {0x01, 0x01}, {0x01, 0x05}, {0x01, 0x06},
	{0x01, 0x30}, {0x01, 0x31}, {0x01, 0x60}, {0x01, 0x61},
	{0x02, 0x00},
}

// readCommand issues the three-byte read-command frame {0x05, data0,
// data1} and returns the single byte uploaded in reply.
func readCommand(d *dfu.Device, data0, data1 byte) (int32, error) {
	if err := d.Dnload([]byte{0x05, data0, data1}); err != nil {
		return Unavailable, err
	}
	status, err := d.GetStatus()
	if err != nil {
		return Unavailable, err
	}
	if status.Status != dfu.StatusOK {
		return Unavailable, hexerr.New(hexerr.KindProtocol, "atmel.readCommand",
			fmt.Sprintf("status %s was not OK", status.Status))
	}
	reply, err := d.Upload(1)
	if err != nil {
		return Unavailable, err
	}
	if len(reply) != 1 {
		return Unavailable, hexerr.New(hexerr.KindProtocol, "atmel.readCommand", "short reply")
	}
	return int32(reply[0]), nil
}

// ReadConfig populates the twelve-field device-info record. A failed
// individual selector is recorded as Unavailable but does not stop the
// remaining selectors from being attempted; the first such error is
// returned alongside the filled record.
func ReadConfig(d *dfu.Device) (DeviceInfo, error) {
	var info DeviceInfo
	fields := []*int32{
		&info.BootloaderVersion, &info.BootID1, &info.BootID2,
		&info.BSB, &info.SBV, &info.SSB, &info.EB,
		&info.Manufacturer, &info.Family, &info.ProductName, &info.ProductRevision,
		&info.HSB,
	}
	var firstErr error
	for i, sel := range selectors {
		v, err := readCommand(d, sel[0], sel[1])
		if err != nil {
			v = Unavailable
			if firstErr == nil {
				firstErr = err
			}
		}
		*fields[i] = v
	}
	return info, firstErr
}

// EraseFlash sends the erase command for mode and polls GETSTATUS for
// up to ten tries waiting for the erase to complete.
func EraseFlash(d *dfu.Device, mode byte) error {
	if err := d.Dnload([]byte{0x04, 0x00, mode}); err != nil {
		return err
	}
	return pollStatus(d, "atmel.EraseFlash")
}

// SetConfig writes one configuration byte (BSB/SBV/SSB/EB/HSB).
func SetConfig(d *dfu.Device, property int, value byte) error {
	cmd := []byte{0x04, 0x01, 0x00, value}
	switch property {
	case ConfigBSB:
		cmd[2] = 0x00
	case ConfigSBV:
		cmd[2] = 0x01
	case ConfigSSB:
		cmd[2] = 0x05
	case ConfigEB:
		cmd[2] = 0x06
	case ConfigHSB:
		cmd[1] = 0x02
		cmd[2] = 0x00
	default:
		return hexerr.New(hexerr.KindArgument, "atmel.SetConfig", "unknown config property")
	}
	if err := d.Dnload(cmd); err != nil {
		return err
	}
	status, err := d.GetStatus()
	if err != nil {
		return err
	}
	if status.Status != dfu.StatusOK {
		return hexerr.New(hexerr.KindProtocol, "atmel.SetConfig",
			fmt.Sprintf("status %s was not OK", status.Status))
	}
	return nil
}

// ReadFlash reads the inclusive [start,end] address range into buf,
// chunked at MaxTransferSize.
func ReadFlash(d *dfu.Device, start, end uint16, buf []byte) (int, error) {
	if start > end {
		return 0, hexerr.New(hexerr.KindArgument, "atmel.ReadFlash", "start must be <= end")
	}
	length := int(end) - int(start) + 1
	if length > len(buf) {
		return 0, hexerr.New(hexerr.KindArgument, "atmel.ReadFlash", "buffer too small")
	}

	rxStart := int(start)
	remaining := length
	total := 0
	for remaining > 0 {
		rxLength := remaining
		if rxLength > MaxTransferSize {
			rxLength = MaxTransferSize
		}
		rxEnd := rxStart + rxLength - 1

		cmd := []byte{0x03, 0x00,
			byte(rxStart >> 8), byte(rxStart),
			byte(rxEnd >> 8), byte(rxEnd),
		}
		if err := d.Dnload(cmd); err != nil {
			return total, err
		}
		reply, err := d.Upload(rxLength)
		if err != nil {
			return total, err
		}
		copy(buf[total:], reply)
		total += len(reply)
		remaining -= len(reply)
		rxStart = rxEnd + 1
	}
	return total, nil
}

// BlankCheck sends the blank-check frame for [start,end] and polls
// GETSTATUS for up to ten tries. It returns nil when the status is OK
// and otherwise an error naming the status code.
func BlankCheck(d *dfu.Device, start, end uint16) error {
	if start > end {
		return hexerr.New(hexerr.KindArgument, "atmel.BlankCheck", "start must be <= end")
	}
	cmd := []byte{0x03, 0x01,
		byte(start >> 8), byte(start),
		byte(end >> 8), byte(end),
	}
	if err := d.Dnload(cmd); err != nil {
		return err
	}
	return pollStatus(d, "atmel.BlankCheck")
}

func pollStatus(d *dfu.Device, op string) error {
	var last error
	for i := 0; i < pollAttempts; i++ {
		status, err := d.GetStatus()
		if err != nil {
			last = err
			continue
		}
		if status.Status != dfu.StatusOK {
			return hexerr.New(hexerr.KindFlash, op, fmt.Sprintf("status %s", status.Status))
		}
		return nil
	}
	if last != nil {
		return last
	}
	return hexerr.New(hexerr.KindFlash, op, "gave up waiting for completion")
}

// Reset sends the vendor soft-reset command.
func Reset(d *dfu.Device) error {
	return d.Dnload([]byte{0x04, 0x03, 0x00})
}

// StartApp sends the vendor start-application command followed by the
// zero-length DNLOAD that commits it.
func StartApp(d *dfu.Device) error {
	if err := d.Dnload([]byte{0x04, 0x03, 0x01, 0x00, 0x00}); err != nil {
		return err
	}
	return d.Dnload(nil)
}

// Flash writes the inclusive [start,end] range from buffer, chunked at
// MaxFlashSize bytes of payload per frame. buffer is addressed
// relative to start: buffer[0] holds the byte that goes to address
// start, not to address 0. Each frame is a fixed 0x30-byte header/pad
// structure with the payload beginning at offset 0x20.
// onChunk, if non-nil, is called with the number of bytes written after
// each successfully confirmed chunk, for progress reporting.
func Flash(d *dfu.Device, start, end uint16, buffer []byte, onChunk func(n int)) error {
	if start > end {
		return hexerr.New(hexerr.KindArgument, "atmel.Flash", "start must be <= end")
	}
	if len(buffer) < int(end)-int(start)+1 {
		return hexerr.New(hexerr.KindArgument, "atmel.Flash", "buffer shorter than [start,end]")
	}
	txStart := int(start)
	remaining := int(end) - int(start) + 1

	for remaining > 0 {
		dataLen := remaining
		if dataLen > MaxFlashSize {
			dataLen = MaxFlashSize
		}
		txEnd := txStart + dataLen - 1

		frame := make([]byte, dataLen+0x30)
		frame[0] = 0x01
		frame[2] = byte(txStart >> 8)
		frame[3] = byte(txStart)
		frame[4] = byte(txEnd >> 8)
		frame[5] = byte(txEnd)
		off := txStart - int(start)
		copy(frame[0x20:], buffer[off:off+dataLen])

		if err := d.Dnload(frame); err != nil {
			return err
		}
		status, err := d.GetStatus()
		if err != nil {
			return err
		}
		if status.Status != dfu.StatusOK {
			return hexerr.New(hexerr.KindFlash, "atmel.Flash", fmt.Sprintf("status %s was not OK", status.Status))
		}
		if onChunk != nil {
			onChunk(dataLen)
		}

		remaining -= dataLen
		txStart = txEnd + 1
	}
	return nil
}
