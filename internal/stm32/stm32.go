// Package stm32 implements the ST DfuSe vendor dialect: an
// address-pointer register set once per contiguous run, then a stream
// of block reads/writes indexed by the transaction counter, bounded by
// 16 KiB flash sectors.
package stm32

import (
	"fmt"

	"github.com/dfu-programmer/dfu-programmer/internal/dfu"
	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
	"github.com/dfu-programmer/dfu-programmer/internal/hexfile"
)

// MaxTransferSize bounds a single block read/write.
const MaxTransferSize = 0x0800

// MinSectorBound is the sector granularity a block write must not
// cross.
const MinSectorBound = 0x4000

// FlashOffset is where the device maps its flash memory in the
// 32-bit address space the DfuSe commands operate in.
const FlashOffset = 0x0800_0000

const (
	cmdSetAddrPtr    = 0x21
	cmdErase         = 0x41
	cmdReadUnprotect = 0x92
)

// checkStatus issues GETSTATUS and fails if it isn't OK, clearing the
// error latch so a caller that retries doesn't wedge the device.
func checkStatus(d *dfu.Device, op string) error {
	status, err := d.GetStatus()
	if err != nil {
		return err
	}
	if status.Status != dfu.StatusOK {
		_ = d.ClearStatus()
		return hexerr.New(hexerr.KindProtocol, op, fmt.Sprintf("status %s, state %s", status.Status, status.State))
	}
	return nil
}

// SetAddressPointer points the device's address register at address
// and resets the transaction counter to zero, per DfuSe's SET_ADDR_PTR
// command.
func SetAddressPointer(d *dfu.Device, address uint32) error {
	if err := checkStatus(d, "stm32.SetAddressPointer"); err != nil {
		return err
	}

	d.ResetCounter(0)
	cmd := []byte{
		cmdSetAddrPtr,
		byte(address), byte(address >> 8), byte(address >> 16), byte(address >> 24),
	}
	if err := d.Dnload(cmd); err != nil {
		return err
	}
	if err := checkStatus(d, "stm32.SetAddressPointer"); err != nil { // trigger
		return err
	}
	return checkStatus(d, "stm32.SetAddressPointer") // confirm
}

func eraseCommand(d *dfu.Device, cmd []byte, op string) error {
	d.ResetCounter(0)
	if err := d.Dnload(cmd); err != nil {
		return err
	}
	if err := checkStatus(d, op); err != nil { // trigger
		return err
	}
	return checkStatus(d, op) // confirm, can take a while on real hardware
}

// MassErase issues the single-byte ERASE_CMD with no address, erasing
// the whole device.
func MassErase(d *dfu.Device) error {
	return eraseCommand(d, []byte{cmdErase}, "stm32.MassErase")
}

// PageErase erases the sector containing address.
func PageErase(d *dfu.Device, address uint32) error {
	cmd := []byte{cmdErase, byte(address), byte(address >> 8), byte(address >> 16), byte(address >> 24)}
	return eraseCommand(d, cmd, "stm32.PageErase")
}

// ReadUnprotect clears flash read protection, which also mass-erases
// the device as a side effect on real hardware.
func ReadUnprotect(d *dfu.Device) error {
	return eraseCommand(d, []byte{cmdReadUnprotect}, "stm32.ReadUnprotect")
}

// WriteBlock sends one DNLOAD frame of already-address-pointed data
// and confirms it with two GETSTATUS calls.
func WriteBlock(d *dfu.Device, data []byte) error {
	if len(data) == 0 || len(data) > MaxTransferSize {
		return hexerr.New(hexerr.KindArgument, "stm32.WriteBlock", "block size out of range")
	}
	if err := d.Dnload(data); err != nil {
		return err
	}
	if err := checkStatus(d, "stm32.WriteBlock"); err != nil { // trigger
		return err
	}
	return checkStatus(d, "stm32.WriteBlock") // confirm
}

// ReadBlock uploads up to length bytes from the current address
// pointer / transaction counter position.
func ReadBlock(d *dfu.Device, length int) ([]byte, error) {
	if length <= 0 || length > MaxTransferSize {
		return nil, hexerr.New(hexerr.KindArgument, "stm32.ReadBlock", "block size out of range")
	}
	if err := checkStatus(d, "stm32.ReadBlock"); err != nil {
		return nil, err
	}
	data, err := d.Upload(length)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		status, serr := d.GetStatus()
		if serr == nil && status.Status == dfu.StatusErrVendor {
			return nil, hexerr.New(hexerr.KindReadProtected, "stm32.ReadBlock", "device is read protected")
		}
	}
	return data, nil
}

// Launch points the address pointer at FlashOffset, sends a
// zero-length DNLOAD and polls one GETSTATUS to trigger execution; the
// device detaches immediately afterward, so a failure on that final
// poll is expected and not reported.
func Launch(d *dfu.Device) error {
	if err := SetAddressPointer(d, FlashOffset); err != nil {
		return err
	}
	d.ResetCounter(0)
	if err := d.Dnload(nil); err != nil {
		return err
	}
	_, _ = d.GetStatus()
	return nil
}

// sectorOf returns the index of the 16 KiB sector containing addr.
func sectorOf(addr uint32) uint32 { return addr / MinSectorBound }

// WriteFlash drives the full flash-write sequence for img: prep the
// sparse image, set the address pointer once at the start of the data
// span, then walk forward in sector-bounded blocks up to
// MaxTransferSize, resetting the address pointer and transaction
// counter whenever a gap or a short block breaks contiguity. onChunk,
// if non-nil, is called with the number of bytes written after each
// successfully confirmed block, for progress reporting.
func WriteFlash(d *dfu.Device, img *hexfile.OutputImage, onChunk func(n int)) error {
	if err := img.PrepareForWrite(); err != nil {
		return err
	}
	if !img.HasData() {
		return hexerr.New(hexerr.KindValidation, "stm32.WriteFlash", "no valid data")
	}

	addrOffset := img.DataStart
	if err := SetAddressPointer(d, FlashOffset+addrOffset); err != nil {
		return err
	}
	d.ResetCounter(2)

	blockStart := img.DataStart
	resetNeeded := false

	for blockStart <= img.DataEnd {
		if resetNeeded {
			addrOffset = blockStart
			if err := SetAddressPointer(d, FlashOffset+addrOffset); err != nil {
				return err
			}
			d.ResetCounter(2)
			resetNeeded = false
		}

		if _, ok := img.Get(blockStart); !ok {
			next := blockStart + 1
			for next <= img.DataEnd {
				if _, ok := img.Get(next); ok {
					break
				}
				next++
			}
			blockStart = next
			resetNeeded = true
			continue
		}

		sector := sectorOf(blockStart)
		blockEnd := blockStart + MaxTransferSize - 1
		if sectorOf(blockEnd) > sector {
			blockEnd = MinSectorBound*(sector+1) - 1
		}
		if blockEnd > img.DataEnd {
			blockEnd = img.DataEnd
		}
		for a := blockStart; a <= blockEnd; a++ {
			if _, ok := img.Get(a); !ok {
				blockEnd = a - 1
				break
			}
		}

		xferSize := blockEnd - blockStart + 1
		buf := make([]byte, xferSize)
		for i := uint32(0); i < xferSize; i++ {
			b, _ := img.Get(blockStart + i)
			buf[i] = b
		}

		if err := WriteBlock(d, buf); err != nil {
			return err
		}
		if onChunk != nil {
			onChunk(int(xferSize))
		}
		if xferSize != MaxTransferSize {
			resetNeeded = true
		}

		prevStart := blockStart
		blockStart = blockEnd + 1
		expected := addrOffset + MaxTransferSize*uint32(d.Counter()-2)
		if !resetNeeded && blockStart != expected {
			resetNeeded = true
		}
		_ = prevStart
	}
	return nil
}
