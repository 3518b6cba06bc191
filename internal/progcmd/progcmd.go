// Package progcmd dispatches a parsed command request to a claimed
// session and the right vendor protocol. It is the only package that
// knows both "which command" and "which chip family" at once; every
// protocol package below it only knows its own dialect.
package progcmd

import (
	"bytes"
	"fmt"
	"io"

	"github.com/google/gousb"

	"github.com/dfu-programmer/dfu-programmer/internal/atmel"
	"github.com/dfu-programmer/dfu-programmer/internal/dfu"
	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
	"github.com/dfu-programmer/dfu-programmer/internal/hexfile"
	"github.com/dfu-programmer/dfu-programmer/internal/progress"
	"github.com/dfu-programmer/dfu-programmer/internal/stm32"
	"github.com/dfu-programmer/dfu-programmer/internal/target"
	"github.com/dfu-programmer/dfu-programmer/internal/usbsession"
)

// Request is a fully parsed command, independent of how it was typed
// in on the command line.
type Request struct {
	Target             string
	Command            string // configure, dump, erase, flash, get, start
	InputFile          io.Reader
	OutputFile         io.Writer
	ConfigProperty     string
	ConfigValue        byte
	GetField           string
	SuppressValidation bool
	Quiet              bool

	// Trace, if set, is forwarded to the USB session and called before
	// every control transfer.
	Trace func(request string, val, idx uint16)
}

// Result carries whatever a command produces for the caller to print;
// most commands only signal success via a nil error.
type Result struct {
	Text string
}

// Run resolves req.Target, opens a session, and dispatches to the
// chip-family-appropriate implementation of req.Command. The session
// is always closed before Run returns, on every path.
func Run(req Request) (Result, error) {
	tgt, err := target.Lookup(req.Target)
	if err != nil {
		return Result{}, hexerr.Wrap(hexerr.KindArgument, "progcmd.Run", err)
	}

	sess, err := usbsession.Open(usbsession.Params{
		VID:                 gousb.ID(tgt.VendorID),
		PID:                 gousb.ID(tgt.ProductID),
		InterfaceNum:        0,
		HonorInterfaceClass: tgt.HonorInterfaceClass,
		InitialAbort:        tgt.InitialAbort,
		Trace:               req.Trace,
	})
	if err != nil {
		return Result{}, err
	}
	defer sess.Close()

	switch req.Command {
	case "erase":
		return runErase(sess, tgt, req)
	case "flash":
		return Result{}, runFlash(sess, tgt, req)
	case "dump":
		return runDump(sess, tgt, req)
	case "get":
		return runGet(sess, tgt, req)
	case "configure":
		return Result{}, runConfigure(sess, tgt, req)
	case "start":
		return Result{}, runStart(sess, tgt)
	default:
		return Result{}, hexerr.New(hexerr.KindArgument, "progcmd.Run", fmt.Sprintf("unknown command %q", req.Command))
	}
}

func runErase(sess *usbsession.Session, tgt target.Target, req Request) (Result, error) {
	switch tgt.Class {
	case target.ClassSTM32:
		return Result{}, stm32.MassErase(sess.Device)
	default:
		if err := atmel.EraseFlash(sess.Device, atmel.EraseAll); err != nil {
			return Result{}, err
		}
		if req.SuppressValidation {
			return Result{}, nil
		}
		if tgt.MemorySize > 0x10000 {
			return Result{}, hexerr.New(hexerr.KindArgument, "progcmd.runErase", "target exceeds 16-bit Atmel address range")
		}
		if err := atmel.BlankCheck(sess.Device, 0, uint16(tgt.MemorySize-1)); err != nil {
			return Result{}, err
		}
		return Result{Text: fmt.Sprintf("blank check: status %s", dfu.StatusOK)}, nil
	}
}

func runFlash(sess *usbsession.Session, tgt target.Target, req Request) error {
	img, _, err := hexfile.Parse(req.InputFile, hexfile.ParseOptions{
		TotalSize: tgt.MemorySize,
		PageSize:  tgt.FlashPageSize,
		UserSize:  tgt.UserPageSize,
	})
	if err != nil {
		return err
	}
	if err := img.PrepareForWrite(); err != nil {
		return err
	}
	if !img.HasData() {
		return hexerr.New(hexerr.KindValidation, "progcmd.runFlash", "input has no data to flash")
	}

	bar := progress.New("flash", int64(img.DataEnd-img.DataStart+1), req.Quiet)
	defer bar.Done()

	switch tgt.Class {
	case target.ClassSTM32:
		if err := stm32.WriteFlash(sess.Device, img, bar.IncrBy); err != nil {
			return err
		}
	default:
		if img.DataEnd > 0xFFFF {
			return hexerr.New(hexerr.KindArgument, "progcmd.runFlash", "image exceeds 16-bit Atmel address range")
		}
		buf := img.Bytes(img.DataStart, img.DataEnd)
		if err := atmel.Flash(sess.Device, uint16(img.DataStart), uint16(img.DataEnd), buf, bar.IncrBy); err != nil {
			return err
		}
	}

	if req.SuppressValidation {
		return nil
	}
	return validateAfterFlash(sess, tgt, img)
}

func validateAfterFlash(sess *usbsession.Session, tgt target.Target, img *hexfile.OutputImage) error {
	in := hexfile.NewInputImage(tgt.MemorySize)
	switch tgt.Class {
	case target.ClassSTM32:
		if err := stm32.SetAddressPointer(sess.Device, stm32.FlashOffset+img.DataStart); err != nil {
			return err
		}
		sess.Device.ResetCounter(2)
		addr := img.DataStart
		for addr <= img.DataEnd {
			length := int(img.DataEnd-addr) + 1
			if length > stm32.MaxTransferSize {
				length = stm32.MaxTransferSize
			}
			data, err := stm32.ReadBlock(sess.Device, length)
			if err != nil {
				return err
			}
			copy(in.Data[addr:], data)
			addr += uint32(len(data))
		}
	default:
		if img.DataEnd > 0xFFFF {
			return hexerr.New(hexerr.KindArgument, "progcmd.validateAfterFlash", "image exceeds 16-bit Atmel address range")
		}
		if _, err := atmel.ReadFlash(sess.Device, uint16(img.DataStart), uint16(img.DataEnd), in.Data[img.DataStart:]); err != nil {
			return err
		}
	}

	_, err := hexfile.Validate(img, in)
	return err
}

func runDump(sess *usbsession.Session, tgt target.Target, req Request) (Result, error) {
	in := hexfile.NewInputImage(tgt.MemorySize)
	switch tgt.Class {
	case target.ClassSTM32:
		if err := stm32.SetAddressPointer(sess.Device, stm32.FlashOffset); err != nil {
			return Result{}, err
		}
		sess.Device.ResetCounter(2)
		addr := uint32(0)
		for addr < tgt.MemorySize {
			length := int(tgt.MemorySize-addr)
			if length > stm32.MaxTransferSize {
				length = stm32.MaxTransferSize
			}
			data, err := stm32.ReadBlock(sess.Device, length)
			if err != nil {
				return Result{}, err
			}
			copy(in.Data[addr:], data)
			addr += uint32(len(data))
		}
	default:
		if _, err := atmel.ReadFlash(sess.Device, 0, uint16(tgt.MemorySize-1), in.Data); err != nil {
			return Result{}, err
		}
	}

	out := hexfile.NewOutputImage(tgt.MemorySize, tgt.FlashPageSize)
	for i, b := range in.Data {
		if err := out.Assign(uint32(i), b); err != nil {
			return Result{}, err
		}
	}

	var buf bytes.Buffer
	if err := hexfile.Serialize(&buf, out, true); err != nil {
		return Result{}, err
	}
	if req.OutputFile != nil {
		if _, err := req.OutputFile.Write(buf.Bytes()); err != nil {
			return Result{}, hexerr.Wrap(hexerr.KindHexParse, "progcmd.runDump", err)
		}
		return Result{}, nil
	}
	return Result{Text: buf.String()}, nil
}

// getFieldLabels names each `get` field the way the original command
// prints it, e.g. "Bootloader Version: 0x91 (145)".
var getFieldLabels = map[string]string{
	"bootloader-version": "Bootloader Version",
	"ID1":                "Device boot ID 1",
	"ID2":                "Device boot ID 2",
	"BSB":                "Boot Status Byte",
	"SBV":                "Software Boot Vector",
	"SSB":                "Software Security Byte",
	"EB":                 "Extra Byte",
	"manufacturer":       "Manufacturer Code",
	"family":             "Family Code",
	"product-name":       "Product Name",
	"product-revision":   "Product Revision",
	"HSB":                "Hardware Security Byte",
}

func runGet(sess *usbsession.Session, tgt target.Target, req Request) (Result, error) {
	if tgt.Class == target.ClassSTM32 {
		return Result{}, hexerr.New(hexerr.KindArgument, "progcmd.runGet", "get is not supported on STM32 targets")
	}
	label, ok := getFieldLabels[req.GetField]
	if !ok {
		return Result{}, hexerr.New(hexerr.KindArgument, "progcmd.runGet", fmt.Sprintf("unknown field %q", req.GetField))
	}
	// A selector the part does not answer leaves its field Unavailable;
	// only the requested field decides the outcome.
	info, readErr := atmel.ReadConfig(sess.Device)

	var v int32
	switch req.GetField {
	case "bootloader-version":
		v = info.BootloaderVersion
	case "ID1":
		v = info.BootID1
	case "ID2":
		v = info.BootID2
	case "BSB":
		v = info.BSB
	case "SBV":
		v = info.SBV
	case "SSB":
		v = info.SSB
	case "EB":
		v = info.EB
	case "manufacturer":
		v = info.Manufacturer
	case "family":
		v = info.Family
	case "product-name":
		v = info.ProductName
	case "product-revision":
		v = info.ProductRevision
	case "HSB":
		v = info.HSB
	}
	if v == atmel.Unavailable {
		return Result{}, hexerr.WrapDetail(hexerr.KindDeviceAccess, "progcmd.runGet", fmt.Sprintf("field %q unavailable", req.GetField), readErr)
	}
	return Result{Text: fmt.Sprintf("%s: 0x%02x (%d)", label, v, v)}, nil
}

func runConfigure(sess *usbsession.Session, tgt target.Target, req Request) error {
	if tgt.Class == target.ClassSTM32 {
		return hexerr.New(hexerr.KindArgument, "progcmd.runConfigure", "configure is not supported on STM32 targets")
	}
	var prop int
	switch req.ConfigProperty {
	case "BSB":
		prop = atmel.ConfigBSB
	case "SBV":
		prop = atmel.ConfigSBV
	case "SSB":
		prop = atmel.ConfigSSB
	case "EB":
		prop = atmel.ConfigEB
	case "HSB":
		prop = atmel.ConfigHSB
	default:
		return hexerr.New(hexerr.KindArgument, "progcmd.runConfigure", fmt.Sprintf("unknown property %q", req.ConfigProperty))
	}
	return atmel.SetConfig(sess.Device, prop, req.ConfigValue)
}

func runStart(sess *usbsession.Session, tgt target.Target) error {
	if tgt.Class == target.ClassSTM32 {
		return stm32.Launch(sess.Device)
	}
	return atmel.StartApp(sess.Device)
}
