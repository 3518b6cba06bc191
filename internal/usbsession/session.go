// Package usbsession owns the USB side of a run: finding the device,
// claiming its DFU interface, and guaranteeing that whatever got opened
// gets released again. Everything above this layer talks to a
// *dfu.Device and never touches gousb directly.
package usbsession

import (
	"fmt"

	"github.com/google/gousb"

	"github.com/dfu-programmer/dfu-programmer/internal/dfu"
	"github.com/dfu-programmer/dfu-programmer/internal/hexerr"
)

// dfuInterfaceClass is the USB interface class DFU-capable interfaces
// advertise (0xFE, application-specific) when a target wants it
// checked.
const dfuInterfaceClass = 0xFE

// Params describes what to open and how to validate it.
type Params struct {
	VID                 gousb.ID
	PID                 gousb.ID
	InterfaceNum        int
	HonorInterfaceClass bool
	InitialAbort        bool

	// Trace, if set, is forwarded to the dfu.Device and called before
	// every control transfer.
	Trace func(request string, val, idx uint16)
}

// Session is an open, claimed DFU-capable interface. Device is the
// transport handle every protocol package operates through.
type Session struct {
	Device *dfu.Device

	ctx    *gousb.Context
	usbDev *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
}

// Open enumerates USB devices, opens the first VID/PID match, claims
// the requested interface, sends an initial DFU_ABORT if the target
// requires it, and always drives the device to dfuIDLE before handing
// back a ready Session. Every failure path releases whatever was already acquired;
// Open never leaks a partially-opened device.
func Open(p Params) (*Session, error) {
	ctx := gousb.NewContext()

	usbDev, err := ctx.OpenDeviceWithVIDPID(p.VID, p.PID)
	if err != nil {
		ctx.Close()
		return nil, hexerr.Wrap(hexerr.KindDeviceAccess, "usbsession.Open", err)
	}
	if usbDev == nil {
		ctx.Close()
		return nil, hexerr.New(hexerr.KindDeviceAccess, "usbsession.Open",
			fmt.Sprintf("no device found for %s:%s", p.VID, p.PID))
	}
	usbDev.ControlTimeout = dfu.ClassTimeout

	if err := usbDev.SetAutoDetach(true); err != nil {
		usbDev.Close()
		ctx.Close()
		return nil, hexerr.Wrap(hexerr.KindDeviceAccess, "usbsession.Open", err)
	}

	cfgNum, err := usbDev.ActiveConfigNum()
	if err != nil {
		cfgNum = 1
	}
	cfg, err := usbDev.Config(cfgNum)
	if err != nil {
		usbDev.Close()
		ctx.Close()
		return nil, hexerr.Wrap(hexerr.KindDeviceAccess, "usbsession.Open", err)
	}

	intf, err := cfg.Interface(p.InterfaceNum, 0)
	if err != nil {
		cfg.Close()
		usbDev.Close()
		ctx.Close()
		return nil, hexerr.Wrap(hexerr.KindDeviceAccess, "usbsession.Open", err)
	}

	if p.HonorInterfaceClass {
		class := intf.Setting.Class
		if uint8(class) != dfuInterfaceClass {
			intf.Close()
			cfg.Close()
			usbDev.Close()
			ctx.Close()
			return nil, hexerr.New(hexerr.KindDeviceAccess, "usbsession.Open",
				fmt.Sprintf("interface class 0x%02x is not a DFU interface (0x%02x)", uint8(class), dfuInterfaceClass))
		}
	}

	dev := &dfu.Device{XFER: usbDev, Interface: uint16(p.InterfaceNum), Trace: p.Trace}

	s := &Session{Device: dev, ctx: ctx, usbDev: usbDev, cfg: cfg, intf: intf}

	if p.InitialAbort {
		if err := dev.Abort(); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := dfu.MakeIdle(dev); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the claimed interface, config and device handle, and
// tears down the USB context. Safe to call more than once.
func (s *Session) Close() error {
	if s.intf != nil {
		s.intf.Close()
		s.intf = nil
	}
	if s.cfg != nil {
		s.cfg.Close()
		s.cfg = nil
	}
	if s.usbDev != nil {
		s.usbDev.Close()
		s.usbDev = nil
	}
	if s.ctx != nil {
		s.ctx.Close()
		s.ctx = nil
	}
	return nil
}
