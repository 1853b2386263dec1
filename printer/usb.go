package printer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

type usbConn struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint
}

// ParseUSBID parses a "VID:PID" pair of hexadecimal IDs, e.g. "0483:5740".
func ParseUSBID(raw string) (vid, pid gousb.ID, err error) {
	v, p, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return 0, 0, fmt.Errorf("usb id %q: want VID:PID", raw)
	}
	vv, err := strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("usb vendor id %q: %w", v, err)
	}
	pp, err := strconv.ParseUint(strings.TrimPrefix(p, "0x"), 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("usb product id %q: %w", p, err)
	}
	return gousb.ID(vv), gousb.ID(pp), nil
}

// NewUSBPrinter claims interface 0 of the first device matching vendorID
// and productID and talks to it over its bulk endpoints.
func NewUSBPrinter(vendorID, productID gousb.ID) (*Printer, error) {
	ctx := gousb.NewContext()
	dev, err := findUSBPrinter(ctx, vendorID, productID)
	if err != nil {
		ctx.Close()
		return nil, err
	}

	conn := &usbConn{ctx: ctx, dev: dev}
	if err := conn.claim(); err != nil {
		conn.Close()
		return nil, err
	}

	printer, err := NewPrinter(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return printer, nil
}

func findUSBPrinter(ctx *gousb.Context, vendorID, productID gousb.ID) (*gousb.Device, error) {
	dev, err := ctx.OpenDeviceWithVIDPID(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("open usb device %s:%s: %w", vendorID, productID, err)
	}
	if dev == nil {
		return nil, fmt.Errorf("%w: usb %s:%s", ErrPortNotFound, vendorID, productID)
	}
	return dev, nil
}

func (u *usbConn) claim() error {
	if err := u.dev.SetAutoDetach(true); err != nil {
		return fmt.Errorf("usb auto detach: %w", err)
	}
	cfg, err := u.dev.Config(1)
	if err != nil {
		return fmt.Errorf("usb config: %w", err)
	}
	u.cfg = cfg

	intf, err := cfg.Interface(0, 0)
	if err != nil {
		return fmt.Errorf("usb interface: %w", err)
	}
	u.intf = intf

	out, err := intf.OutEndpoint(1)
	if err != nil {
		return fmt.Errorf("usb out endpoint: %w", err)
	}
	u.out = out

	// у некоторых принтеров нет IN endpoint, статус тогда не читается
	if in, err := intf.InEndpoint(1); err == nil {
		u.in = in
	}
	return nil
}

func (u *usbConn) Read(p []byte) (int, error) {
	if u.in == nil {
		return 0, fmt.Errorf("USB read not supported")
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultPollInterval)
	defer cancel()
	n, err := u.in.ReadContext(ctx, p)
	if err != nil && ctx.Err() != nil {
		return n, nil
	}
	return n, err
}

func (u *usbConn) Write(p []byte) (int, error) {
	return u.out.Write(p)
}

func (u *usbConn) Close() error {
	if u.intf != nil {
		u.intf.Close()
	}
	if u.cfg != nil {
		u.cfg.Close()
	}
	if u.dev != nil {
		u.dev.Close()
	}
	if u.ctx != nil {
		u.ctx.Close()
	}
	return nil
}
