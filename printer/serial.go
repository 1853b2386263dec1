package printer

import (
	"fmt"
	"slices"

	"go.bug.st/serial"

	logInternal "github.com/AlexStarov/m02-raster/log"
)

// DefaultBaudRate is the M02 serial speed.
const DefaultBaudRate = 115200

// ListPorts returns the serial ports visible to the OS.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// NewSerialPrinter opens portName (COM3, /dev/ttyUSB0, /dev/cu.usbmodem*)
// at 8N1 and wraps it in a Printer.
func NewSerialPrinter(portName string, baudRate int) (*Printer, error) {
	log := logInternal.Component("serial")

	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}
	log.Debug().Strs("ports", ports).Msg("available ports")

	if !slices.Contains(ports, portName) {
		return nil, fmt.Errorf("%w: %s", ErrPortNotFound, portName)
	}

	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(defaultPollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}
	log.Info().Str("port", portName).Int("baud", baudRate).Msg("serial port open")

	p, err := NewPrinter(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return p, nil
}
