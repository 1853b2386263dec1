// Package util holds small encoders shared by the command builders.
package util

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a value does not fit the requested byte count.
var ErrOutOfRange = errors.New("util: value out of range")

// IntLowHigh encodes n as b little-endian bytes (low byte first), the way
// ESC/POS command parameters such as xL xH yL yH are laid out.
func IntLowHigh(n int, b int) ([]byte, error) {
	if b < 1 || b > 4 {
		return nil, fmt.Errorf("%w: IntLowHigh supports 1-4 bytes, got %d", ErrOutOfRange, b)
	}
	if n < 0 || uint64(n) >= uint64(1)<<(8*uint(b)) {
		return nil, fmt.Errorf("%w: %d does not fit in %d byte(s)", ErrOutOfRange, n, b)
	}

	out := make([]byte, b)
	for i := 0; i < b; i++ {
		out[i] = byte(n)
		n >>= 8
	}
	return out, nil
}

// MustIntLowHigh is IntLowHigh for parameters already checked by the caller.
func MustIntLowHigh(n int, b int) []byte {
	out, err := IntLowHigh(n, b)
	if err != nil {
		panic(err)
	}
	return out
}
