package image

import (
	"fmt"
	"math"
	"strings"
)

// Algorithm selects how a color buffer is reduced to black and white.
type Algorithm string

const (
	AlgorithmGrayscale      Algorithm = "grayscale"
	AlgorithmThreshold      Algorithm = "threshold"
	AlgorithmBayer          Algorithm = "bayer"
	AlgorithmFloydSteinberg Algorithm = "floydsteinberg"
	AlgorithmAtkinson       Algorithm = "atkinson"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{
	AlgorithmGrayscale,
	AlgorithmThreshold,
	AlgorithmBayer,
	AlgorithmFloydSteinberg,
	AlgorithmAtkinson,
}

// ParseAlgorithm accepts the algorithm names case-insensitively, plus
// "floyd-steinberg" and "fs".
func ParseAlgorithm(raw string) (Algorithm, error) {
	switch s := strings.ToLower(strings.TrimSpace(raw)); s {
	case "floyd-steinberg", "fs":
		return AlgorithmFloydSteinberg, nil
	default:
		for _, a := range Algorithms {
			if string(a) == s {
				return a, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, raw)
}

// diffusionThreshold is the fixed cut used by the error diffusion kernels:
// luminance < 129 prints black.
const diffusionThreshold = 129

// bayerMatrix is indexed [x%4][y%4].
var bayerMatrix = [4][4]int{
	{15, 135, 45, 165},
	{195, 75, 225, 105},
	{60, 180, 30, 150},
	{240, 120, 210, 90},
}

// Apply runs alg over b in place. t is only used by threshold and bayer.
func Apply(b *PixelBuffer, alg Algorithm, t int) (*PixelBuffer, error) {
	switch alg {
	case AlgorithmGrayscale:
		return Grayscale(b)
	case AlgorithmThreshold:
		return Threshold(b, t)
	case AlgorithmBayer:
		return Bayer(b, t)
	case AlgorithmFloydSteinberg:
		return FloydSteinberg(b)
	case AlgorithmAtkinson:
		return Atkinson(b)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
}

// Grayscale replaces R, G and B with the BT.601 luminance of each pixel.
func Grayscale(b *PixelBuffer) (*PixelBuffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	for i := 0; i < len(b.Pix); i += 4 {
		fill(b.Pix[i:i+3], clampByte(luminance(b.Pix[i:i+3])))
	}
	return b, nil
}

// Threshold writes 0 where luminance < t and 255 elsewhere. t is not
// clamped: t <= 0 yields all white, t > 255 all black.
func Threshold(b *PixelBuffer, t int) (*PixelBuffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	for i := 0; i < len(b.Pix); i += 4 {
		fill(b.Pix[i:i+3], binarize(luminance(b.Pix[i:i+3]), float64(t)))
	}
	return b, nil
}

// Bayer averages each pixel's luminance with the tiled 4x4 ordered matrix,
// floors the result and thresholds it against t.
func Bayer(b *PixelBuffer, t int) (*PixelBuffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			p := b.Pix[(y*b.Width+x)*4:][:3]
			v := math.Floor((luminance(p) + float64(bayerMatrix[x%4][y%4])) / 2)
			fill(p, binarize(v, float64(t)))
		}
	}
	return b, nil
}

type kernelTap struct {
	offset, weight int
}

// FloydSteinberg diffuses 16/16 of each pixel's quantization error to the
// right, below-left, below and below-right neighbours (7, 3, 5, 1).
func FloydSteinberg(b *PixelBuffer) (*PixelBuffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	w := b.Width
	diffuse(b, 16, []kernelTap{{1, 7}, {w - 1, 3}, {w, 5}, {w + 1, 1}})
	return b, nil
}

// Atkinson passes 1/8 of the error to six neighbours, dropping the other
// 2/8; highlights and shadows keep more contrast as a result.
func Atkinson(b *PixelBuffer) (*PixelBuffer, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	w := b.Width
	diffuse(b, 8, []kernelTap{{1, 1}, {2, 1}, {w - 1, 1}, {w, 1}, {w + 1, 1}, {2 * w, 1}})
	return b, nil
}

// diffuse runs the two-pass error diffusion shared by FloydSteinberg and
// Atkinson. Taps are linear offsets: a right-edge tap lands on the start of
// the next row and taps past the last pixel are dropped.
func diffuse(b *PixelBuffer, divisor int32, taps []kernelTap) {
	lum := make([]int32, b.Width*b.Height)
	for l := range lum {
		lum[l] = int32(clampByte(luminance(b.Pix[l*4:][:3])))
	}

	for l := range lum {
		v := lum[l]
		var out int32
		if v >= diffusionThreshold {
			out = 255
		}
		fill(b.Pix[l*4:][:3], uint8(out))

		e := floorDiv(v-out, divisor)
		if e == 0 {
			continue
		}
		for _, tap := range taps {
			if n := l + tap.offset; n >= 0 && n < len(lum) {
				lum[n] += e * int32(tap.weight)
			}
		}
	}
}

func luminance(p []uint8) float64 {
	return float64(p[0])*0.299 + float64(p[1])*0.587 + float64(p[2])*0.114
}

func binarize(v, t float64) uint8 {
	if v < t {
		return 0
	}
	return 255
}

// clampByte rounds half to even and saturates, as a clamped byte array does.
func clampByte(v float64) uint8 {
	switch r := math.RoundToEven(v); {
	case r <= 0:
		return 0
	case r >= 255:
		return 255
	default:
		return uint8(r)
	}
}

func fill(p []uint8, v uint8) {
	p[0], p[1], p[2] = v, v, v
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
