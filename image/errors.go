package image

import "errors"

var (
	// ErrInvalidDimensions means a buffer's length disagrees with its width and height.
	ErrInvalidDimensions = errors.New("image: buffer length does not match width*height*4")

	// ErrUnsupportedWidth means the width cannot be packed into whole bytes.
	ErrUnsupportedWidth = errors.New("image: width must be a positive multiple of 8")

	// ErrInvalidMaxLines means a frame height limit outside 1..255.
	ErrInvalidMaxLines = errors.New("image: max lines per frame must be between 1 and 255")

	ErrUnknownAlgorithm = errors.New("image: unknown dither algorithm")
	ErrUnknownPolarity  = errors.New("image: unknown polarity")
)
