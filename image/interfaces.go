package image

// Target receives raster frames in print order.
type Target interface {
	Raster(frame RasterFrame) error
}
