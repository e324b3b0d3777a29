package models

import "fmt"

// Frame represents a single detector exposure extracted from an Eiger HDF5
// container, normalized to one 2D intensity raster regardless of the on-disk
// layout it came from.
type Frame struct {
	// Index is the frame ordinal within the source file. Indices are
	// strictly increasing in extraction order and are used to derive the
	// zero-padded identifiers shared by all per-frame output files.
	Index int

	// Rows and Cols are the pixel-grid dimensions of the raster.
	Rows, Cols int

	// Pixels is the intensity raster in row-major order, length Rows*Cols.
	// Values are kept exactly as the sensor produced them: negative
	// difference values and saturation sentinels are not rewritten here.
	Pixels []float64
}

// At returns the intensity at (row, col).
func (f *Frame) At(row, col int) float64 {
	return f.Pixels[row*f.Cols+col]
}

// ID returns the zero-padded identifier shared by every output artifact
// derived from this frame, e.g. "frame_000042".
func (f *Frame) ID() string {
	return FrameID(f.Index)
}

// FrameID formats a frame ordinal as the zero-padded identifier used in
// output filenames. TIFF and text outputs from the same frame share this
// suffix so they sort together.
func FrameID(index int) string {
	return fmt.Sprintf("frame_%06d", index)
}

// Curve is a 1D intensity-vs-scattering-angle pattern produced by radially
// integrating one frame.
type Curve struct {
	// TwoTheta holds the bin centers in degrees.
	TwoTheta []float64

	// Intensity holds the summed intensity per bin. A bin with no
	// contributing pixels holds 0, keeping output column-aligned across
	// frames.
	Intensity []float64
}

// Len returns the number of bins in the curve.
func (c *Curve) Len() int {
	return len(c.TwoTheta)
}
