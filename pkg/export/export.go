// Package export writes the per-frame artifacts the pipeline produces: one
// grayscale TIFF per raw frame and one two-column text pattern per
// integrated curve. Filenames derive from the shared zero-padded frame
// identifier so both artifacts of a frame sort together.
package export

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/tiff"

	"diffraxia/internal/models"
)

// saturationSentinel is the uint32 all-ones value Eiger detectors report for
// saturated pixels. Carrying it into an image would swamp every other value,
// so raster export rewrites it to 0, as the pixel carries no usable count.
const saturationSentinel = float64(^uint32(0))

// TiffWriter writes one grayscale TIFF per frame into a fixed directory.
type TiffWriter struct {
	dir string
}

// NewTiffWriter creates the output directory if needed and returns a writer
// targeting it.
func NewTiffWriter(dir string) (*TiffWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("export: create output directory %s: %w", dir, err)
	}
	return &TiffWriter{dir: dir}, nil
}

// WriteFrame encodes a frame as a 16-bit grayscale TIFF named after the
// frame identifier, e.g. frame_000042.tiff.
//
// Saturation sentinels become 0 and remaining values are clamped to the
// encoder's 16-bit sample range; the integration path reads the original
// frame values and is unaffected by this.
func (w *TiffWriter) WriteFrame(frame *models.Frame) (string, error) {
	img := image.NewGray16(image.Rect(0, 0, frame.Cols, frame.Rows))
	for row := 0; row < frame.Rows; row++ {
		for col := 0; col < frame.Cols; col++ {
			v := frame.At(row, col)
			if v == saturationSentinel {
				v = 0
			}
			img.SetGray16(col, row, color.Gray16{Y: uint16(math.Max(0, math.Min(65535, v)))})
		}
	}

	path := filepath.Join(w.dir, frame.ID()+".tiff")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create %s: %w", path, err)
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		f.Close()
		return "", fmt.Errorf("export: encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("export: close %s: %w", path, err)
	}
	return path, nil
}

// PatternWriter writes one two-column text file per integrated curve,
// using a caller-supplied prefix plus the frame identifier.
type PatternWriter struct {
	prefix string
}

// NewPatternWriter prepares a writer for the given output prefix. A prefix
// with a directory component has that directory created; trailing
// underscores are stripped so joined names never carry a double separator.
func NewPatternWriter(prefix string) (*PatternWriter, error) {
	for len(prefix) > 0 && prefix[len(prefix)-1] == '_' {
		prefix = prefix[:len(prefix)-1]
	}
	if prefix == "" {
		return nil, fmt.Errorf("export: output prefix is empty")
	}
	if dir := filepath.Dir(prefix); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("export: create output directory %s: %w", dir, err)
		}
	}
	return &PatternWriter{prefix: prefix}, nil
}

// WriteCurve writes a curve as whitespace-separated "2theta_deg
// intensity_sum" rows, one per bin, to <prefix>_frame_NNNNNN.txt.
func (w *PatternWriter) WriteCurve(frameIndex int, curve *models.Curve) (string, error) {
	path := fmt.Sprintf("%s_%s.txt", w.prefix, models.FrameID(frameIndex))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create %s: %w", path, err)
	}

	buf := bufio.NewWriter(f)
	fmt.Fprintln(buf, "# 2theta_deg\tintensity_sum")
	for i := 0; i < curve.Len(); i++ {
		fmt.Fprintf(buf, "%.6f\t%.6f\n", curve.TwoTheta[i], curve.Intensity[i])
	}
	if err := buf.Flush(); err != nil {
		f.Close()
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("export: close %s: %w", path, err)
	}
	return path, nil
}
