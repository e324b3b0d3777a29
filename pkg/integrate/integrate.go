// Package integrate reduces 2D diffraction frames to 1D
// intensity-vs-scattering-angle curves by binning pixels on their 2theta
// value.
package integrate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"diffraxia/internal/models"
	"diffraxia/pkg/geometry"
)

// ParamError reports an invalid integration request: a bad angular range or
// bin count, or a frame whose shape does not match the detector panel.
type ParamError struct {
	Reason string
}

func (e *ParamError) Error() string {
	return "integrate: " + e.Reason
}

// Integrate accumulates the intensities of one frame into nbins equal-width
// 2theta bins spanning [tthMin, tthMax] and returns the resulting curve.
//
// Each bin is half-open [edge_i, edge_i+1); the final bin is closed so a
// pixel at exactly tthMax is counted. Bin membership comes from a single
// floor((tth-tthMin)/width) computation, so a pixel on an interior boundary
// lands in the upper bin and is never double-counted. Pixels whose angle
// falls outside the range contribute nowhere. Aggregation is summation;
// bins with no contributing pixels report 0.
//
// The 2theta map is a derived artifact of the geometry alone. Callers
// processing many frames should obtain it once (geometry.Model caches it)
// and pass the same map for every frame.
func Integrate(frame *models.Frame, tth *geometry.TwoThetaMap, tthMin, tthMax float64, nbins int) (*models.Curve, error) {
	if tthMin >= tthMax {
		return nil, &ParamError{Reason: fmt.Sprintf("invalid 2theta range [%g, %g]", tthMin, tthMax)}
	}
	if nbins < 1 {
		return nil, &ParamError{Reason: fmt.Sprintf("bin count must be at least 1, got %d", nbins)}
	}
	if frame.Rows != tth.Rows || frame.Cols != tth.Cols {
		return nil, &ParamError{Reason: fmt.Sprintf(
			"frame shape (%d, %d) does not match detector panel (%d, %d)",
			frame.Rows, frame.Cols, tth.Rows, tth.Cols)}
	}

	width := (tthMax - tthMin) / float64(nbins)
	intensity := make([]float64, nbins)

	for i, angle := range tth.Deg {
		if math.IsNaN(angle) || angle < tthMin || angle > tthMax {
			continue
		}
		bin := int(math.Floor((angle - tthMin) / width))
		if bin == nbins {
			// Exactly tthMax: the final bin is closed on both ends.
			bin = nbins - 1
		}
		if bin < 0 || bin >= nbins {
			continue
		}
		intensity[bin] += frame.Pixels[i]
	}

	return &models.Curve{TwoTheta: binCenters(tthMin, tthMax, nbins), Intensity: intensity}, nil
}

// binCenters returns the representative 2theta value of each bin, the
// midpoint of its edges.
func binCenters(tthMin, tthMax float64, nbins int) []float64 {
	edges := make([]float64, nbins+1)
	floats.Span(edges, tthMin, tthMax)

	centers := make([]float64, nbins)
	for i := range centers {
		centers[i] = 0.5 * (edges[i] + edges[i+1])
	}
	return centers
}
