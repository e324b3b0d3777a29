// Package geometry loads a calibrated detector description and maps pixel
// coordinates to scattering angles. The calibration is supplied and trusted;
// no refinement is performed here.
package geometry

import (
	"fmt"
	"math"
	"os"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Error reports a missing, malformed, or physically invalid calibration.
type Error struct {
	// Path is the calibration file the error refers to, when known.
	Path string

	// Field names the offending calibration field, when one can be singled out.
	Field string

	// Reason describes what was wrong.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := "geometry: " + e.Reason
	if e.Field != "" {
		msg = fmt.Sprintf("geometry: field %q: %s", e.Field, e.Reason)
	}
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Params holds the calibration fields for a single detector panel.
type Params struct {
	// Distance is the detector-to-sample distance, in the same length unit
	// as the pixel size (typically mm). Must be strictly positive.
	Distance float64

	// BeamCenterRow and BeamCenterCol locate the direct-beam footprint on
	// the panel, in pixel units.
	BeamCenterRow float64
	BeamCenterCol float64

	// Translation is the offset of the panel origin relative to its nominal
	// on-axis position at Distance, in length units. Zero for an untilted,
	// centered panel.
	Translation [3]float64

	// TiltDeg holds the panel tilt as rotations about the x, y, and z axes,
	// in degrees, applied in z·y·x order.
	TiltDeg [3]float64

	// PixelHeight and PixelWidth are the physical size of one pixel.
	// Must be strictly positive.
	PixelHeight float64
	PixelWidth  float64

	// Rows and Cols are the panel's pixel-grid dimensions.
	Rows, Cols int
}

// Model is an immutable detector geometry. It is safe to share read-only
// across all per-frame integrations of a run; the derived per-pixel 2theta
// map is computed at most once and cached.
type Model struct {
	params Params
	rot    *mat.Dense

	mapOnce sync.Once
	tthMap  *TwoThetaMap
}

// New validates the calibration fields and builds a Model. Non-positive
// distance or pixel size and non-positive panel dimensions are rejected
// here rather than clamped.
func New(p Params) (*Model, error) {
	if p.Distance <= 0 {
		return nil, &Error{Field: "distance", Reason: fmt.Sprintf("must be positive, got %g", p.Distance)}
	}
	if p.PixelHeight <= 0 || p.PixelWidth <= 0 {
		return nil, &Error{Field: "pixel_size", Reason: fmt.Sprintf("must be positive, got (%g, %g)", p.PixelHeight, p.PixelWidth)}
	}
	if p.Rows <= 0 || p.Cols <= 0 {
		return nil, &Error{Field: "panel_shape", Reason: fmt.Sprintf("must be positive, got (%d, %d)", p.Rows, p.Cols)}
	}
	return &Model{params: p, rot: tiltMatrix(p.TiltDeg)}, nil
}

// Params returns a copy of the calibration fields.
func (m *Model) Params() Params { return m.params }

// Shape returns the panel's pixel-grid dimensions.
func (m *Model) Shape() (rows, cols int) { return m.params.Rows, m.params.Cols }

// tiltMatrix builds the combined rotation Rz·Ry·Rx for tilt angles given in
// degrees about the x, y, and z axes.
func tiltMatrix(tiltDeg [3]float64) *mat.Dense {
	rx, ry, rz := tiltDeg[0]*math.Pi/180, tiltDeg[1]*math.Pi/180, tiltDeg[2]*math.Pi/180

	cx, sx := math.Cos(rx), math.Sin(rx)
	cy, sy := math.Cos(ry), math.Sin(ry)
	cz, sz := math.Cos(rz), math.Sin(rz)

	mx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, cx, -sx,
		0, sx, cx,
	})
	my := mat.NewDense(3, 3, []float64{
		cy, 0, sy,
		0, 1, 0,
		-sy, 0, cy,
	})
	mz := mat.NewDense(3, 3, []float64{
		cz, -sz, 0,
		sz, cz, 0,
		0, 0, 1,
	})

	var r mat.Dense
	r.Product(mz, my, mx)
	return &r
}

// PixelToTwoTheta returns the full scattering angle, in degrees, of the ray
// from the sample through pixel (row, col). The result depends only on the
// pixel coordinate and the loaded calibration.
//
// The pixel is first placed on the detector plane in length units around the
// beam center, then rotated by the panel tilt, offset by the panel
// translation, and pushed to the panel's distance along the beam axis. The
// beam travels along -z; 2theta is the angle between the sample->pixel ray
// and that axis.
func (m *Model) PixelToTwoTheta(row, col int) float64 {
	p := m.params

	// Detector-plane coordinates in length units, beam center at the origin.
	// Rows count downward on the panel, so row offsets map to -y.
	x := (float64(col) - p.BeamCenterCol) * p.PixelWidth
	y := (p.BeamCenterRow - float64(row)) * p.PixelHeight

	r := m.rot
	vx := r.At(0, 0)*x + r.At(0, 1)*y + p.Translation[0]
	vy := r.At(1, 0)*x + r.At(1, 1)*y + p.Translation[1]
	vz := r.At(2, 0)*x + r.At(2, 1)*y + p.Translation[2] - p.Distance

	// Angle between v and the beam direction (0, 0, -1).
	norm := math.Sqrt(vx*vx + vy*vy + vz*vz)
	cosTth := -vz / norm
	if cosTth > 1 {
		cosTth = 1
	} else if cosTth < -1 {
		cosTth = -1
	}
	return math.Acos(cosTth) * 180 / math.Pi
}

// TwoThetaMap holds the per-pixel scattering angle of a full panel, in
// degrees, row-major. It is a pure derived artifact of the geometry and is
// computed once per model, then reused for every frame of a run.
type TwoThetaMap struct {
	Rows, Cols int
	Deg        []float64
}

// At returns the scattering angle of pixel (row, col) in degrees.
func (t *TwoThetaMap) At(row, col int) float64 {
	return t.Deg[row*t.Cols+col]
}

// TwoThetaMap returns the cached per-pixel scattering-angle map for the
// whole panel, computing it on first use.
func (m *Model) TwoThetaMap() *TwoThetaMap {
	m.mapOnce.Do(func() {
		rows, cols := m.params.Rows, m.params.Cols
		deg := make([]float64, rows*cols)
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				deg[row*cols+col] = m.PixelToTwoTheta(row, col)
			}
		}
		m.tthMap = &TwoThetaMap{Rows: rows, Cols: cols, Deg: deg}
	})
	return m.tthMap
}

// instrumentFile mirrors the calibration YAML layout. Several panels may be
// listed; only the first is consulted.
type instrumentFile struct {
	Detectors []panelSpec `yaml:"detectors"`
}

type panelSpec struct {
	Name        string    `yaml:"name"`
	Distance    *float64  `yaml:"distance"`
	BeamCenter  []float64 `yaml:"beam_center"`
	Translation []float64 `yaml:"translation"`
	TiltDeg     []float64 `yaml:"tilt_deg"`
	PixelSize   []float64 `yaml:"pixel_size"`
	PanelShape  []int     `yaml:"panel_shape"`
}

// Load reads a calibration file and returns the geometry of its first
// detector panel. Additional panels are ignored; multi-panel instruments are
// a documented limitation, not an error.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Reason: "cannot read calibration file", Err: err}
	}

	var file instrumentFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &Error{Path: path, Reason: "malformed calibration file", Err: err}
	}
	if len(file.Detectors) == 0 {
		return nil, &Error{Path: path, Field: "detectors", Reason: "no detector panels described"}
	}

	panel := file.Detectors[0]
	if panel.Distance == nil {
		return nil, &Error{Path: path, Field: "distance", Reason: "required field missing"}
	}
	if len(panel.BeamCenter) != 2 {
		return nil, &Error{Path: path, Field: "beam_center", Reason: "required field missing or not a (row, col) pair"}
	}
	if len(panel.PixelSize) != 2 {
		return nil, &Error{Path: path, Field: "pixel_size", Reason: "required field missing or not a (height, width) pair"}
	}
	if len(panel.PanelShape) != 2 {
		return nil, &Error{Path: path, Field: "panel_shape", Reason: "required field missing or not a (rows, cols) pair"}
	}

	p := Params{
		Distance:      *panel.Distance,
		BeamCenterRow: panel.BeamCenter[0],
		BeamCenterCol: panel.BeamCenter[1],
		PixelHeight:   panel.PixelSize[0],
		PixelWidth:    panel.PixelSize[1],
		Rows:          panel.PanelShape[0],
		Cols:          panel.PanelShape[1],
	}
	if len(panel.Translation) == 3 {
		copy(p.Translation[:], panel.Translation)
	} else if len(panel.Translation) != 0 {
		return nil, &Error{Path: path, Field: "translation", Reason: "must be a 3-vector"}
	}
	if len(panel.TiltDeg) == 3 {
		copy(p.TiltDeg[:], panel.TiltDeg)
	} else if len(panel.TiltDeg) != 0 {
		return nil, &Error{Path: path, Field: "tilt_deg", Reason: "must hold 3 angles"}
	}

	model, err := New(p)
	if err != nil {
		if gerr, ok := err.(*Error); ok {
			gerr.Path = path
		}
		return nil, err
	}
	return model, nil
}
