// Package pipeline sequences frame extraction, radial integration, and the
// per-frame output sinks for one run over a single HDF5 container.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"diffraxia/internal/models"
	"diffraxia/pkg/eiger"
	"diffraxia/pkg/geometry"
	"diffraxia/pkg/integrate"
)

// RasterSink consumes one raw frame per call on the conversion path.
// *export.TiffWriter satisfies it.
type RasterSink interface {
	WriteFrame(frame *models.Frame) (string, error)
}

// CurveSink consumes one integrated curve per call on the integration path.
// *export.PatternWriter satisfies it.
type CurveSink interface {
	WriteCurve(frameIndex int, curve *models.Curve) (string, error)
}

// Params holds the configuration of one pipeline run.
type Params struct {
	// Source supplies the ordered frame sequence.
	Source *eiger.Source

	// Geometry is the calibrated detector model. Required on the
	// integration path, unused on the conversion path.
	Geometry *geometry.Model

	// TthMin and TthMax bound the 2theta range in degrees, and NBins sets
	// the bin count, for the integration path.
	TthMin, TthMax float64
	NBins          int

	// MaxFrames caps how many frames are processed; 0 means all.
	MaxFrames int

	// FailFast aborts the run on the first per-frame failure instead of
	// recording it and continuing with the remaining frames.
	FailFast bool

	// Logger receives per-frame progress; nil discards it.
	Logger *slog.Logger
}

// FrameError records the failure of a single frame within a run that
// carried on.
type FrameError struct {
	Index int
	Err   error
}

func (e FrameError) Error() string {
	return fmt.Sprintf("%s: %v", models.FrameID(e.Index), e.Err)
}

// Result summarizes one run: how many frames completed and which failed.
type Result struct {
	Processed int
	Failed    []FrameError
}

// Runner drives one run over a frame source. Frames are pulled one at a
// time; only the current frame and its derived curve are ever resident.
type Runner struct {
	params *Params
	log    *slog.Logger
}

// NewRunner creates a runner for the given parameters.
func NewRunner(params *Params) *Runner {
	log := params.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{params: params, log: log}
}

// Convert runs the conversion path: every frame goes to the raster sink
// under its zero-padded identifier.
func (r *Runner) Convert(sink RasterSink) (*Result, error) {
	return r.run(func(frame *models.Frame) error {
		path, err := sink.WriteFrame(frame)
		if err != nil {
			return err
		}
		r.log.Debug("frame converted", "frame", frame.ID(), "output", path)
		return nil
	})
}

// Integrate runs the integration path: every frame is reduced to a curve
// against the run's geometry and handed to the curve sink. The per-pixel
// 2theta map is computed once, before the first frame, and shared read-only
// across the whole run.
func (r *Runner) Integrate(sink CurveSink) (*Result, error) {
	if r.params.Geometry == nil {
		return nil, fmt.Errorf("pipeline: integration requires a detector geometry")
	}
	tthMap := r.params.Geometry.TwoThetaMap()

	return r.run(func(frame *models.Frame) error {
		curve, err := integrate.Integrate(frame, tthMap, r.params.TthMin, r.params.TthMax, r.params.NBins)
		if err != nil {
			return err
		}
		path, err := sink.WriteCurve(frame.Index, curve)
		if err != nil {
			return err
		}
		r.log.Debug("frame integrated", "frame", frame.ID(), "output", path)
		return nil
	})
}

// run pulls frames until the sequence ends or the frame cap is reached,
// applying work to each. Extraction and I/O errors abort the run; a
// per-frame work failure is recorded and the remaining frames still run,
// unless FailFast is set.
func (r *Runner) run(work func(*models.Frame) error) (*Result, error) {
	it := r.params.Source.Frames()
	res := &Result{}

	for {
		if r.params.MaxFrames > 0 && res.Processed+len(res.Failed) >= r.params.MaxFrames {
			break
		}
		frame, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("pipeline: read %s: %w", r.params.Source.Path(), err)
		}

		if err := work(frame); err != nil {
			if r.params.FailFast {
				return res, fmt.Errorf("pipeline: %s: %w", frame.ID(), err)
			}
			r.log.Warn("frame failed", "frame", frame.ID(), "error", err)
			res.Failed = append(res.Failed, FrameError{Index: frame.Index, Err: err})
			continue
		}
		res.Processed++
	}

	if len(res.Failed) > 0 {
		return res, fmt.Errorf("pipeline: %d of %d frame(s) failed", len(res.Failed), res.Processed+len(res.Failed))
	}
	return res, nil
}
