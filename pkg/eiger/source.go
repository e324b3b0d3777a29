// Package eiger extracts difference-image frames from Eiger-style HDF5
// containers. Two on-disk layouts exist in the wild; both are normalized
// behind one ordered, restartable frame sequence so downstream code never
// sees the difference.
package eiger

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/hdf5"

	"diffraxia/internal/models"
)

// Layout identifies which supported on-disk arrangement a file uses.
type Layout int

const (
	// LayoutStream is the "stream-per-frame" arrangement: a single fixed
	// group holds one 2D dataset per frame, named with a numeric suffix.
	LayoutStream Layout = iota

	// LayoutNested is the "frame/subframe" arrangement: one group per
	// frame, each holding one or more 2D subframe datasets that are
	// partial exposures of the same physical frame.
	LayoutNested
)

func (l Layout) String() string {
	switch l {
	case LayoutStream:
		return "stream-per-frame"
	case LayoutNested:
		return "frame/subframe"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

const (
	streamGroup = "data"
	nestedGroup = "frames"
)

// ErrUnsupportedLayout is returned by Open when a file matches neither
// supported layout. Guessing would risk silently producing an empty frame
// sequence, so the whole run is refused instead.
var ErrUnsupportedLayout = errors.New("eiger: file matches no supported HDF5 layout")

// frameKey is one discovered frame: its ordinal parsed from the child name,
// and the name itself for later dataset access.
type frameKey struct {
	index int
	name  string
}

// Source reads frames from one opened HDF5 container. The child names are
// scanned once at Open; pixel data is read lazily, one frame at a time, so
// a large multi-frame file is never resident in memory at once.
type Source struct {
	path   string
	layout Layout
	file   *hdf5.File
	root   *hdf5.Group
	keys   []frameKey
}

// Open probes path for the stream-per-frame layout first, then for the
// frame/subframe layout, and scans the frame ordinals of whichever matched.
// A file matching neither fails with ErrUnsupportedLayout.
func Open(path string) (*Source, error) {
	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("eiger: open %s: %w", path, err)
	}

	src := &Source{path: path, file: file}
	if root, err := file.OpenGroup(streamGroup); err == nil {
		src.layout = LayoutStream
		src.root = root
	} else if root, err := file.OpenGroup(nestedGroup); err == nil {
		src.layout = LayoutNested
		src.root = root
	} else {
		file.Close()
		return nil, fmt.Errorf("%w: %s (no /%s or /%s group)", ErrUnsupportedLayout, path, streamGroup, nestedGroup)
	}

	keys, err := scanKeys(src.root)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("eiger: scan %s: %w", path, err)
	}
	src.keys = keys
	return src, nil
}

// Path returns the container path this source was opened from.
func (s *Source) Path() string { return s.path }

// Layout reports which on-disk layout was detected.
func (s *Source) Layout() Layout { return s.layout }

// Len returns the number of logical frames in the container.
func (s *Source) Len() int { return len(s.keys) }

// Close releases the underlying HDF5 handles.
func (s *Source) Close() error {
	if s.root != nil {
		s.root.Close()
		s.root = nil
	}
	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// Frames returns a fresh iterator over the container's logical frames in
// increasing index order. Each call restarts from the first frame, so a
// caller may walk the sequence once to export rasters and again to
// integrate, and see identical frames both times.
func (s *Source) Frames() *FrameIter {
	return &FrameIter{src: s}
}

// FrameIter is a pull-based iterator over a Source's frames.
type FrameIter struct {
	src *Source
	pos int
}

// Next returns the next frame, or io.EOF when the sequence is exhausted.
// A caller aborts a run simply by not asking for the next frame.
func (it *FrameIter) Next() (*models.Frame, error) {
	if it.pos >= len(it.src.keys) {
		return nil, io.EOF
	}
	key := it.src.keys[it.pos]
	it.pos++

	switch it.src.layout {
	case LayoutStream:
		return it.src.readStreamFrame(key)
	default:
		return it.src.readNestedFrame(key)
	}
}

// scanKeys lists the root group's children and orders them by the numeric
// suffix embedded in each name. The sort is numeric, never lexical, so
// frame_10 follows frame_2.
func scanKeys(root *hdf5.Group) ([]frameKey, error) {
	n, err := root.NumObjects()
	if err != nil {
		return nil, err
	}

	keys := make([]frameKey, 0, n)
	for i := uint(0); i < n; i++ {
		name := root.ObjectNameByIndex(i)
		index, err := parseIndex(name)
		if err != nil {
			return nil, err
		}
		keys = append(keys, frameKey{index: index, name: name})
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].index < keys[b].index })
	return keys, nil
}

// parseIndex extracts the trailing run of digits from a child name, so
// "frame_00010", "data_10", and "10" all yield 10.
func parseIndex(name string) (int, error) {
	end := len(name)
	start := end
	for start > 0 && name[start-1] >= '0' && name[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, fmt.Errorf("child %q has no numeric suffix", name)
	}
	index := 0
	for _, c := range name[start:end] {
		index = index*10 + int(c-'0')
	}
	return index, nil
}

// readStreamFrame reads one full-frame dataset from the stream layout.
func (s *Source) readStreamFrame(key frameKey) (*models.Frame, error) {
	dset, err := s.root.OpenDataset(key.name)
	if err != nil {
		return nil, fmt.Errorf("eiger: %s: open dataset %q: %w", s.path, key.name, err)
	}
	defer dset.Close()

	rows, cols, pixels, err := readRaster(dset)
	if err != nil {
		return nil, fmt.Errorf("eiger: %s: dataset %q: %w", s.path, key.name, err)
	}
	return &models.Frame{Index: key.index, Rows: rows, Cols: cols, Pixels: pixels}, nil
}

// readNestedFrame reads every subframe dataset of one frame group and sums
// them element-wise. Subframes are partial exposures of the same physical
// frame, so their sum is the logical frame.
func (s *Source) readNestedFrame(key frameKey) (*models.Frame, error) {
	grp, err := s.root.OpenGroup(key.name)
	if err != nil {
		return nil, fmt.Errorf("eiger: %s: open frame group %q: %w", s.path, key.name, err)
	}
	defer grp.Close()

	subKeys, err := scanKeys(grp)
	if err != nil {
		return nil, fmt.Errorf("eiger: %s: frame group %q: %w", s.path, key.name, err)
	}
	if len(subKeys) == 0 {
		return nil, fmt.Errorf("eiger: %s: frame group %q holds no subframes", s.path, key.name)
	}

	frame := &models.Frame{Index: key.index}
	for _, sub := range subKeys {
		dset, err := grp.OpenDataset(sub.name)
		if err != nil {
			return nil, fmt.Errorf("eiger: %s: open subframe %q/%q: %w", s.path, key.name, sub.name, err)
		}
		rows, cols, pixels, err := readRaster(dset)
		dset.Close()
		if err != nil {
			return nil, fmt.Errorf("eiger: %s: subframe %q/%q: %w", s.path, key.name, sub.name, err)
		}

		if frame.Pixels == nil {
			frame.Rows, frame.Cols, frame.Pixels = rows, cols, pixels
			continue
		}
		if rows != frame.Rows || cols != frame.Cols {
			return nil, fmt.Errorf("eiger: %s: subframe %q/%q shape (%d, %d) disagrees with (%d, %d)",
				s.path, key.name, sub.name, rows, cols, frame.Rows, frame.Cols)
		}
		for i, v := range pixels {
			frame.Pixels[i] += v
		}
	}
	return frame, nil
}

// readRaster reads a 2D dataset into a row-major float64 slice. The HDF5
// library converts from whatever numeric type the file stores, so uint32
// Eiger bitstreams and signed difference values both survive unchanged.
func readRaster(dset *hdf5.Dataset) (rows, cols int, pixels []float64, err error) {
	space := dset.Space()
	defer space.Close()

	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return 0, 0, nil, err
	}
	if len(dims) != 2 {
		return 0, 0, nil, fmt.Errorf("expected a 2D dataset, got %d dimension(s)", len(dims))
	}

	rows, cols = int(dims[0]), int(dims[1])
	pixels = make([]float64, rows*cols)
	if err := dset.Read(&pixels); err != nil {
		return 0, 0, nil, err
	}
	return rows, cols, pixels, nil
}
