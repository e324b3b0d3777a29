package eiger

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"gonum.org/v1/hdf5"

	"diffraxia/internal/models"
)

// writeDataset creates one 2D uint32 dataset under the given group
func writeDataset(t *testing.T, g *hdf5.Group, name string, rows, cols int, values []uint32) {
	t.Helper()
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(rows), uint(cols)}, nil)
	if err != nil {
		t.Fatalf("Failed to create dataspace: %v", err)
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, hdf5.T_NATIVE_UINT32, space)
	if err != nil {
		t.Fatalf("Failed to create dataset %q: %v", name, err)
	}
	defer dset.Close()

	if err := dset.Write(&values); err != nil {
		t.Fatalf("Failed to write dataset %q: %v", name, err)
	}
}

// writeIntDataset creates one 2D int32 dataset, for signed difference values
func writeIntDataset(t *testing.T, g *hdf5.Group, name string, rows, cols int, values []int32) {
	t.Helper()
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(rows), uint(cols)}, nil)
	if err != nil {
		t.Fatalf("Failed to create dataspace: %v", err)
	}
	defer space.Close()

	dset, err := g.CreateDataset(name, hdf5.T_NATIVE_INT32, space)
	if err != nil {
		t.Fatalf("Failed to create dataset %q: %v", name, err)
	}
	defer dset.Close()

	if err := dset.Write(&values); err != nil {
		t.Fatalf("Failed to write dataset %q: %v", name, err)
	}
}

// createStreamFile builds a stream-per-frame fixture: /data/<name> datasets
func createStreamFile(t *testing.T, frames map[string][]uint32, rows, cols int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.h5")

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		t.Fatalf("Failed to create HDF5 file: %v", err)
	}
	defer f.Close()

	g, err := f.CreateGroup(streamGroup)
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	defer g.Close()

	for name, values := range frames {
		writeDataset(t, g, name, rows, cols, values)
	}
	return path
}

// createNestedFile builds a frame/subframe fixture: /frames/<i>/<sub> datasets
func createNestedFile(t *testing.T, frames map[string]map[string][]uint32, rows, cols int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested.h5")

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		t.Fatalf("Failed to create HDF5 file: %v", err)
	}
	defer f.Close()

	root, err := f.CreateGroup(nestedGroup)
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	defer root.Close()

	for name, subs := range frames {
		fg, err := root.CreateGroup(name)
		if err != nil {
			t.Fatalf("Failed to create frame group %q: %v", name, err)
		}
		for sub, values := range subs {
			writeDataset(t, fg, sub, rows, cols, values)
		}
		fg.Close()
	}
	return path
}

// collect drains an iterator into a slice
func collect(t *testing.T, it *FrameIter) []*models.Frame {
	t.Helper()
	var frames []*models.Frame
	for {
		frame, err := it.Next()
		if errors.Is(err, io.EOF) {
			return frames
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		frames = append(frames, frame)
	}
}

// TestDetectStreamLayout verifies a /data file is read as stream-per-frame
func TestDetectStreamLayout(t *testing.T) {
	path := createStreamFile(t, map[string][]uint32{
		"frame_0": {1, 2, 3, 4},
	}, 2, 2)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	if src.Layout() != LayoutStream {
		t.Errorf("Expected layout %v, got %v", LayoutStream, src.Layout())
	}
	if src.Len() != 1 {
		t.Errorf("Expected 1 frame, got %d", src.Len())
	}
}

// TestDetectNestedLayout verifies a /frames file is read as frame/subframe
func TestDetectNestedLayout(t *testing.T) {
	path := createNestedFile(t, map[string]map[string][]uint32{
		"0": {"subframe_0": {1, 2, 3, 4}},
	}, 2, 2)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	if src.Layout() != LayoutNested {
		t.Errorf("Expected layout %v, got %v", LayoutNested, src.Layout())
	}
}

// TestUnsupportedLayout verifies a file matching neither layout is refused
// rather than yielding an empty sequence
func TestUnsupportedLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "other.h5")
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		t.Fatalf("Failed to create HDF5 file: %v", err)
	}
	g, err := f.CreateGroup("unrelated")
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	g.Close()
	f.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrUnsupportedLayout) {
		t.Fatalf("Expected ErrUnsupportedLayout, got %v", err)
	}
}

// TestOpenMissingFile verifies an unreadable path surfaces with the path in
// the error
func TestOpenMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.h5")
	_, err := Open(path)
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
}

// TestNumericFrameOrdering guards against lexical sorting: suffixes 0, 2, 10
// must come out in numeric order
func TestNumericFrameOrdering(t *testing.T) {
	path := createStreamFile(t, map[string][]uint32{
		"frame_0":  {0, 0, 0, 0},
		"frame_2":  {0, 0, 0, 0},
		"frame_10": {0, 0, 0, 0},
	}, 2, 2)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := collect(t, src.Frames())
	want := []int{0, 2, 10}
	if len(frames) != len(want) {
		t.Fatalf("Expected %d frames, got %d", len(want), len(frames))
	}
	for i, frame := range frames {
		if frame.Index != want[i] {
			t.Errorf("Frame %d: expected index %d, got %d", i, want[i], frame.Index)
		}
	}
}

// TestParseIndex checks numeric suffix extraction from child names
func TestParseIndex(t *testing.T) {
	cases := []struct {
		name  string
		index int
		ok    bool
	}{
		{"frame_0", 0, true},
		{"frame_00010", 10, true},
		{"10", 10, true},
		{"data_7", 7, true},
		{"frame", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		index, err := parseIndex(tc.name)
		if tc.ok && err != nil {
			t.Errorf("parseIndex(%q) failed: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("parseIndex(%q): expected error, got %d", tc.name, index)
		}
		if tc.ok && index != tc.index {
			t.Errorf("parseIndex(%q): expected %d, got %d", tc.name, tc.index, index)
		}
	}
}

// TestSubframeSummation verifies multiple subframes of one frame combine by
// element-wise summation
func TestSubframeSummation(t *testing.T) {
	path := createNestedFile(t, map[string]map[string][]uint32{
		"0": {
			"subframe_0": {1, 2, 3, 4},
			"subframe_1": {5, 6, 7, 8},
		},
	}, 2, 2)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := collect(t, src.Frames())
	if len(frames) != 1 {
		t.Fatalf("Expected 1 logical frame, got %d", len(frames))
	}

	want := []float64{6, 8, 10, 12}
	for i, v := range want {
		if frames[0].Pixels[i] != v {
			t.Errorf("Pixel %d: expected %g, got %g", i, v, frames[0].Pixels[i])
		}
	}
}

// TestSingleSubframePassthrough verifies a frame with one subframe comes
// through unchanged
func TestSingleSubframePassthrough(t *testing.T) {
	path := createNestedFile(t, map[string]map[string][]uint32{
		"3": {"subframe_0": {9, 8, 7, 6}},
	}, 2, 2)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := collect(t, src.Frames())
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if frames[0].Index != 3 {
		t.Errorf("Expected index 3, got %d", frames[0].Index)
	}
	want := []float64{9, 8, 7, 6}
	for i, v := range want {
		if frames[0].Pixels[i] != v {
			t.Errorf("Pixel %d: expected %g, got %g", i, v, frames[0].Pixels[i])
		}
	}
}

// TestRestartableSequence verifies iterating twice yields identical frames
func TestRestartableSequence(t *testing.T) {
	path := createStreamFile(t, map[string][]uint32{
		"frame_0": {1, 2, 3, 4},
		"frame_1": {5, 6, 7, 8},
	}, 2, 2)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	first := collect(t, src.Frames())
	second := collect(t, src.Frames())

	if len(first) != len(second) {
		t.Fatalf("Pass lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Index != second[i].Index {
			t.Errorf("Frame %d index differs between passes", i)
		}
		for j := range first[i].Pixels {
			if first[i].Pixels[j] != second[i].Pixels[j] {
				t.Fatalf("Frame %d pixel %d differs between passes", i, j)
			}
		}
	}
}

// TestNegativeValuesPreserved verifies signed difference values survive
// extraction without clipping
func TestNegativeValuesPreserved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signed.h5")
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		t.Fatalf("Failed to create HDF5 file: %v", err)
	}
	g, err := f.CreateGroup(streamGroup)
	if err != nil {
		t.Fatalf("Failed to create group: %v", err)
	}
	writeIntDataset(t, g, "frame_0", 2, 2, []int32{-5, 0, 3, -1})
	g.Close()
	f.Close()

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := collect(t, src.Frames())
	want := []float64{-5, 0, 3, -1}
	for i, v := range want {
		if frames[0].Pixels[i] != v {
			t.Errorf("Pixel %d: expected %g, got %g", i, v, frames[0].Pixels[i])
		}
	}
}

// TestFrameShape verifies extraction preserves the dataset's 2D shape
func TestFrameShape(t *testing.T) {
	path := createStreamFile(t, map[string][]uint32{
		"frame_0": {1, 2, 3, 4, 5, 6},
	}, 2, 3)

	src, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	frames := collect(t, src.Frames())
	if frames[0].Rows != 2 || frames[0].Cols != 3 {
		t.Errorf("Expected shape (2, 3), got (%d, %d)", frames[0].Rows, frames[0].Cols)
	}
	if frames[0].At(1, 2) != 6 {
		t.Errorf("Expected row-major At(1,2)=6, got %g", frames[0].At(1, 2))
	}
}
