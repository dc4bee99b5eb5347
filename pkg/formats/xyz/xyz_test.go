package xyz

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/fileio"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/particles"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"github.com/wehubfusion/Helios/pkg/transport"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const trajectory = `3
first frame
Cu 0 0 0
Zr 1 0 0
Cu 0 2 0
2
second frame
Zr 1 1 1
Zr 2 2 2
`

func writeFile(t *testing.T, name, content string) (string, *url.URL) {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	u, err := transport.Parse(p)
	require.NoError(t, err)
	return p, u
}

func findFrames(t *testing.T, content string) ([]fileio.Frame, error) {
	t.Helper()
	p, u := writeFile(t, "traj.xyz", content)
	var frames []fileio.Frame
	err := NewFormat().NewFrameFinder(u, p).FindFrames(context.Background(),
		concurrency.NewDetachedProgress(context.Background()), func(f fileio.Frame) {
			frames = append(frames, f)
		})
	return frames, err
}

func load(t *testing.T, content string, frame fileio.Frame) (*FrameData, error) {
	t.Helper()
	p, u := writeFile(t, "frame.xyz", content)
	frame.SourceFile = u
	fd, err := NewFormat().NewFrameLoader(frame, p).Load(context.Background(),
		concurrency.NewDetachedProgress(context.Background()))
	if err != nil {
		return nil, err
	}
	return fd.(*FrameData), nil
}

func TestFindFrames(t *testing.T) {
	frames, err := findFrames(t, trajectory)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	var labels []string
	for _, f := range frames {
		labels = append(labels, f.Label)
	}
	if diff := cmp.Diff([]string{"traj.xyz (Frame 0)", "traj.xyz (Frame 1)"}, labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(0), frames[0].ByteOffset)
	assert.Equal(t, 1, frames[0].LineNumber)
	assert.Equal(t, int64(len("3\nfirst frame\nCu 0 0 0\nZr 1 0 0\nCu 0 2 0\n")), frames[1].ByteOffset)
	assert.Equal(t, 6, frames[1].LineNumber)
	assert.False(t, frames[1].LastModified.IsZero())
}

func TestFindFramesRejectsBadCountLine(t *testing.T) {
	_, err := findFrames(t, "abc\n")
	assert.EqualError(t, err, "Invalid number of particles in line 1 of XYZ file: abc")

	frames, err := findFrames(t, "1\n\nH 0 0 0\n1 2\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Parsing error in line 4 of XYZ file")
	assert.Len(t, frames, 1)
}

func TestLoadSecondFrame(t *testing.T) {
	frames, err := findFrames(t, trajectory)
	require.NoError(t, err)

	fd, err := load(t, trajectory, frames[1])
	require.NoError(t, err)
	assert.Equal(t, 2, fd.Particles.Count())
	pos := fd.Particles.Positions()
	require.NotNil(t, pos)
	assert.Equal(t, []float64{2, 2, 2}, pos.Element(1))
	assert.Equal(t, "2 particles\nsecond frame", fd.Status().Text)
	assert.Equal(t, "second frame", fd.Attributes["Comment"])

	// Without a cell in the file the bounding box becomes the cell.
	assert.Equal(t, [3]float64{1, 1, 1}, fd.Cell.Origin())
	assert.Equal(t, [3]float64{1, 0, 0}, fd.Cell.Vector(0))
	assert.Equal(t, [3]bool{}, fd.Cell.PBC())
}

func TestLoadSortsTypeNames(t *testing.T) {
	fd, err := load(t, "3\n\nZr 0 0 0\nCu 1 0 0\nZr 0 2 0\n", fileio.Frame{LineNumber: 1})
	require.NoError(t, err)
	types := fd.Particles.Property(particles.TypeProperty)
	require.NotNil(t, types)
	assert.Equal(t, []string{"Cu", "Zr"}, types.Types())
	assert.Equal(t, []float64{2, 1, 2}, types.Values())
}

func TestLoadExtendedXYZ(t *testing.T) {
	content := `2
Lattice="10 0 0 0 10 0 0 0 10" Properties=species:S:1:pos:R:3:selection:I:1:id:I:1 pbc="T T F" Time=12 Temp=300.5 Label=run1
Si 1 2 3 1 7
O 4 5 6 0 8
`
	fd, err := load(t, content, fileio.Frame{LineNumber: 1})
	require.NoError(t, err)

	assert.Equal(t, 1000.0, fd.Cell.Volume())
	assert.Equal(t, [3]bool{true, true, false}, fd.Cell.PBC())
	assert.Equal(t, 12, fd.Attributes["Time"])
	assert.Equal(t, 300.5, fd.Attributes["Temp"])
	assert.Equal(t, "run1", fd.Attributes["Label"])
	assert.NotContains(t, fd.Attributes, "Comment")
	assert.NotContains(t, fd.Attributes, "Lattice")

	sel := fd.Particles.Property(particles.SelectionProperty)
	require.NotNil(t, sel)
	assert.Equal(t, []float64{1, 0}, sel.Values())
	ids := fd.Particles.Property(particles.IdentifierProperty)
	require.NotNil(t, ids)
	assert.Equal(t, []float64{7, 8}, ids.Values())
	assert.Equal(t, []float64{4, 5, 6}, fd.Particles.Positions().Element(1))
}

func TestLoadRescalesReducedCoordinates(t *testing.T) {
	content := `1
Lattice="4 0 0 0 4 0 0 0 4"
H 0.5 0.25 1
`
	fd, err := load(t, content, fileio.Frame{LineNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1, 4}, fd.Particles.Positions().Element(0))
	assert.Equal(t, [3]bool{true, true, true}, fd.Cell.PBC())
}

func TestLoadReportsShortLines(t *testing.T) {
	_, err := load(t, "2\n\nH 0 0 0\nH 1 1\n", fileio.Frame{LineNumber: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Parsing error in line 4 of XYZ file")

	_, err = load(t, "3\n\nH 0 0 0\n", fileio.Frame{LineNumber: 1})
	assert.EqualError(t, err, "Unexpected end of XYZ file in line 4. Expected 3 particles, found 1.")
}

func TestParseColumns(t *testing.T) {
	cols := parseColumns("species:S:1:pos:R:3:force:R:3:name:S:1")
	require.Len(t, cols, 8)
	assert.Equal(t, particles.TypeProperty, cols[0].property)
	assert.True(t, cols[0].names)
	assert.Equal(t, particles.PositionProperty, cols[3].property)
	assert.Equal(t, 2, cols[3].component)
	assert.Equal(t, "force", cols[4].property)
	assert.True(t, cols[7].skip)
}

func TestFileSourceReadsTrajectory(t *testing.T) {
	ds, err := pipeline.NewDataset(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, ds.Close(context.Background())) })

	_, u := writeFile(t, "traj.xyz", trajectory)
	im, err := fileio.NewImporter(NewFormat(), transport.Local{}, ds.Tasks(), zaptest.NewLogger(t))
	require.NoError(t, err)

	fs := fileio.NewFileSource(ds)
	require.NoError(t, ds.AddPipeline(fs))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = fs.SetSource(ctx, []*url.URL{u}, im, true).Wait(ctx, ds.Executor())
	require.NoError(t, err)
	assert.Equal(t, 2, fs.NumberOfSourceFrames())
	assert.Equal(t, "traj.xyz [XYZ]", fs.Title())

	st, err := fs.Evaluate(ctx, pipeline.Request{Time: 480}).Wait(ctx, ds.Executor())
	require.NoError(t, err)
	parts, err := flowstate.ExpectObject[*particles.Particles](st)
	require.NoError(t, err)
	assert.Equal(t, 2, parts.Count())
	assert.Equal(t, timeline.Interval(480, timeline.TimePositiveInfinity), st.StateValidity())
	assert.Equal(t, "2 particles\nsecond frame", st.Status().Text)

	st, err = fs.Evaluate(ctx, pipeline.Request{Time: 0}).Wait(ctx, ds.Executor())
	require.NoError(t, err)
	parts, err = flowstate.ExpectObject[*particles.Particles](st)
	require.NoError(t, err)
	assert.Equal(t, 3, parts.Count())
	assert.Equal(t, 1, flowstate.CountObjects[*particles.SimulationCell](st))
}
