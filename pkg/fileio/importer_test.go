package fileio

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/transport"
	"go.uber.org/zap/zaptest"
)

func TestNewImporterValidatesArguments(t *testing.T) {
	ds := newTestDataset(t)
	logger := zaptest.NewLogger(t)

	_, err := NewImporter(&textFormat{}, transport.Local{}, ds.Tasks(), nil)
	assert.EqualError(t, err, "logger is required")
	_, err = NewImporter(nil, transport.Local{}, ds.Tasks(), logger)
	assert.EqualError(t, err, "format is required")
	_, err = NewImporter(&textFormat{}, nil, ds.Tasks(), logger)
	assert.EqualError(t, err, "transport is required")
	_, err = NewImporter(&textFormat{}, transport.Local{}, nil, logger)
	assert.EqualError(t, err, "task manager is required")
}

func TestFindWildcardMatchesSortsNaturally(t *testing.T) {
	ds := newTestDataset(t)
	dir := writeFiles(t, map[string]string{
		"dump.10.txt": "x",
		"dump.2.txt":  "x",
		"dump.1.txt":  "x",
		"other.3.txt": "x",
		"dump.txt":    "x",
	})
	im := newTestImporter(t, ds, false)

	frames, err := im.FindWildcardMatches(context.Background(), mustParse(t, filepath.Join(dir, "dump.*.txt")))
	require.NoError(t, err)

	var names []string
	for _, f := range frames {
		names = append(names, f.Label)
		assert.Equal(t, 1, f.LineNumber)
		assert.False(t, f.LastModified.IsZero())
	}
	if diff := cmp.Diff([]string{"dump.1.txt", "dump.2.txt", "dump.10.txt"}, names); diff != "" {
		t.Errorf("matches mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverFramesScansEveryMatch(t *testing.T) {
	ds := newTestDataset(t)
	dir := writeFiles(t, map[string]string{
		"a.1.txt": "one\ntwo\n",
		"a.2.txt": "three\n",
	})
	im := newTestImporter(t, ds, true)

	frames, err := waitFor(t, ds, im.DiscoverFrames(context.Background(),
		[]*url.URL{mustParse(t, filepath.Join(dir, "a.*.txt"))}))
	require.NoError(t, err)
	require.Len(t, frames, 3)

	assert.Equal(t, "a.1.txt", frames[0].FileName())
	assert.Equal(t, 1, frames[0].LineNumber)
	assert.Equal(t, 2, frames[1].LineNumber)
	assert.Equal(t, int64(4), frames[1].ByteOffset)
	assert.Equal(t, "a.2.txt", frames[2].FileName())
}

func TestDiscoverFramesKeepsURLOrder(t *testing.T) {
	ds := newTestDataset(t)
	dir := writeFiles(t, map[string]string{
		"first.txt":  "a\nb\n",
		"second.txt": "c\n",
		"third.txt":  "d\ne\nf\n",
	})
	im := newTestImporter(t, ds, true)
	im.SetScanParallelism(2)

	urls := []*url.URL{
		mustParse(t, filepath.Join(dir, "third.txt")),
		mustParse(t, filepath.Join(dir, "first.txt")),
		mustParse(t, filepath.Join(dir, "second.txt")),
	}
	frames, err := waitFor(t, ds, im.DiscoverFrames(context.Background(), urls))
	require.NoError(t, err)

	var got []string
	for _, f := range frames {
		got = append(got, f.FileName())
	}
	want := []string{"third.txt", "third.txt", "third.txt", "first.txt", "first.txt", "second.txt"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame order mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverFramesDropsIncompleteLastFrame(t *testing.T) {
	ds := newTestDataset(t)
	dir := writeFiles(t, map[string]string{
		"broken.txt": "a\nb\nc\n!\n",
	})
	im := newTestImporter(t, ds, true)

	frames, err := waitFor(t, ds, im.DiscoverFrames(context.Background(),
		[]*url.URL{mustParse(t, filepath.Join(dir, "broken.txt"))}))
	require.NoError(t, err)
	assert.Len(t, frames, 2, "the frame before the error may be incomplete")
}

func TestDiscoverFramesFailsWithoutCompleteFrames(t *testing.T) {
	ds := newTestDataset(t)
	dir := writeFiles(t, map[string]string{
		"broken.txt": "a\n!\n",
	})
	im := newTestImporter(t, ds, true)

	_, err := waitFor(t, ds, im.DiscoverFrames(context.Background(),
		[]*url.URL{mustParse(t, filepath.Join(dir, "broken.txt"))}))
	require.Error(t, err)

	var perr *perrors.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, perrors.CodeDiscovery, perr.Code)
	assert.Contains(t, err.Error(), "corrupt line 2")
}

func TestDiscoverFramesWithoutScanning(t *testing.T) {
	ds := newTestDataset(t)
	dir := writeFiles(t, map[string]string{"single.txt": "a\nb\n"})
	im := newTestImporter(t, ds, false)

	frames, err := waitFor(t, ds, im.DiscoverFrames(context.Background(),
		[]*url.URL{mustParse(t, filepath.Join(dir, "single.txt"))}))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "single.txt", frames[0].Label)
	assert.False(t, frames[0].LastModified.IsZero())
}

func TestLoadFrameParsesOnWorker(t *testing.T) {
	ds := newTestDataset(t)
	dir := writeFiles(t, map[string]string{"lines.txt": "a\nb\n"})
	im := newTestImporter(t, ds, true)

	frame := Frame{SourceFile: mustParse(t, filepath.Join(dir, "lines.txt")), LineNumber: 2}
	data, err := waitFor(t, ds, im.LoadFrame(context.Background(), frame))
	require.NoError(t, err)
	assert.Equal(t, "b", data.(*textData).text)
}

func TestLoadFrameReportsMissingFile(t *testing.T) {
	ds := newTestDataset(t)
	im := newTestImporter(t, ds, false)

	frame := Frame{SourceFile: mustParse(t, filepath.Join(t.TempDir(), "gone.txt")), LineNumber: 1}
	_, err := waitFor(t, ds, im.LoadFrame(context.Background(), frame))
	require.Error(t, err)
}
