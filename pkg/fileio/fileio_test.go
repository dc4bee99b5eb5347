package fileio

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/flowstate"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/pipeline"
	"github.com/wehubfusion/Helios/pkg/timeline"
	"github.com/wehubfusion/Helios/pkg/transport"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// textObject holds the text of one frame.
type textObject struct {
	flowstate.ObjectBase
	Text string
}

func (o *textObject) Clone(deep bool) flowstate.DataObject {
	cp := &textObject{Text: o.Text}
	cp.InitClone(&o.ObjectBase)
	return cp
}

// textFormat reads plain text files. A whole file is one frame unless
// scan is set, in which case every line is a frame. A line reading "!"
// makes the scan fail and a frame reading "fail" cannot be loaded.
type textFormat struct {
	scan bool
}

func (f *textFormat) Name() string                          { return "Text" }
func (f *textFormat) ShouldScanFileForFrames(*url.URL) bool { return f.scan }
func (f *textFormat) AutoGenerateWildcardPattern() bool     { return true }
func (f *textFormat) NewFrameFinder(u *url.URL, localPath string) FrameFinder {
	return &textFinder{url: u, path: localPath}
}
func (f *textFormat) NewFrameLoader(frame Frame, localPath string) FrameLoader {
	return &textLoader{frame: frame, path: localPath}
}

type textFinder struct {
	url  *url.URL
	path string
}

func (tf *textFinder) FindFrames(ctx context.Context, p *concurrency.Progress, add func(Frame)) error {
	file, err := os.Open(tf.path)
	if err != nil {
		return err
	}
	defer file.Close()

	var offset int64
	line := 0
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line++
		text := sc.Text()
		if text == "!" {
			return fmt.Errorf("corrupt line %d", line)
		}
		add(Frame{
			SourceFile: tf.url,
			ByteOffset: offset,
			LineNumber: line,
			Label:      fmt.Sprintf("line %d", line),
		})
		offset += int64(len(text)) + 1
	}
	return sc.Err()
}

type textLoader struct {
	frame Frame
	path  string
}

func (tl *textLoader) Load(ctx context.Context, p *concurrency.Progress) (FrameData, error) {
	raw, err := os.ReadFile(tl.path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if tl.frame.LineNumber < 1 || tl.frame.LineNumber > len(lines) {
		return nil, fmt.Errorf("line %d does not exist", tl.frame.LineNumber)
	}
	text := lines[tl.frame.LineNumber-1]
	if text == "fail" {
		return nil, errors.New("unreadable frame")
	}
	return &textData{text: text}, nil
}

type textData struct {
	text string
}

func (d *textData) HandOver(st *flowstate.PipelineFlowState, isNewFile bool) error {
	if obj, ok := flowstate.GetObject[*textObject](*st); ok {
		flowstate.Mutable(st, obj).Text = d.text
		return nil
	}
	st.AddObject(&textObject{Text: d.text})
	return nil
}

func (d *textData) Status() flowstate.Status { return flowstate.Success }

func newTestDataset(t *testing.T) *pipeline.Dataset {
	t.Helper()
	ds, err := pipeline.NewDataset(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ds.Close(context.Background()))
	})
	return ds
}

func newTestImporter(t *testing.T, ds *pipeline.Dataset, scan bool) *Importer {
	t.Helper()
	im, err := NewImporter(&textFormat{scan: scan}, transport.Local{}, ds.Tasks(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return im
}

// writeFiles creates files in a fresh directory and returns the directory.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func mustParse(t *testing.T, location string) *url.URL {
	t.Helper()
	u, err := transport.Parse(location)
	require.NoError(t, err)
	return u
}

func waitFor[T any](t *testing.T, ds *pipeline.Dataset, f future.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.Wait(ctx, ds.Executor())
}

func evaluateAt(t *testing.T, obj pipeline.PipelineObject, at timeline.TimePoint) flowstate.PipelineFlowState {
	t.Helper()
	st, err := waitFor(t, obj.Dataset(), obj.Evaluate(context.Background(), pipeline.Request{Time: at}))
	require.NoError(t, err)
	return st
}

func textOf(t *testing.T, st flowstate.PipelineFlowState) string {
	t.Helper()
	obj, ok := flowstate.GetObject[*textObject](st)
	require.True(t, ok, "state holds no text object")
	return obj.Text
}
