package fileio

import (
	"context"
	"net/url"

	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/flowstate"
)

// Format is a file format plug-in. The importer never looks inside the
// files; it only drives the finders and loaders a format creates.
type Format interface {
	// Name is the display name of the format, e.g. "XYZ".
	Name() string

	// ShouldScanFileForFrames reports whether a file may hold more than one
	// frame and must be scanned by a FrameFinder.
	ShouldScanFileForFrames(u *url.URL) bool

	// AutoGenerateWildcardPattern reports whether a FileSource should turn a
	// numbered file name into a wildcard pattern to pick up a file sequence.
	AutoGenerateWildcardPattern() bool

	NewFrameFinder(u *url.URL, localPath string) FrameFinder
	NewFrameLoader(frame Frame, localPath string) FrameLoader
}

// FrameFinder scans one file for frames. It runs on a worker and passes each
// frame to add as soon as the frame's start was found.
type FrameFinder interface {
	FindFrames(ctx context.Context, p *concurrency.Progress, add func(Frame)) error
}

// FrameLoader parses one frame. It runs on a worker.
type FrameLoader interface {
	Load(ctx context.Context, p *concurrency.Progress) (FrameData, error)
}

// FrameData is parsed frame content waiting to be handed over to the
// pipeline on the owning goroutine.
type FrameData interface {
	// HandOver stores the parsed data in st, which holds the data of the
	// previously loaded frame. Existing objects of matching shape should be
	// updated through st's copy-on-write accessors rather than replaced.
	HandOver(st *flowstate.PipelineFlowState, isNewFile bool) error

	// Status is the status reported with the loaded frame.
	Status() flowstate.Status
}
