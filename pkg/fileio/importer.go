package fileio

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/wehubfusion/Helios/pkg/concurrency"
	perrors "github.com/wehubfusion/Helios/pkg/errors"
	"github.com/wehubfusion/Helios/pkg/future"
	"github.com/wehubfusion/Helios/pkg/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultScanParallelism bounds the number of files scanned at once.
const DefaultScanParallelism = 4

// Importer discovers and loads the frames of one file format.
type Importer struct {
	format      Format
	transport   transport.Transport
	tasks       *concurrency.TaskManager
	logger      *zap.Logger
	parallelism int
}

// NewImporter creates an importer that reads files through tr and runs
// scans and loads on tasks.
func NewImporter(format Format, tr transport.Transport, tasks *concurrency.TaskManager, logger *zap.Logger) (*Importer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if format == nil {
		return nil, fmt.Errorf("format is required")
	}
	if tr == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if tasks == nil {
		return nil, fmt.Errorf("task manager is required")
	}
	return &Importer{
		format:      format,
		transport:   tr,
		tasks:       tasks,
		logger:      logger,
		parallelism: DefaultScanParallelism,
	}, nil
}

// Format returns the file format of the importer.
func (im *Importer) Format() Format { return im.format }

// Transport returns the transport files are read through.
func (im *Importer) Transport() transport.Transport { return im.transport }

// SetScanParallelism changes how many files are scanned concurrently.
func (im *Importer) SetScanParallelism(n int) {
	if n < 1 {
		n = 1
	}
	im.parallelism = n
}

// DiscoverFrames scans urls for frames on a worker. The frames of each URL
// keep the order of urls.
func (im *Importer) DiscoverFrames(ctx context.Context, urls []*url.URL) future.Future[[]Frame] {
	if len(urls) == 0 {
		return future.Ready[[]Frame](nil)
	}
	return concurrency.Run(im.tasks, ctx, "Scanning "+im.format.Name()+" input",
		func(ctx context.Context, p *concurrency.Progress) ([]Frame, error) {
			ctx, span := otel.Tracer("helios/fileio").Start(ctx, "fileio.discover_frames")
			defer span.End()
			span.SetAttributes(attribute.Int("urls", len(urls)))

			frames, err := im.discover(ctx, p, urls)
			if err != nil {
				if perrors.IsCanceled(err) {
					return nil, err
				}
				return nil, perrors.NewError(perrors.CodeDiscovery, "frame discovery failed", err)
			}
			span.SetAttributes(attribute.Int("frames", len(frames)))
			im.logger.Debug("Discovered frames",
				zap.String("format", im.format.Name()),
				zap.Int("urls", len(urls)),
				zap.Int("frames", len(frames)))
			return frames, nil
		})
}

func (im *Importer) discover(ctx context.Context, p *concurrency.Progress, urls []*url.URL) ([]Frame, error) {
	if len(urls) == 1 {
		return im.discoverURL(ctx, p, urls[0])
	}

	results := make([][]Frame, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.parallelism)
	for i, u := range urls {
		g.Go(func() error {
			frames, err := im.discoverURL(gctx, p, u)
			results[i] = frames
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Frame
	for _, frames := range results {
		all = append(all, frames...)
	}
	return all, nil
}

func (im *Importer) discoverURL(ctx context.Context, p *concurrency.Progress, u *url.URL) ([]Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if IsWildcardPattern(u) {
		matches, err := im.FindWildcardMatches(ctx, u)
		if err != nil {
			return nil, err
		}
		if !im.format.ShouldScanFileForFrames(u) {
			return matches, nil
		}
		urls := make([]*url.URL, len(matches))
		for i, m := range matches {
			urls[i] = m.SourceFile
		}
		if len(urls) == 0 {
			return nil, nil
		}
		return im.discover(ctx, p, urls)
	}

	if !im.format.ShouldScanFileForFrames(u) {
		return []Frame{im.singleFrame(u)}, nil
	}

	localPath, err := im.transport.FetchFile(ctx, u)
	if err != nil {
		return nil, err
	}
	p.SetText("Scanning file " + transport.Display(u))
	return scanFile(ctx, p, im.format.NewFrameFinder(u, localPath))
}

// singleFrame describes a file that holds exactly one frame.
func (im *Importer) singleFrame(u *url.URL) Frame {
	f := Frame{SourceFile: u, LineNumber: 1}
	f.Label = f.FileName()
	if transport.IsLocal(u) {
		if info, err := os.Stat(transport.LocalPath(u)); err == nil {
			f.LastModified = info.ModTime()
		}
	}
	return f
}

// FindWildcardMatches lists the directory of the pattern u and returns one
// frame per matching file in natural order.
func (im *Importer) FindWildcardMatches(ctx context.Context, u *url.URL) ([]Frame, error) {
	if !IsWildcardPattern(u) {
		return []Frame{im.singleFrame(u)}, nil
	}

	pattern := transport.Base(u)
	dir := transport.Dir(u)
	entries, err := im.transport.ListDirectory(ctx, dir)
	if err != nil {
		return nil, err
	}

	modTimes := make(map[string]time.Time, len(entries))
	var names []string
	for _, e := range entries {
		if MatchesWildcardPattern(pattern, e.Name) {
			names = append(names, e.Name)
			modTimes[e.Name] = e.LastModified
		}
	}

	sorted := SortNatural(names)
	frames := make([]Frame, len(sorted))
	for i, name := range sorted {
		frames[i] = Frame{
			SourceFile:   transport.Join(dir, name),
			LineNumber:   1,
			LastModified: modTimes[name],
			Label:        name,
		}
	}
	return frames, nil
}

// scanFile runs a frame finder. A scan error after two or more frames drops
// the last frame, which may be incomplete, and keeps the rest.
func scanFile(ctx context.Context, p *concurrency.Progress, finder FrameFinder) ([]Frame, error) {
	var frames []Frame
	err := finder.FindFrames(ctx, p, func(f Frame) {
		frames = append(frames, f)
	})
	if err == nil {
		return frames, nil
	}
	if perrors.IsCanceled(err) || ctx.Err() != nil || len(frames) <= 1 {
		return nil, err
	}
	return frames[:len(frames)-1], nil
}

// LoadFrame fetches the file of frame and parses it on a worker.
func (im *Importer) LoadFrame(ctx context.Context, frame Frame) future.Future[FrameData] {
	return concurrency.Run(im.tasks, ctx, "Loading "+frame.FileName(),
		func(ctx context.Context, p *concurrency.Progress) (FrameData, error) {
			ctx, span := otel.Tracer("helios/fileio").Start(ctx, "fileio.load_frame")
			defer span.End()
			span.SetAttributes(
				attribute.String("file", urlString(frame.SourceFile)),
				attribute.Int64("offset", frame.ByteOffset))

			localPath, err := im.transport.FetchFile(ctx, frame.SourceFile)
			if err != nil {
				return nil, err
			}
			p.SetText("Loading file " + transport.Display(frame.SourceFile))
			return im.format.NewFrameLoader(frame, localPath).Load(ctx, p)
		})
}

// RemoveFromCache drops cached downloads of u if the transport keeps any.
func (im *Importer) RemoveFromCache(u *url.URL) {
	if c, ok := im.transport.(interface{ RemoveFromCache(*url.URL) bool }); ok {
		c.RemoveFromCache(u)
	}
}
