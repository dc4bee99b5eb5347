package xyz

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/wehubfusion/Helios/pkg/concurrency"
	"github.com/wehubfusion/Helios/pkg/fileio"
)

// lineReader reads text lines and keeps track of line numbers and byte
// offsets.
type lineReader struct {
	r      *bufio.Reader
	offset int64
	line   int
}

func newLineReader(r io.Reader, offset int64, line int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024), offset: offset, line: line}
}

// next returns the next line without its terminator. It reports false at
// the end of the input.
func (lr *lineReader) next() (string, bool, error) {
	s, err := lr.r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", false, err
	}
	if s == "" {
		return "", false, nil
	}
	lr.offset += int64(len(s))
	lr.line++
	return strings.TrimRight(s, "\r\n"), true, nil
}

// parseCount parses the particle count line of a frame.
func parseCount(line string, lineNo int) (int, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("Invalid number of particles in line %d of XYZ file: %s", lineNo, strings.TrimSpace(line))
	}
	n, err := strconv.ParseUint(fields[0], 10, 31)
	if err != nil {
		return 0, fmt.Errorf("Invalid number of particles in line %d of XYZ file: %s", lineNo, strings.TrimSpace(line))
	}
	if len(fields) > 1 {
		return 0, fmt.Errorf("Parsing error in line %d of XYZ file. The first line of a frame section must contain just the number of particles. This is not a valid integer number: %q",
			lineNo, strings.TrimSpace(line))
	}
	return int(n), nil
}

type frameFinder struct {
	url  *url.URL
	path string
}

// FindFrames reports one frame per particle count line and skips over the
// particle lines in between.
func (f *frameFinder) FindFrames(ctx context.Context, p *concurrency.Progress, add func(fileio.Frame)) error {
	file, err := os.Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	p.SetMaximum(info.Size())

	name := path.Base(f.url.Path)
	lr := newLineReader(file, 0, 0)
	for n := 0; ; n++ {
		frame := fileio.Frame{
			SourceFile:   f.url,
			ByteOffset:   lr.offset,
			LineNumber:   lr.line + 1,
			LastModified: info.ModTime(),
		}
		line, ok, err := lr.next()
		if err != nil {
			return err
		}
		if !ok || strings.TrimSpace(line) == "" {
			return nil
		}
		count, err := parseCount(line, lr.line)
		if err != nil {
			return err
		}
		frame.Label = fmt.Sprintf("%s (Frame %d)", name, n)
		add(frame)

		// Comment line plus one line per particle.
		for i := 0; i <= count; i++ {
			if _, ok, err := lr.next(); err != nil {
				return err
			} else if !ok {
				return nil
			}
			if i%4096 == 0 && !p.SetValue(lr.offset) {
				return ctx.Err()
			}
		}
	}
}
