// Package xyz reads multi-frame XYZ and extended XYZ particle files.
//
// Every frame starts with a line holding the particle count, followed by a
// comment line and one line per particle. The comment line of an extended
// XYZ file carries key=value pairs describing the cell geometry, the
// periodic boundary conditions and the meaning of the data columns.
package xyz

import (
	"net/url"

	"github.com/wehubfusion/Helios/pkg/fileio"
)

// Format is the XYZ file format plug-in.
type Format struct {
	// AutoRescale converts reduced coordinates to Cartesian ones when the
	// file defines a cell and all coordinates lie in [0,1] or [-0.5,0.5].
	AutoRescale bool
}

// NewFormat returns the format with coordinate rescaling enabled.
func NewFormat() *Format {
	return &Format{AutoRescale: true}
}

func (f *Format) Name() string { return "XYZ" }

// ShouldScanFileForFrames returns true; any XYZ file may hold a trajectory.
func (f *Format) ShouldScanFileForFrames(*url.URL) bool { return true }

func (f *Format) AutoGenerateWildcardPattern() bool { return true }

func (f *Format) NewFrameFinder(u *url.URL, localPath string) fileio.FrameFinder {
	return &frameFinder{url: u, path: localPath}
}

func (f *Format) NewFrameLoader(frame fileio.Frame, localPath string) fileio.FrameLoader {
	return &frameLoader{frame: frame, path: localPath, autoRescale: f.AutoRescale}
}
