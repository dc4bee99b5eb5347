// Package fileio turns files into pipeline input. An Importer discovers the
// frames of a trajectory, either one file per frame matched by a wildcard
// pattern or several frames inside one file. A FileSource heads a pipeline:
// it loads the frame for the requested animation time on a worker and folds
// the parsed data into its output state on the owning goroutine.
package fileio

import (
	"net/url"
	"path"
	"slices"
	"strings"
	"time"
	"unicode"
)

// Frame locates one animation frame inside a source file.
type Frame struct {
	SourceFile   *url.URL
	ByteOffset   int64
	LineNumber   int
	LastModified time.Time
	Label        string

	// ParserData is private to the format that produced the frame.
	ParserData any
}

// Equal reports whether two frames refer to the same data. Labels and
// parser data are ignored.
func (f Frame) Equal(o Frame) bool {
	return urlString(f.SourceFile) == urlString(o.SourceFile) &&
		f.ByteOffset == o.ByteOffset &&
		f.LineNumber == o.LineNumber &&
		f.LastModified.Equal(o.LastModified)
}

// FileName returns the base name of the source file.
func (f Frame) FileName() string {
	if f.SourceFile == nil {
		return ""
	}
	return path.Base(f.SourceFile.Path)
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// IsWildcardPattern reports whether the file name of u contains a '*'.
func IsWildcardPattern(u *url.URL) bool {
	return strings.Contains(path.Base(u.Path), "*")
}

// MatchesWildcardPattern reports whether filename matches pattern. A '*'
// stands for a run of one or more decimal digits.
func MatchesWildcardPattern(pattern, filename string) bool {
	p, f := []rune(pattern), []rune(filename)
	i, j := 0, 0
	for i < len(p) && j < len(f) {
		if p[i] == '*' {
			if !unicode.IsDigit(f[j]) {
				return false
			}
			for j < len(f) && unicode.IsDigit(f[j]) {
				j++
			}
			i++
			continue
		}
		if p[i] != f[j] {
			return false
		}
		i++
		j++
	}
	return i == len(p) && j == len(f)
}

// NaturalSortKey left-pads every digit run of name to ten digits so that
// "frame9" sorts before "frame10".
func NaturalSortKey(name string) string {
	var b, number strings.Builder
	flush := func() {
		if number.Len() == 0 {
			return
		}
		if pad := 10 - number.Len(); pad > 0 {
			b.WriteString(strings.Repeat("0", pad))
		}
		b.WriteString(number.String())
		number.Reset()
	}
	for _, r := range name {
		if unicode.IsDigit(r) {
			number.WriteRune(r)
			continue
		}
		flush()
		b.WriteRune(r)
	}
	flush()
	return b.String()
}

// SortNatural sorts names by NaturalSortKey. Names with equal keys keep
// only their first occurrence.
func SortNatural(names []string) []string {
	keyed := make(map[string]string, len(names))
	for _, n := range names {
		k := NaturalSortKey(n)
		if _, ok := keyed[k]; !ok {
			keyed[k] = n
		}
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = keyed[k]
	}
	return out
}

// AutoWildcard replaces the last digit run of filename by '*'. It returns
// false if the name has no digits or already is a pattern.
func AutoWildcard(filename string) (string, bool) {
	if strings.Contains(filename, "*") {
		return filename, false
	}
	r := []rune(filename)
	end := len(r) - 1
	for end >= 0 && !unicode.IsDigit(r[end]) {
		end--
	}
	if end < 0 {
		return filename, false
	}
	start := end
	for start > 0 && unicode.IsDigit(r[start-1]) {
		start--
	}
	return string(r[:start]) + "*" + string(r[end+1:]), true
}
