package app

import (
	"fmt"
	"regexp"
	"strings"
)

// Path is a hierarchical identifier for apps and groups, like '/prod/web/api'.
// The root path is "/". Paths are stored normalized: leading slash, no
// trailing slash, no empty segments.
type Path string

const RootPath Path = "/"

var segmentRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

// NormalizePath converts raw client input into a canonical Path,
// dropping empty segments.
func NormalizePath(raw string) Path {
	var segs []string
	for _, seg := range strings.Split(raw, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return RootPath
	}
	return Path("/" + strings.Join(segs, "/"))
}

// Validate checks that every segment of the path is well formed.
func (p Path) Validate() error {
	if p == RootPath {
		return nil
	}
	if !strings.HasPrefix(string(p), "/") || strings.HasSuffix(string(p), "/") {
		return NewValidationError(fmt.Sprintf("path %q must start with '/' and not end with '/'", p))
	}
	for _, seg := range p.Segments() {
		if !segmentRe.MatchString(seg) {
			return NewValidationError(fmt.Sprintf("path %q has invalid segment %q", p, seg))
		}
	}
	return nil
}

// Segments returns the path split on '/', without the leading empty segment.
func (p Path) Segments() []string {
	if p == RootPath {
		return nil
	}
	return strings.Split(strings.TrimPrefix(string(p), "/"), "/")
}

// Base returns the last segment of the path, or "" for the root.
func (p Path) Base() string {
	segs := p.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Parent returns the enclosing path, or the root for top level paths.
func (p Path) Parent() Path {
	segs := p.Segments()
	if len(segs) <= 1 {
		return RootPath
	}
	return Path("/" + strings.Join(segs[:len(segs)-1], "/"))
}

// Join appends a segment to the path.
func (p Path) Join(seg string) Path {
	if p == RootPath {
		return Path("/" + seg)
	}
	return Path(string(p) + "/" + seg)
}

// HasPrefix reports whether p is equal to or nested under parent.
func (p Path) HasPrefix(parent Path) bool {
	if parent == RootPath {
		return true
	}
	return p == parent || strings.HasPrefix(string(p), string(parent)+"/")
}

func (p Path) String() string {
	return string(p)
}
