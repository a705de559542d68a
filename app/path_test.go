package app

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		raw  string
		want Path
	}{
		{"", "/"},
		{"/", "/"},
		{"myapp", "/myapp"},
		{"/myapp", "/myapp"},
		{"/myapp/", "/myapp"},
		{"//a//b/", "/a/b"},
		{"a/b/c", "/a/b/c"},
	}
	for _, c := range cases {
		if got := NormalizePath(c.raw); got != c.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestPathValidate(t *testing.T) {
	valid := []string{"/", "/myapp", "/prod/db/leader", "/a-b.c/d2"}
	for _, p := range valid {
		if err := Path(p).Validate(); err != nil {
			t.Errorf("expected %q to be valid, got %v", p, err)
		}
	}
	invalid := []string{"", "myapp", "/My App", "/a//b", "/a/", "/.hidden!", "/-lead", "/trail-"}
	for _, p := range invalid {
		if err := Path(p).Validate(); err == nil {
			t.Errorf("expected %q to be invalid", p)
		}
	}
}

func TestPathRelations(t *testing.T) {
	p := Path("/prod/db/leader")
	if p.Base() != "leader" {
		t.Errorf("unexpected base %q", p.Base())
	}
	if p.Parent() != Path("/prod/db") {
		t.Errorf("unexpected parent %q", p.Parent())
	}
	if RootPath.Parent() != RootPath {
		t.Errorf("root's parent should be root, got %q", RootPath.Parent())
	}
	if !p.HasPrefix("/prod") {
		t.Errorf("%q should have prefix /prod", p)
	}
	if p.HasPrefix("/pro") {
		t.Errorf("prefix match must respect segment boundaries")
	}
	if !p.HasPrefix(RootPath) {
		t.Errorf("every path is under the root")
	}
}

func genSegment() gopter.Gen {
	return gen.RegexMatch("^[a-z0-9]([a-z0-9.-]{0,6}[a-z0-9])?$")
}

func Test_NormalizeIsIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("normalizing a joined path changes nothing", prop.ForAll(
		func(segs []string) bool {
			p := RootPath
			for _, s := range segs {
				p = p.Join(s)
			}
			return NormalizePath(string(p)) == p && p.Validate() == nil
		},
		gen.SliceOfN(3, genSegment()),
	))

	properties.Property("parent of a join undoes the join", prop.ForAll(
		func(seg string) bool {
			p := Path("/base").Join(seg)
			return p.Parent() == Path("/base")
		},
		genSegment(),
	))

	properties.TestingRun(t)
}

func TestSegments(t *testing.T) {
	if got := Path("/a/b").Segments(); strings.Join(got, ",") != "a,b" {
		t.Errorf("unexpected segments %v", got)
	}
	if got := RootPath.Segments(); len(got) != 0 {
		t.Errorf("root should have no segments, got %v", got)
	}
}
