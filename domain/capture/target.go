package capture

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// TargetKind distinguishes whole-desktop capture from single-window capture.
type TargetKind int

const (
	TargetDesktop TargetKind = iota
	TargetWindow
)

// Target names what a worker captures.
type Target struct {
	Kind TargetKind
	// Name is the window title, or a glob pattern over titles.
	Name    string
	pattern glob.Glob
}

// Desktop returns the whole-desktop target.
func Desktop() Target { return Target{Kind: TargetDesktop} }

// Window returns a target matching windows titled name. Names holding glob
// metacharacters match as patterns.
func Window(name string) (Target, error) {
	if name == "" {
		return Target{}, fmt.Errorf("%w: empty window title", ErrInvalidTarget)
	}
	t := Target{Kind: TargetWindow, Name: name}
	if strings.ContainsAny(name, "*?[{") {
		g, err := glob.Compile(name)
		if err != nil {
			return Target{}, fmt.Errorf("%w: title pattern %q: %w", ErrInvalidTarget, name, err)
		}
		t.pattern = g
	}
	return t, nil
}

// ParseTarget accepts "desktop", "window:<title>" and "title=<title>".
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || strings.EqualFold(s, "desktop"):
		return Desktop(), nil
	case strings.HasPrefix(s, "window:"):
		return Window(strings.TrimPrefix(s, "window:"))
	case strings.HasPrefix(s, "title="):
		return Window(strings.TrimPrefix(s, "title="))
	}
	return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
}

func (t Target) IsWindow() bool { return t.Kind == TargetWindow }

// IsPattern reports whether the title matches by glob rather than equality.
func (t Target) IsPattern() bool { return t.pattern != nil }

// MatchTitle reports whether a window title selects this target.
func (t Target) MatchTitle(title string) bool {
	if t.Kind != TargetWindow {
		return false
	}
	if t.pattern != nil {
		return t.pattern.Match(title)
	}
	return title == t.Name
}

func (t Target) String() string {
	if t.Kind == TargetWindow {
		return "window:" + t.Name
	}
	return "desktop"
}
