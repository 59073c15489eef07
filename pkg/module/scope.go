package module

import (
	"context"
	"fmt"

	"github.com/gobwas/glob"
)

// LocationMatcher decides which locations a module runs on.
type LocationMatcher struct {
	match   []glob.Glob
	exclude []glob.Glob
}

// NewLocationMatcher compiles match and exclude globs. With no match globs
// every location not excluded matches.
func NewLocationMatcher(match, exclude []string) (*LocationMatcher, error) {
	lm := &LocationMatcher{}

	for _, pattern := range match {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid match pattern '%s': %w", pattern, err)
		}
		lm.match = append(lm.match, g)
	}

	for _, pattern := range exclude {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern '%s': %w", pattern, err)
		}
		lm.exclude = append(lm.exclude, g)
	}

	return lm, nil
}

// Matches reports whether location is in scope. Exclusions take precedence.
func (lm *LocationMatcher) Matches(location string) bool {
	for _, g := range lm.exclude {
		if g.Match(location) {
			return false
		}
	}

	if len(lm.match) == 0 {
		return true
	}

	for _, g := range lm.match {
		if g.Match(location) {
			return true
		}
	}
	return false
}

// Scoped limits m to locations accepted by lm. Elsewhere it reports
// NotApplicable without calling m.
func Scoped(m Module, lm *LocationMatcher) Module {
	return scoped{inner: m, matcher: lm}
}

type scoped struct {
	inner   Module
	matcher *LocationMatcher
}

func (s scoped) Name() string { return s.inner.Name() }

func (s scoped) Apply(ctx context.Context, rt *Runtime) (Outcome, error) {
	if !s.matcher.Matches(rt.Location) {
		return NotApplicable, nil
	}
	return s.inner.Apply(ctx, rt)
}
