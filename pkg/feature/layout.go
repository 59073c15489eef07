package feature

import (
	"context"

	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/module"
)

// Reorder moves elements so they sit, in the given order, immediately before
// an anchor element. It does nothing unless the anchor and every element are
// present.
type Reorder struct {
	name      string
	selectors []string
	before    string
}

// NewReorder creates a reorder module.
func NewReorder(name string, selectors []string, before string) *Reorder {
	return &Reorder{name: name, selectors: selectors, before: before}
}

func (r *Reorder) Name() string { return r.name }

func (r *Reorder) Apply(ctx context.Context, rt *module.Runtime) (module.Outcome, error) {
	anchor, err := rt.Doc.Find(ctx, r.before)
	if env.IsNotFound(err) {
		rt.Logger.Debugf("%s: anchor %s not found", r.name, r.before)
		return module.NotApplicable, nil
	}
	if err != nil {
		return module.Failed, err
	}

	els := make([]env.Element, len(r.selectors))
	for i, sel := range r.selectors {
		el, err := rt.Doc.Find(ctx, sel)
		if env.IsNotFound(err) {
			rt.Logger.Debugf("%s: %s not found", r.name, sel)
			return module.NotApplicable, nil
		}
		if err != nil {
			return module.Failed, err
		}
		els[i] = el
	}

	// Back to front, so an already ordered page is left untouched.
	ref := anchor
	for i := len(els) - 1; i >= 0; i-- {
		if err := els[i].InsertBefore(ctx, ref); err != nil {
			return module.Failed, err
		}
		ref = els[i]
	}

	rt.Logger.Infof("%s: %d elements placed before %s", r.name, len(els), r.before)
	return module.Applied, nil
}

// Hide sets display:none on every element matching its selectors.
type Hide struct {
	name      string
	selectors []string
}

// NewHide creates a hide module.
func NewHide(name string, selectors []string) *Hide {
	return &Hide{name: name, selectors: selectors}
}

func (h *Hide) Name() string { return h.name }

func (h *Hide) Apply(ctx context.Context, rt *module.Runtime) (module.Outcome, error) {
	found := 0
	for _, sel := range h.selectors {
		els, err := rt.Doc.FindAll(ctx, sel)
		if err != nil {
			return module.Failed, err
		}
		for _, el := range els {
			found++
			if err := el.Hide(ctx); err != nil {
				return module.Failed, err
			}
		}
	}

	if found == 0 {
		return module.NotApplicable, nil
	}
	rt.Logger.Debugf("%s: %d elements hidden", h.name, found)
	return module.Applied, nil
}
