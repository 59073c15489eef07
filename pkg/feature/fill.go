package feature

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/entrhq/pagewatch/pkg/config"
	"github.com/entrhq/pagewatch/pkg/env"
	"github.com/entrhq/pagewatch/pkg/module"
	"github.com/entrhq/pagewatch/pkg/resource"
)

// Fill runs an ordered list of form steps. Steps whose element is absent are
// skipped; the module is Applied if any step found its element.
//
// An await step that times out ends the run with NotApplicable: the section
// the remaining steps need never rendered.
type Fill struct {
	name  string
	steps []config.StepConfig
}

// NewFill creates a fill module.
func NewFill(name string, steps []config.StepConfig) *Fill {
	return &Fill{name: name, steps: steps}
}

func (f *Fill) Name() string { return f.name }

func (f *Fill) Apply(ctx context.Context, rt *module.Runtime) (module.Outcome, error) {
	applied := false

	for i, step := range f.steps {
		var (
			ok  bool
			err error
		)

		switch step.Action {
		case config.StepSetValue:
			ok, err = f.setValue(ctx, rt, step)
		case config.StepCheck:
			ok, err = f.check(ctx, rt, step)
		case config.StepSleep:
			err = f.sleep(ctx, rt, step)
		case config.StepAwait:
			err = f.await(ctx, rt, step)
			if errors.Is(err, resource.ErrTimeout) {
				rt.Logger.Infof("%s: %s did not appear within %s, skipping remaining steps", f.name, step.Selector, step.Timeout)
				return module.NotApplicable, nil
			}
		default:
			err = fmt.Errorf("unknown action %q", step.Action)
		}

		if err != nil {
			return module.Failed, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		applied = applied || ok
	}

	if !applied {
		return module.NotApplicable, nil
	}
	return module.Applied, nil
}

func (f *Fill) setValue(ctx context.Context, rt *module.Runtime, step config.StepConfig) (bool, error) {
	el, err := rt.Doc.Find(ctx, step.Selector)
	if env.IsNotFound(err) {
		rt.Logger.Debugf("%s: %s not found", f.name, step.Selector)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	current, err := el.Value(ctx)
	if err != nil {
		return false, err
	}
	if current == step.Value {
		return true, nil
	}

	if err := el.SetValue(ctx, step.Value); err != nil {
		return false, err
	}
	rt.Logger.Infof("%s: %s set to %q", f.name, step.Selector, step.Value)
	return true, f.dispatch(ctx, rt, el, step)
}

func (f *Fill) check(ctx context.Context, rt *module.Runtime, step config.StepConfig) (bool, error) {
	els, err := rt.Doc.FindAll(ctx, step.Selector)
	if err != nil {
		return false, err
	}

	matched, changed := 0, 0
	for _, el := range els {
		if len(step.Values) > 0 {
			v, _, err := el.Attr(ctx, "value")
			if err != nil {
				return false, err
			}
			if !slices.Contains(step.Values, v) {
				continue
			}
		}
		matched++

		on, err := el.Checked(ctx)
		if err != nil {
			return false, err
		}
		if on {
			continue
		}
		if err := el.SetChecked(ctx, true); err != nil {
			return false, err
		}
		changed++
		if err := f.dispatch(ctx, rt, el, step); err != nil {
			return false, err
		}
	}

	if matched == 0 {
		rt.Logger.Debugf("%s: no checkbox matches %s", f.name, step.Selector)
		return false, nil
	}
	rt.Logger.Infof("%s: %s checked (%d of %d changed)", f.name, step.Selector, changed, matched)
	return true, nil
}

func (f *Fill) sleep(ctx context.Context, rt *module.Runtime, step config.StepConfig) error {
	if rt.Tracker == nil {
		return errors.New("no resource tracker for sleep")
	}
	return rt.Tracker.Sleep(ctx, step.Duration, f.name+" sleep")
}

func (f *Fill) await(ctx context.Context, rt *module.Runtime, step config.StepConfig) error {
	if rt.Tracker == nil {
		return errors.New("no resource tracker for await")
	}
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = config.DefaultAwaitTimeout
	}
	// Only an absent element is worth waiting for; any other lookup error
	// ends the wait and is returned.
	var findErr error
	present := func() bool {
		_, err := rt.Doc.Find(ctx, step.Selector)
		if err != nil && !env.IsNotFound(err) {
			findErr = err
			return true
		}
		return err == nil
	}
	if err := rt.Tracker.WaitFor(ctx, present, timeout, f.name+" await "+step.Selector); err != nil {
		return err
	}
	return findErr
}

// dispatch fires the step's event. A failed dispatch is logged, not fatal:
// the value is already set.
func (f *Fill) dispatch(ctx context.Context, rt *module.Runtime, el env.Element, step config.StepConfig) error {
	if step.Dispatch == "" {
		return nil
	}
	if err := el.Dispatch(ctx, step.Dispatch); err != nil {
		rt.Logger.Errorf("%s: failed to dispatch %s on %s: %v", f.name, step.Dispatch, step.Selector, err)
	}
	return nil
}
