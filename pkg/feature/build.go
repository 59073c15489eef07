// Package feature provides the configuration-driven feature modules: form
// filling, element reordering and element hiding.
package feature

import (
	"fmt"

	"github.com/entrhq/pagewatch/pkg/config"
	"github.com/entrhq/pagewatch/pkg/module"
)

// Build creates the declared modules in order. Modules with match or exclude
// globs are scoped to the locations they accept.
func Build(cfgs []config.ModuleConfig) ([]module.Module, error) {
	modules := make([]module.Module, 0, len(cfgs))

	for _, c := range cfgs {
		var m module.Module
		switch c.Type {
		case config.ModuleFill:
			m = NewFill(c.Name, c.Steps)
		case config.ModuleReorder:
			m = NewReorder(c.Name, c.Selectors, c.Before)
		case config.ModuleHide:
			m = NewHide(c.Name, c.Selectors)
		default:
			return nil, fmt.Errorf("module %q: unknown type %q", c.Name, c.Type)
		}

		if len(c.Match) > 0 || len(c.Exclude) > 0 {
			lm, err := module.NewLocationMatcher(c.Match, c.Exclude)
			if err != nil {
				return nil, fmt.Errorf("module %q: %w", c.Name, err)
			}
			m = module.Scoped(m, lm)
		}

		modules = append(modules, m)
	}

	return modules, nil
}
