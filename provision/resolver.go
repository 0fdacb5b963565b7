// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package provision

import (
	"fmt"
	"slices"
)

// Resolve flattens the inheritance chain of the named strategy.
//
// Steps of a parent strategy are placed before the steps of the child, so a
// strategy inheriting another runs all inherited steps first. All aliases
// across the flattened chain share a single namespace: re-binding an alias
// fails with ErrDuplicateAlias, referencing an alias before it is bound fails
// with ErrUnboundAlias.
func Resolve(name string, strategies []Strategy) (*FlattenedStrategy, error) {
	byName := make(map[string]*Strategy, len(strategies))

	for idx := range strategies {
		byName[strategies[idx].Name] = &strategies[idx]
	}

	target, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}

	// walk the chain child -> parent, then reverse
	var chain []*Strategy

	seen := map[string]struct{}{}

	for s := target; ; {
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("%w: %q inherits itself via %q", ErrCyclicInheritance, name, s.Name)
		}

		seen[s.Name] = struct{}{}
		chain = append(chain, s)

		if s.Inherits == "" {
			break
		}

		parent, ok := byName[s.Inherits]
		if !ok {
			return nil, fmt.Errorf("%w: %q inherits %q", ErrUnknownParent, s.Name, s.Inherits)
		}

		s = parent
	}

	slices.Reverse(chain)

	flattened := &FlattenedStrategy{
		Name: name,
	}

	for _, s := range chain {
		flattened.Steps = append(flattened.Steps, s.Steps...)
	}

	if err := checkAliases(flattened.Steps); err != nil {
		return nil, err
	}

	return flattened, nil
}

func checkAliases(steps []Step) error {
	bound := map[string]struct{}{}

	for _, step := range steps {
		for _, ref := range step.references() {
			if _, ok := bound[ref]; !ok {
				return fmt.Errorf("%w: %q referenced by %s", ErrUnboundAlias, ref, step)
			}
		}

		if alias := step.binds(); alias != "" {
			if _, dup := bound[alias]; dup {
				return fmt.Errorf("%w: %q re-bound by %s", ErrDuplicateAlias, alias, step)
			}

			bound[alias] = struct{}{}
		}
	}

	return nil
}
