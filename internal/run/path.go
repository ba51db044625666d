package run

import (
	"strings"

	"github.com/sovrium/sovrium/pkg/schema"
)

// A step is addressed by a dotted path. Segments alternate between action
// names and path names: "send" for a top-level step, "split.vip.send" for a
// step inside the "vip" path of the "split" paths step, and so on.

// JoinPath builds a dotted step path from its segments.
func JoinPath(segments ...string) string {
	return strings.Join(segments, ".")
}

// splitPath validates and splits a dotted path. A valid path has an odd
// number of non-empty segments.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, stepNotFound(path, "empty step path")
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, stepNotFound(path, "empty segment")
		}
	}
	if len(segs)%2 == 0 {
		return nil, stepNotFound(path, "path must end with an action name")
	}
	return segs, nil
}

// findIndex returns the index of the step named name in steps, or -1.
func findIndex(steps []Step, name string) int {
	for i, s := range steps {
		if s.StepName() == name {
			return i
		}
	}
	return -1
}

// container resolves the step list that holds (or will hold) the step named
// by the last segment. Every intermediate (action, path) pair must exist and
// the action must be a paths step.
func container(steps *[]Step, segs []string, full string) (*[]Step, error) {
	if len(segs) == 1 {
		return steps, nil
	}
	idx := findIndex(*steps, segs[0])
	if idx < 0 {
		return nil, stepNotFound(full, "no step named "+segs[0])
	}
	ps, ok := (*steps)[idx].(*PathsStep)
	if !ok {
		return nil, stepNotFound(full, segs[0]+" is not a paths step")
	}
	p := ps.Path(segs[1])
	if p == nil {
		return nil, stepNotFound(full, segs[0]+" has no path named "+segs[1])
	}
	return container(&p.Actions, segs[2:], full)
}

// lookup is the read-only resolver: it never mutates steps.
func lookup(steps []Step, segs []string) Step {
	idx := findIndex(steps, segs[0])
	if idx < 0 {
		return nil
	}
	if len(segs) == 1 {
		return steps[idx]
	}
	ps, ok := steps[idx].(*PathsStep)
	if !ok {
		return nil
	}
	p := ps.Path(segs[1])
	if p == nil || len(segs) < 3 {
		return nil
	}
	return lookup(p.Actions, segs[2:])
}

func stepNotFound(path, reason string) *schema.SovriumError {
	return schema.NewErrorf(schema.ErrCodeStepNotFound, "step %q not found: %s", path, reason).WithStep(path)
}
