package engine

import (
	"fmt"

	"github.com/sovrium/sovrium/pkg/schema"
)

// ActionFailure is an action failure recorded on the step at Path.
type ActionFailure struct {
	Path string
	Err  error
}

func (f *ActionFailure) Error() string {
	return fmt.Sprintf("action %q failed: %s", f.Path, schema.Message(f.Err))
}

func (f *ActionFailure) Unwrap() error { return f.Err }

// PathFailure reports the failed branches of a split-into-paths action once
// all of its paths were attempted. The first failure stands for the group.
type PathFailure struct {
	Path     string
	Failures []error
}

func (f *PathFailure) Error() string {
	return fmt.Sprintf("%s: %d path(s) of %q failed: %v", schema.ErrCodePathFailure, len(f.Failures), f.Path, f.Failures[0])
}

func (f *PathFailure) Unwrap() error { return f.Failures[0] }
