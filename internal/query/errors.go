package query

import "fmt"

// RemapError is a rewrite-time identifier resolution failure. Path locates
// the offending node within the query tree (for example
// "dataset_query.stages[1].joins[0].source-table"). The importer catches it
// per item and marks only that item failed.
type RemapError struct {
	Path string
	Err  error
}

func (e *RemapError) Error() string {
	return fmt.Sprintf("remap %s: %v", e.Path, e.Err)
}

func (e *RemapError) Unwrap() error {
	return e.Err
}

func remapErr(path string, err error) *RemapError {
	return &RemapError{Path: path, Err: err}
}
