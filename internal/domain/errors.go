package domain

import "fmt"

// NotFoundError reports a project, version, spider, or job that does not
// exist. Entity is the kind of thing that was missing and Value the
// identifier the caller asked for, verbatim.
type NotFoundError struct {
	Entity string
	Value  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Entity, e.Value)
}

// NotFound builds a NotFoundError for the given entity kind and identifier.
func NotFound(entity, value string) *NotFoundError {
	return &NotFoundError{Entity: entity, Value: value}
}

// DirectoryTraversalError reports an identifier that would escape its base
// directory when used as a path segment. It is raised before any filesystem
// access happens; offending identifiers are rejected, never rewritten.
type DirectoryTraversalError struct {
	Path string
}

func (e *DirectoryTraversalError) Error() string {
	return e.Path
}

// RunnerError reports a runner subprocess that exited with a non-zero
// status. Detail carries the captured stderr verbatim, falling back to
// stdout when stderr was empty.
type RunnerError struct {
	Detail string
}

func (e *RunnerError) Error() string {
	return e.Detail
}

// SpawnError reports a crawl process that could not be started at all.
// Jobs that fail to spawn are recorded as finished with a failure instead
// of being dropped or left pending.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn process: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
