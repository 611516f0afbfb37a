package process

import "fmt"

// LaunchError reports that the OS refused to spawn a service process,
// typically a missing binary or permission problem.
type LaunchError struct {
	Service string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Service, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// UnexpectedExitError reports that a running service process exited
// without a stop having been requested.
type UnexpectedExitError struct {
	Service  string
	ExitCode int
}

func (e *UnexpectedExitError) Error() string {
	return fmt.Sprintf("service %s exited unexpectedly with code %d", e.Service, e.ExitCode)
}
