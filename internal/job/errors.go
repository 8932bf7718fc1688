package job

import (
	"errors"
	"fmt"

	"github.com/livinlefevreloca/refresher/internal/shell"
)

// ErrCredentialMissing is returned when the refresh credential is not set
var ErrCredentialMissing = errors.New("refresh credential is not set")

// Step names a unit of work inside a run
type Step string

const (
	StepCheckout  Step = "checkout"
	StepProvision Step = "provision"
	StepInstall   Step = "install"
	StepRefresh   Step = "refresh"
	StepInspect   Step = "inspect"
	StepPublish   Step = "publish"
)

// ErrorClass groups step failures the way maintainers triage them
type ErrorClass string

const (
	ClassProvisioning ErrorClass = "provisioning"
	ClassScript       ErrorClass = "script"
	ClassPublication  ErrorClass = "publication"
)

// StepError wraps the failure of a single step
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Class returns the failure class of the step
func (e *StepError) Class() ErrorClass {
	switch e.Step {
	case StepRefresh:
		return ClassScript
	case StepPublish:
		return ClassPublication
	default:
		return ClassProvisioning
	}
}

// ExitCode returns the exit status of the failed command, or -1 when the
// failure did not come from a command exiting.
func (e *StepError) ExitCode() int {
	var exitErr *shell.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode
	}
	return -1
}

func stepError(step Step, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}
