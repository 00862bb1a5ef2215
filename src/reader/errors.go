package reader

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrAlreadyRunning is returned by Start while a previous run has not exited
	ErrAlreadyRunning = errors.New("reader already running")
	// ErrStopTimeout is returned by Stop when the process outlives the kill deadline
	ErrStopTimeout = errors.New("reader did not exit before stop timeout")
)

// SpawnError reports that a reader process could not be launched
type SpawnError struct {
	BatteryID int
	Command   string
	Err       error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn reader %q for battery %d: %v", e.Command, e.BatteryID, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Exit describes a finished reader process
type Exit struct {
	BatteryID int
	Code      int // -1 when the process was killed by a signal
	Err       error
}
