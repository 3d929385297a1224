package cli

import (
	"errors"
	"fmt"

	"github.com/vk/medallion/internal/app"
	"github.com/vk/medallion/internal/coordinator"
	"github.com/vk/medallion/internal/failure"
	"github.com/vk/medallion/internal/model"
	"github.com/vk/medallion/internal/runstore"
)

// ToExitError maps an application error onto an exit code: 2 when the
// request was rejected (bad input, invalid definitions, conflicts, unknown
// names), 1 for everything else. It returns nil for a nil error.
func ToExitError(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	if rejected(err) {
		return &ExitError{Code: 2, Message: err.Error()}
	}
	return &ExitError{Code: 1, Message: err.Error()}
}

func rejected(err error) bool {
	var (
		def      *failure.DefinitionError
		conflict *failure.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &def), errors.As(err, &conflict):
		return true
	case errors.Is(err, app.ErrInvalidArgument),
		errors.Is(err, coordinator.ErrUnknownPipeline),
		errors.Is(err, coordinator.ErrRunFinished),
		errors.Is(err, coordinator.ErrRunExecuting),
		errors.Is(err, coordinator.ErrNotResolvable),
		errors.Is(err, runstore.ErrNotFound):
		return true
	}
	return false
}

// RunOutcome returns an exit error when run ended unsuccessfully. A run
// that is still going, or a nil run, is not an error.
func RunOutcome(run *model.Run) error {
	if run == nil {
		return nil
	}
	switch run.State {
	case model.RunFailed, model.RunCancelled:
		msg := fmt.Sprintf("run %s %s", run.ID, run.State)
		if run.Error != "" {
			msg += ": " + run.Error
		}
		return &ExitError{Code: 1, Message: msg}
	}
	return nil
}
