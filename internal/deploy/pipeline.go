package deploy

import (
	"context"
	"fmt"

	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/protocol"
)

// RunFunc executes one command against a session and returns the
// human-readable success message.
type RunFunc func(ctx context.Context, cmd protocol.Command) (string, error)

// BatchError reports the command that stopped a batch.
type BatchError struct {
	Index   int
	Command protocol.CommandType
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("command %d (%s) failed: %v", e.Index+1, e.Command, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// RunCommands executes cmds in order and stops at the first failure. The
// returned slice holds one message per attempted command; on failure the
// last element is the failure message and the error is a *BatchError.
// Commands already applied are not rolled back.
func RunCommands(ctx context.Context, run RunFunc, cmds []protocol.Command) ([]string, error) {
	results := make([]string, 0, len(cmds))
	for i, cmd := range cmds {
		var (
			msg string
			err error
		)
		if verr := cmd.Validate(); verr != nil {
			err = fmt.Errorf("%w: %v", envman.ErrInvalidCommand, verr)
		} else {
			msg, err = run(ctx, cmd)
		}
		if err != nil {
			results = append(results, err.Error())
			return results, &BatchError{Index: i, Command: cmd.Type, Err: err}
		}
		results = append(results, msg)
	}
	return results, nil
}

// NoSession is the outcome of a batch addressed to an unknown session.
func NoSession(id string) ([]string, error) {
	err := fmt.Errorf("%w %s", envman.ErrNoSuchSession, id)
	return []string{"Error: " + err.Error()}, err
}
