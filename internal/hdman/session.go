package hdman

import (
	"fmt"
	"log/slog"
	"os/exec"
	"sort"

	"github.com/google/uuid"

	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/internal/workspace"
	"github.com/p-arndt/fabrik/protocol"
)

type session struct {
	ws       *workspace.Workspace
	status   protocol.SessionStatus
	children map[string]*child
}

// child is a background process started with a Start command.
type child struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func newSession(ws *workspace.Workspace) *session {
	return &session{ws: ws, status: protocol.StatusCreated, children: make(map[string]*child)}
}

func (s *session) Info(id string) protocol.SessionInfo {
	return protocol.SessionInfo{
		ID:        id,
		Name:      s.ws.Name(),
		Status:    s.status,
		Tags:      s.ws.Tags(),
		Processes: s.liveChildren(),
	}
}

func (s *session) liveChildren() []string {
	ids := make([]string, 0, len(s.children))
	for id, c := range s.children {
		select {
		case <-c.done:
		default:
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (s *session) startChild(cmd *exec.Cmd) (string, error) {
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: start %s: %v", envman.ErrEngine, cmd.Path, err)
	}
	c := &child{cmd: cmd, done: make(chan struct{})}
	go func() {
		c.err = cmd.Wait()
		close(c.done)
	}()
	id := uuid.New().String()
	s.children[id] = c
	return id, nil
}

// stopChild kills the child if it is still running and forgets it. A child
// that already exited is reported with its exit status.
func (s *session) stopChild(id string) (string, error) {
	c, ok := s.children[id]
	if !ok {
		return "", fmt.Errorf("%w: no such child %s", envman.ErrInvalidCommand, id)
	}
	msg := fmt.Sprintf("child %s stopped", id)
	select {
	case <-c.done:
		msg = fmt.Sprintf("child %s had already exited: %s", id, exitStatus(c.err))
	default:
		if err := c.cmd.Process.Kill(); err != nil {
			return "", fmt.Errorf("%w: kill %s: %v", envman.ErrEngine, id, err)
		}
		<-c.done
	}
	delete(s.children, id)
	return msg, nil
}

func exitStatus(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}

func (s *session) killChildren(logger *slog.Logger) {
	for id, c := range s.children {
		select {
		case <-c.done:
			logger.Debug("child exited", "child_id", id, "status", exitStatus(c.err))
		default:
		}
		if _, err := s.stopChild(id); err != nil {
			logger.Warn("stop child", "child_id", id, "error", err)
		}
	}
}
