package hdman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/internal/provision"
	"github.com/p-arndt/fabrik/protocol"
)

func (m *Manager) runCommand(ctx context.Context, id string, sess *session, cmd protocol.Command) (string, error) {
	switch cmd.Type {
	case protocol.CommandOpen:
		m.setStatus(id, sess, protocol.StatusRunning)
		return "OK", nil

	case protocol.CommandClose:
		sess.killChildren(m.logger)
		m.setStatus(id, sess, protocol.StatusStopped)
		return "OK", nil

	case protocol.CommandExec:
		c, err := m.command(sess, cmd)
		if err != nil {
			return "", err
		}
		out, err := c.CombinedOutput()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			m.logger.Debug("exec exited non-zero", "session_id", id, "executable", cmd.Executable, "exit_code", exitErr.ExitCode())
		} else if err != nil {
			return "", fmt.Errorf("%w: run %s: %v", envman.ErrEngine, cmd.Executable, err)
		}
		return strings.ToValidUTF8(string(out), ""), nil

	case protocol.CommandStart:
		c, err := m.command(sess, cmd)
		if err != nil {
			return "", err
		}
		childID, err := sess.startChild(c)
		if err != nil {
			return "", err
		}
		m.logger.Info("child started", "session_id", id, "child_id", childID, "executable", cmd.Executable)
		return childID, nil

	case protocol.CommandStop:
		return sess.stopChild(cmd.ChildID)

	case protocol.CommandDownloadFile:
		return m.download(ctx, sess, cmd)

	case protocol.CommandUploadFile:
		return m.upload(ctx, sess, cmd)

	case protocol.CommandAddTags:
		sess.ws.AddTags(cmd.Tags)
		return fmt.Sprintf("tags inserted. Current tags are: %v", sess.ws.Tags()), nil

	case protocol.CommandDelTags:
		sess.ws.RemoveTags(cmd.Tags)
		return fmt.Sprintf("tags removed. Current tags are: %v", sess.ws.Tags()), nil
	}
	return "", fmt.Errorf("%w: unknown command type %q", envman.ErrInvalidCommand, cmd.Type)
}

// command builds a process running in the workspace. Executables given as a
// path are looked up inside the workspace; bare names go through PATH.
func (m *Manager) command(sess *session, cmd protocol.Command) (*exec.Cmd, error) {
	exe := cmd.Executable
	if strings.ContainsRune(exe, '/') {
		resolved, err := provision.SecureJoin(sess.ws.Path(), exe)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", envman.ErrInvalidCommand, err)
		}
		exe = resolved
	}
	c := exec.Command(exe, cmd.Args...)
	c.Dir = sess.ws.Path()
	c.Env = append(os.Environ(), "FABRIK_WORKSPACE="+sess.ws.Path())
	return c, nil
}

func (m *Manager) resolve(sess *session, p string) (string, error) {
	target, err := provision.SecureJoin(sess.ws.Path(), p)
	if err != nil {
		return "", fmt.Errorf("%w: %v", envman.ErrInvalidCommand, err)
	}
	return target, nil
}

func (m *Manager) download(ctx context.Context, sess *session, cmd protocol.Command) (string, error) {
	target, err := m.resolve(sess, cmd.FilePath)
	if err != nil {
		return "", err
	}
	body, _, err := m.transfer.DownloadStream(ctx, cmd.URI)
	if err != nil {
		return "", err
	}
	defer body.Close()

	err = provision.Stream(ctx, body, func(ctx context.Context, r io.Reader) error {
		if cmd.Format == protocol.FormatTar {
			return provision.ExtractTar(r, target)
		}
		return writeFile(target, r)
	})
	if err != nil {
		return "", transferErr("download", cmd.URI, err)
	}
	return "OK", nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (m *Manager) upload(ctx context.Context, sess *session, cmd protocol.Command) (string, error) {
	source, err := m.resolve(sess, cmd.FilePath)
	if err != nil {
		return "", err
	}

	var (
		src  io.ReadCloser
		size int64 = -1
	)
	if cmd.Format == protocol.FormatTar {
		src = provision.TarPath(source)
	} else {
		f, err := os.Open(source)
		if err != nil {
			return "", fmt.Errorf("%w: %v", envman.ErrIO, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return "", fmt.Errorf("%w: %v", envman.ErrIO, err)
		}
		if info.IsDir() {
			f.Close()
			return "", fmt.Errorf("%w: %s is a directory", envman.ErrInvalidCommand, cmd.FilePath)
		}
		src, size = f, info.Size()
	}
	defer src.Close()

	var msg string
	err = provision.Stream(ctx, src, func(ctx context.Context, r io.Reader) error {
		var perr error
		msg, perr = m.transfer.Put(ctx, cmd.URI, r, size)
		return perr
	})
	if err != nil {
		return "", transferErr("upload", cmd.URI, err)
	}
	return msg, nil
}

func transferErr(op, uri string, err error) error {
	if errors.Is(err, envman.ErrTransfer) || errors.Is(err, envman.ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", envman.ErrTransfer, op, uri, err)
}
