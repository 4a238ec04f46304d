package dockerman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/internal/provision"
	"github.com/p-arndt/fabrik/protocol"
)

func (m *Manager) runCommand(ctx context.Context, id string, sess *session, cmd protocol.Command) (string, error) {
	switch cmd.Type {
	case protocol.CommandOpen:
		if err := m.engine.StartContainer(ctx, id); err != nil {
			return "", fmt.Errorf("%w: %v", envman.ErrEngine, err)
		}
		m.setStatus(id, sess, protocol.StatusRunning)
		return "OK", nil

	case protocol.CommandClose:
		if err := m.engine.StopContainer(ctx, id, m.stopTimeout); err != nil {
			return "", fmt.Errorf("%w: %v", envman.ErrEngine, err)
		}
		m.setStatus(id, sess, protocol.StatusStopped)
		return "OK", nil

	case protocol.CommandExec:
		return m.exec(ctx, id, cmd.Argv())

	case protocol.CommandStart:
		return "Start mock", nil

	case protocol.CommandStop:
		return "Stop mock", nil

	case protocol.CommandDownloadFile:
		return m.download(ctx, id, sess, cmd)

	case protocol.CommandUploadFile:
		return m.upload(ctx, id, cmd)

	case protocol.CommandAddTags:
		sess.ws.AddTags(cmd.Tags)
		return fmt.Sprintf("tags inserted. Current tags are: %v", sess.ws.Tags()), nil

	case protocol.CommandDelTags:
		sess.ws.RemoveTags(cmd.Tags)
		return fmt.Sprintf("tags removed. Current tags are: %v", sess.ws.Tags()), nil
	}
	return "", fmt.Errorf("%w: unknown command type %q", envman.ErrInvalidCommand, cmd.Type)
}

func (m *Manager) exec(ctx context.Context, id string, argv []string) (string, error) {
	res, err := m.engine.Exec(ctx, id, argv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", envman.ErrEngine, err)
	}
	if res.ExitCode != 0 {
		m.logger.Debug("exec exited non-zero", "session_id", id, "argv", argv, "exit_code", res.ExitCode)
	}
	return strings.ToValidUTF8(string(res.Output), ""), nil
}

// download streams cmd.URI into the container. A raw payload is wrapped into
// a one-entry tar whose entry is named after the target file.
func (m *Manager) download(ctx context.Context, id string, sess *session, cmd protocol.Command) (string, error) {
	body, size, err := m.transfer.DownloadStream(ctx, cmd.URI)
	if err != nil {
		return "", transferErr("download", cmd.URI, err)
	}
	defer body.Close()

	var src io.Reader = body
	dir := cmd.FilePath
	if cmd.Format == protocol.FormatRaw {
		if size < 0 {
			spooled, n, err := spool(body, sess.ws.Path())
			if err != nil {
				return "", err
			}
			defer func() {
				spooled.Close()
				os.Remove(spooled.Name())
			}()
			src, size = spooled, n
		}
		archive := provision.TarSingleFile(path.Base(cmd.FilePath), size, src)
		defer archive.Close()
		src = archive
		dir = path.Dir(cmd.FilePath)
	}

	err = provision.Stream(ctx, src, func(ctx context.Context, r io.Reader) error {
		return m.engine.CopyTo(ctx, id, dir, r)
	})
	if err != nil {
		return "", transferErr("download", cmd.URI, err)
	}
	return "OK", nil
}

// spool copies a payload of unknown length to a temp file in dir and rewinds
// it.
func spool(r io.Reader, dir string) (*os.File, int64, error) {
	f, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return nil, 0, fmt.Errorf("%w: spool download: %v", envman.ErrIO, err)
	}
	n, err := io.Copy(f, r)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, 0, fmt.Errorf("%w: spool download: %v", envman.ErrTransfer, err)
	}
	return f, n, nil
}

// upload streams cmd.FilePath out of the container to cmd.URI. A raw upload
// sends the first file of the archive the engine returns.
func (m *Manager) upload(ctx context.Context, id string, cmd protocol.Command) (string, error) {
	rc, err := m.engine.CopyFrom(ctx, id, cmd.FilePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", envman.ErrEngine, err)
	}
	defer rc.Close()

	var (
		src  io.Reader = rc
		size int64     = -1
	)
	if cmd.Format == protocol.FormatRaw {
		src, size, err = provision.UntarSingleFile(rc)
		if err != nil {
			return "", err
		}
	}

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
