// Package protocol defines the messages exchanged between the hub-facing
// transport and the provider's environment backends.
package protocol

import (
	"fmt"
	"sort"
)

// Image identifies the execution image a session is created from.
type Image struct {
	URI  string `json:"uri"`
	Hash string `json:"hash"`
}

type VolumeKind string

const (
	VolumeBindRW VolumeKind = "bind-rw"
)

// VolumeDef is a host directory made visible inside a session.
type VolumeDef struct {
	Kind   VolumeKind `json:"kind"`
	Src    string     `json:"src"`
	Target string     `json:"target"`
}

// BindRW returns a read-write bind volume.
func BindRW(src, target string) VolumeDef {
	return VolumeDef{Kind: VolumeBindRW, Src: src, Target: target}
}

// SourceDir returns the host side of the binding, if the kind has one.
func (v VolumeDef) SourceDir() (string, bool) {
	switch v.Kind {
	case VolumeBindRW:
		return v.Src, v.Src != ""
	default:
		return "", false
	}
}

// TargetDir returns the session side of the binding, if the kind has one.
func (v VolumeDef) TargetDir() (string, bool) {
	switch v.Kind {
	case VolumeBindRW:
		return v.Target, v.Target != ""
	default:
		return "", false
	}
}

type CreateOptions struct {
	Volumes []VolumeDef `json:"volumes,omitempty"`
	Cmd     []string    `json:"cmd,omitempty"`
}

// CreateSession asks the backend registered under EnvType for a new session.
type CreateSession struct {
	EnvType string        `json:"env_type"`
	Image   Image         `json:"image"`
	Options CreateOptions `json:"options"`
}

// SessionUpdate carries an ordered command batch for one session.
type SessionUpdate struct {
	SessionID string    `json:"session_id"`
	Commands  []Command `json:"commands"`
}

type DestroySession struct {
	SessionID string `json:"session_id"`
}

type SessionStatus string

const (
	StatusCreated SessionStatus = "created"
	StatusRunning SessionStatus = "running"
	StatusStopped SessionStatus = "stopped"
	StatusError   SessionStatus = "error"
)

// SessionInfo is a point-in-time snapshot of a session used for listing.
type SessionInfo struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Status    SessionStatus `json:"status"`
	Tags      []string      `json:"tags"`
	Note      string        `json:"note,omitempty"`
	Processes []string      `json:"processes"`
}

type ResourceFormat string

const (
	FormatRaw ResourceFormat = "raw"
	FormatTar ResourceFormat = "tar"
)

type CommandType string

const (
	CommandOpen         CommandType = "open"
	CommandClose        CommandType = "close"
	CommandExec         CommandType = "exec"
	CommandStart        CommandType = "start"
	CommandStop         CommandType = "stop"
	CommandDownloadFile CommandType = "download_file"
	CommandUploadFile   CommandType = "upload_file"
	CommandAddTags      CommandType = "add_tags"
	CommandDelTags      CommandType = "del_tags"
)

// Command is one step of a session update. Type selects which of the
// remaining fields are meaningful.
type Command struct {
	Type CommandType `json:"type"`

	// Exec, Start
	Executable string   `json:"executable,omitempty"`
	Args       []string `json:"args,omitempty"`

	// Stop
	ChildID string `json:"child_id,omitempty"`

	// DownloadFile, UploadFile
	URI      string         `json:"uri,omitempty"`
	FilePath string         `json:"file_path,omitempty"`
	Format   ResourceFormat `json:"format,omitempty"`

	// AddTags, DelTags
	Tags []string `json:"tags,omitempty"`
}

func Open() Command  { return Command{Type: CommandOpen} }
func Close() Command { return Command{Type: CommandClose} }

func Exec(executable string, args ...string) Command {
	return Command{Type: CommandExec, Executable: executable, Args: args}
}

func Start(executable string, args ...string) Command {
	return Command{Type: CommandStart, Executable: executable, Args: args}
}

func Stop(childID string) Command {
	return Command{Type: CommandStop, ChildID: childID}
}

func DownloadFile(uri, filePath string, format ResourceFormat) Command {
	return Command{Type: CommandDownloadFile, URI: uri, FilePath: filePath, Format: format}
}

func UploadFile(uri, filePath string, format ResourceFormat) Command {
	return Command{Type: CommandUploadFile, URI: uri, FilePath: filePath, Format: format}
}

func AddTags(tags ...string) Command { return Command{Type: CommandAddTags, Tags: tags} }
func DelTags(tags ...string) Command { return Command{Type: CommandDelTags, Tags: tags} }

// Validate checks that the fields required by the command type are present.
func (c Command) Validate() error {
	switch c.Type {
	case CommandOpen, CommandClose, CommandAddTags, CommandDelTags:
		return nil
	case CommandExec, CommandStart:
		if c.Executable == "" {
			return fmt.Errorf("%s: executable is required", c.Type)
		}
	case CommandStop:
		if c.ChildID == "" {
			return fmt.Errorf("stop: child_id is required")
		}
	case CommandDownloadFile, CommandUploadFile:
		if c.URI == "" || c.FilePath == "" {
			return fmt.Errorf("%s: uri and file_path are required", c.Type)
		}
		if c.Format != FormatRaw && c.Format != FormatTar {
			return fmt.Errorf("%s: unknown format %q", c.Type, c.Format)
		}
	default:
		return fmt.Errorf("unknown command type %q", c.Type)
	}
	return nil
}

// Argv returns the executable followed by its arguments.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Executable)
	return append(argv, c.Args...)
}

// SortedTags returns a sorted copy of a tag set.
func SortedTags(set map[string]struct{}) []string {
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}
