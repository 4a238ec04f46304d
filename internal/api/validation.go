package api

import (
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/p-arndt/fabrik/protocol"
)

const maxCommandsPerBatch = 256

var (
	// envNamePattern matches registered environment names: lowercase letters, numbers, hyphens
	envNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	// sessionIDPattern covers container ids and uuids
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

type updateSessionRequest struct {
	Commands []protocol.Command `json:"commands"`
}

func ValidateEnvName(env string) error {
	if env == "" {
		return fmt.Errorf("env is required")
	}
	if len(env) > 64 {
		return fmt.Errorf("env must not exceed 64 characters")
	}
	if !envNamePattern.MatchString(env) {
		return fmt.Errorf("env must contain only lowercase letters, numbers, and hyphens")
	}
	return nil
}

func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("session id must not exceed 128 characters")
	}
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id contains invalid characters")
	}
	return nil
}

// validateCreateSessionRequest validates session creation parameters
func validateCreateSessionRequest(req protocol.CreateSession) error {
	if err := ValidateEnvName(req.EnvType); err != nil {
		return fmt.Errorf("env_type: %w", err)
	}
	for i, v := range req.Options.Volumes {
		src, ok := v.SourceDir()
		if !ok {
			// backends skip kinds they cannot bind
			continue
		}
		if !filepath.IsAbs(src) {
			return fmt.Errorf("volume %d: src must be an absolute path", i)
		}
		if v.Target == "" {
			return fmt.Errorf("volume %d: target is required", i)
		}
	}
	return nil
}

// validateUpdateSessionRequest checks the batch shape only. Individual
// commands are validated by the pipeline so that earlier commands still run.
func validateUpdateSessionRequest(req updateSessionRequest) error {
	if req.Commands == nil {
		return fmt.Errorf("commands is required")
	}
	if len(req.Commands) > maxCommandsPerBatch {
		return fmt.Errorf("commands must not exceed %d entries", maxCommandsPerBatch)
	}
	return nil
}
