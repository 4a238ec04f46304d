package envman

import "errors"

// Sentinel errors
var (
	ErrUnknownEnv       = errors.New("unknown environment")
	ErrNoSuchSession    = errors.New("no such session")
	ErrDuplicateSession = errors.New("duplicate session")
	ErrIO               = errors.New("io error")
	ErrEngine           = errors.New("engine error")
	ErrTransfer         = errors.New("transfer error")
	ErrInvalidCommand   = errors.New("invalid command")
	ErrStopped          = errors.New("backend stopped")
)
