// Package errs defines the typed error kinds the traffic generator client
// distinguishes between at startup (fatal) and at runtime (logged,
// non-fatal). Callers use errors.As to discriminate.
package errs

import "fmt"

// ConfigError marks an unreadable config, a missing required key, an
// invalid DSCP range, a non-positive load, or an unreadable size CDF.
// Always fatal at startup. A non-positive computed period is reported as
// PacingAnomaly instead.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("config error: %s", e.Msg)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError with an optional wrapped cause.
func NewConfigError(msg string, cause error) *ConfigError {
	return &ConfigError{Msg: msg, Err: cause}
}

// ConnectError marks a failure to open the initial sessions to a server.
// Fatal only if zero sessions were opened to that server; otherwise
// logged and the pool proceeds short-handed.
type ConnectError struct {
	ServerIndex int
	Msg         string
	Err         error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect error (server %d): %s: %v", e.ServerIndex, e.Msg, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// GrowError marks a mid-run failure to add a session on demand. Never
// fatal: the corresponding plan entry is dropped with a log entry.
type GrowError struct {
	ServerIndex int
	Err         error
}

func (e *GrowError) Error() string {
	return fmt.Sprintf("grow error (server %d): %v", e.ServerIndex, e.Err)
}

func (e *GrowError) Unwrap() error { return e.Err }

// IoError marks a socket read/write failure. The session owning it is
// closed; any in-flight flow on it becomes unfinished.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Err)
}

func (e *IoError) Unwrap() error { return e.Err }

// PacingAnomaly marks a negative computed interval or a zero period_us.
// Always fatal.
type PacingAnomaly struct {
	Msg string
}

func (e *PacingAnomaly) Error() string {
	return fmt.Sprintf("pacing anomaly: %s", e.Msg)
}
