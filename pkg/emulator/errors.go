package emulator

import "fmt"

type LaunchReason string

const (
	NotIdle            LaunchReason = "not_idle"
	InvalidSave        LaunchReason = "invalid_save"
	ProcessSpawnFailed LaunchReason = "process_spawn_failed"
)

// LaunchError explains why a launch was refused or failed.
// It is surfaced to the requesting client and is never fatal.
type LaunchError struct {
	Reason LaunchReason
	Err    error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("launch failed (%s)", e.Reason)
}

func (e *LaunchError) Unwrap() error { return e.Err }

type TerminateReason string

const (
	AlreadyIdle     TerminateReason = "already_idle"
	ForceKillFailed TerminateReason = "force_kill_failed"
)

type TerminateError struct {
	Reason TerminateReason
	Err    error
}

func (e *TerminateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("terminate failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("terminate failed (%s)", e.Reason)
}

func (e *TerminateError) Unwrap() error { return e.Err }
