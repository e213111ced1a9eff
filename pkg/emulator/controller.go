package emulator

import (
	"fmt"
	"syscall"
	"time"

	"github.com/savehub/savehub/pkg/config"
	"github.com/savehub/savehub/pkg/library"
	"github.com/savehub/savehub/pkg/logger"
	"github.com/savehub/savehub/pkg/state"
)

// Controller owns the lifecycle of the single external emulator
// process. It is the sole owner of the process handle and the sole
// writer of the session record.
//
// Launch, Terminate and HandleExit must all be called from the one
// mutation worker; the controller relies on that serialization instead
// of internal locks. The exit watcher goroutine only fires the onExit
// callback, it never touches state directly.
type Controller struct {
	conf   config.Emulator
	log    *logger.Logger
	store  *state.Store
	runner Runner

	proc Proc
	// launch generation, lets HandleExit drop events
	// from processes already replaced or reaped
	gen int

	onExit func(gen int)
}

func NewController(conf config.Emulator, store *state.Store, runner Runner, log *logger.Logger) *Controller {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Controller{
		conf:   conf,
		log:    log.Extend(log.With().Str("mod", "emu")),
		store:  store,
		runner: runner,
	}
}

// OnExit registers the callback the exit watcher fires when the
// process dies. The callback must route the event back into the
// mutation queue, not mutate state itself.
func (c *Controller) OnExit(fn func(gen int)) { c.onExit = fn }

// Launch spawns the emulator for the given catalog entry and save
// state. The session must be Idle and savePath must belong to the
// entry. The process is considered Running once it survives the
// launch grace period.
func (c *Controller) Launch(entry library.SaveEntry, romPath, savePath, absSavePath string) error {
	if c.proc != nil || c.store.Session().Status != state.Idle {
		return &LaunchError{Reason: NotIdle}
	}
	if !entry.HasSave(savePath) {
		return &LaunchError{Reason: InvalidSave,
			Err: fmt.Errorf("save %v does not belong to %v", savePath, entry.GameID)}
	}
	if romPath == "" {
		return &LaunchError{Reason: ProcessSpawnFailed,
			Err: fmt.Errorf("no ROM mapped for %v", entry.GameID)}
	}

	c.store.SetSession(state.Session{
		Status:       state.Launching,
		ActiveGameID: entry.GameID,
		SavePath:     savePath,
		StartedAt:    time.Now(),
	})

	args := []string{romPath, c.conf.StateFlag + absSavePath}
	proc, err := c.runner.Start(c.conf.BinaryPath, args...)
	if err != nil {
		c.store.SetSession(state.Session{Status: state.Idle})
		return &LaunchError{Reason: ProcessSpawnFailed, Err: err}
	}

	// liveness check: the process has to outlive the grace period
	select {
	case <-proc.Done():
		c.store.SetSession(state.Session{Status: state.Idle})
		return &LaunchError{Reason: ProcessSpawnFailed,
			Err: fmt.Errorf("process exited during startup: %v", proc.Err())}
	case <-time.After(c.conf.LaunchGrace()):
	}

	c.proc = proc
	c.gen++

	sess := c.store.Session()
	sess.Status = state.Running
	c.store.SetSession(sess)
	c.log.Info().Int("pid", proc.Pid()).Str("game", entry.GameID).Msg("emulator running")

	gen := c.gen
	go func() {
		<-proc.Done()
		if c.onExit != nil {
			c.onExit(gen)
		}
	}()

	return nil
}

// Terminate requests a graceful shutdown and falls back to a forced
// kill after the terminate grace period. ForceKillFailed means the
// process ignored the kill too; the session is left in Exiting and the
// exit watcher brings it back to Idle if the process dies later.
func (c *Controller) Terminate() error {
	if c.proc == nil {
		return &TerminateError{Reason: AlreadyIdle}
	}

	sess := c.store.Session()
	sess.Status = state.Exiting
	c.store.SetSession(sess)

	proc := c.proc
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		c.log.Debug().Err(err).Msg("graceful signal failed, forcing kill")
	}

	select {
	case <-proc.Done():
		c.reap("terminated")
		return nil
	case <-time.After(c.conf.TerminateGrace()):
	}

	c.log.Warn().Int("pid", proc.Pid()).Msg("graceful shutdown timed out, killing")
	if err := proc.Kill(); err != nil {
		// kill can race a concurrent exit
		select {
		case <-proc.Done():
			c.reap("terminated")
			return nil
		default:
		}
		return &TerminateError{Reason: ForceKillFailed, Err: err}
	}

	select {
	case <-proc.Done():
		c.reap("terminated")
		return nil
	case <-time.After(c.conf.TerminateGrace()):
		return &TerminateError{Reason: ForceKillFailed,
			Err: fmt.Errorf("pid %v survived a forced kill", proc.Pid())}
	}
}

// HandleExit applies an asynchronous process-exit event. A stale
// generation means the process was already reaped by Terminate or
// replaced by a newer launch. Unexpected exit is a recognized state
// transition, not an error: the session must never report Running for
// a dead process.
func (c *Controller) HandleExit(gen int) bool {
	if c.proc == nil || gen != c.gen {
		return false
	}
	pid := c.proc.Pid()
	c.reap("exited")
	c.log.Info().Int("pid", pid).Msg("emulator exited on its own")
	return true
}

// Session returns the current session record.
func (c *Controller) Session() state.Session { return c.store.Session() }

func (c *Controller) reap(reason string) {
	c.proc = nil
	c.store.SetSession(state.Session{Status: state.Idle})
	c.log.Debug().Str("reason", reason).Msg("session is idle")
}
