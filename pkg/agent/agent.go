package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/savehub/savehub/pkg/config"
	"github.com/savehub/savehub/pkg/emulator"
	"github.com/savehub/savehub/pkg/history"
	"github.com/savehub/savehub/pkg/library"
	"github.com/savehub/savehub/pkg/logger"
	"github.com/savehub/savehub/pkg/monitoring"
	"github.com/savehub/savehub/pkg/network/httpx"
	"github.com/savehub/savehub/pkg/service"
	"github.com/savehub/savehub/pkg/state"
	"github.com/skratchdot/open-golang/open"
)

// Agent reconciles concurrent actions from the desktop app and the
// browser dashboard against one authoritative source of truth: the
// save-state library on disk plus one running emulator instance.
type Agent struct {
	conf config.AgentConfig
	log  *logger.Logger

	lib   *library.Library
	store *state.Store
	ctrl  *emulator.Controller
	hist  *history.Store

	q     *queue
	bcast *broadcaster

	server   *httpx.Server
	services service.Group

	// id of the open history record, touched only by the worker
	openHist uint

	done chan struct{}
}

// New wires the agent together. A nil runner means real processes.
func New(conf config.AgentConfig, log *logger.Logger, runner emulator.Runner) (*Agent, error) {
	store := state.NewStore()
	a := &Agent{
		conf:  conf,
		log:   log,
		lib:   library.New(conf.Library, log),
		store: store,
		ctrl:  emulator.NewController(conf.Emulator, store, runner, log),
		q:     newQueue(conf.Agent.QueueSize, conf.Agent.QueueTimeout()),
		bcast: newBroadcaster(log),
		done:  make(chan struct{}),
	}

	a.ctrl.OnExit(func(gen int) {
		a.q.post(Action{Kind: actionProcessExited, Origin: "watcher", gen: gen})
	})

	if conf.History.Enabled {
		hist, err := history.Open(conf.History, log)
		if err != nil {
			log.Error().Err(err).Msg("launch history is unavailable")
		} else {
			a.hist = hist
		}
	}

	server, err := httpx.NewServer(
		conf.Agent.Server.GetAddr(),
		func(*httpx.Server) httpx.Handler { return a.Handler() },
		httpx.WithServerConfig(conf.Agent.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("couldn't init the api server: %w", err)
	}
	a.server = server

	a.services.Add(server)
	a.services.AddIf(conf.Agent.Monitoring.IsEnabled(),
		monitoring.New(conf.Agent.Monitoring, "agent", log))

	return a, nil
}

func (a *Agent) Run() {
	// the first catalog is in place before any client can ask for it
	if entries, err := a.lib.Scan(); err != nil {
		a.log.Warn().Err(err).Msg("initial library scan failed, catalog is empty")
	} else {
		a.store.SetCatalog(entries)
	}

	a.lib.Watch(func() {
		a.q.post(Action{Kind: ActionScan, Origin: "watch"})
	})

	go a.worker()
	a.services.Start()

	if a.conf.Agent.OpenBrowser {
		url := a.server.GetProtocol() + "://" + a.server.Addr
		if err := open.Run(url); err != nil {
			a.log.Warn().Err(err).Msgf("couldn't open %v", url)
		}
	}
}

func (a *Agent) Stop(ctx context.Context) error {
	close(a.done)
	a.q.stop()
	a.bcast.stop()
	if a.hist != nil {
		_ = a.hist.Close()
	}
	return a.services.Stop(ctx)
}

// Handler exposes the API routes, also used directly by tests.
func (a *Agent) Handler() http.Handler {
	mux := httpx.NewServeMux("")
	a.routes(mux)
	return mux
}

// worker is the one mutation-processing goroutine. Every
// state-changing action goes through here, one at a time.
func (a *Agent) worker() {
	for {
		select {
		case t := <-a.q.ch:
			if a.q.stale(t) {
				metricActions.WithLabelValues(string(t.action.Kind), "timeout").Inc()
				t.resp <- result{err: ErrQueueTimeout}
				continue
			}
			metricQueueWait.Observe(time.Since(t.enqueuedAt).Seconds())
			t.resp <- a.apply(t.action)
		case <-a.done:
			return
		}
	}
}

func (a *Agent) apply(act Action) result {
	var err error
	switch act.Kind {
	case ActionScan:
		start := time.Now()
		var entries []library.SaveEntry
		if entries, err = a.lib.Scan(); err == nil {
			a.store.SetCatalog(entries)
			metricScanSeconds.Observe(time.Since(start).Seconds())
		}
	case ActionLaunch:
		err = a.launch(act)
	case ActionTerminate:
		err = a.terminate()
	case actionProcessExited:
		a.processExited(act.gen)
	default:
		err = fmt.Errorf("unknown action %q", act.Kind)
	}

	metricActions.WithLabelValues(string(act.Kind), outcomeOf(err)).Inc()
	snap := a.store.Snapshot()
	if err == nil {
		a.bcast.broadcast(snap)
	}
	return result{snap: snap, err: err}
}

func (a *Agent) launch(act Action) error {
	entry, ok := a.store.Lookup(act.GameID)
	if !ok {
		return &emulator.LaunchError{Reason: emulator.InvalidSave,
			Err: fmt.Errorf("unknown game %v", act.GameID)}
	}
	rom, _ := a.lib.RomFor(act.GameID)
	err := a.ctrl.Launch(entry, rom, act.SavePath, a.lib.AbsPath(act.SavePath))
	if err != nil {
		a.log.Info().Err(err).Str("origin", act.Origin).Msg("launch refused")
		return err
	}
	a.log.Info().Str("game", act.GameID).Str("save", act.SavePath).
		Str("origin", act.Origin).Msg("launched")
	if a.hist != nil {
		a.openHist = a.hist.Begin(act.GameID, act.SavePath)
	}
	return nil
}

func (a *Agent) terminate() error {
	if err := a.ctrl.Terminate(); err != nil {
		return err
	}
	if a.hist != nil {
		a.hist.End(a.openHist, "terminated")
		a.openHist = 0
	}
	return nil
}

func (a *Agent) processExited(gen int) {
	if !a.ctrl.HandleExit(gen) {
		return
	}
	if a.hist != nil {
		a.hist.End(a.openHist, "exited")
		a.openHist = 0
	}
}
