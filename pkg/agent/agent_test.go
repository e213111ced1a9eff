package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/savehub/savehub/pkg/config"
	"github.com/savehub/savehub/pkg/emulator"
	"github.com/savehub/savehub/pkg/logger"
)

type fakeProc struct {
	pid  int
	done chan struct{}
	once sync.Once
}

func (p *fakeProc) exit()                  { p.once.Do(func() { close(p.done) }) }
func (p *fakeProc) Pid() int               { return p.pid }
func (p *fakeProc) Done() <-chan struct{}  { return p.done }
func (p *fakeProc) Err() error             { return nil }
func (p *fakeProc) Signal(os.Signal) error { p.exit(); return nil }
func (p *fakeProc) Kill() error            { p.exit(); return nil }

type fakeRunner struct {
	mu    sync.Mutex
	procs []*fakeProc
}

func (r *fakeRunner) Start(name string, args ...string) (emulator.Proc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &fakeProc{pid: 1000 + len(r.procs), done: make(chan struct{})}
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRunner) last() *fakeProc {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[len(r.procs)-1]
}

// wire shapes for response decoding, the session status travels
// as a string on the wire
type sessionJSON struct {
	Status       string `json:"status"`
	ActiveGameID string `json:"activeGameId"`
	SavePath     string `json:"savePath"`
}

type snapshotJSON struct {
	Session sessionJSON `json:"session"`
	Catalog []struct {
		GameID         string   `json:"gameId"`
		SaveStatePaths []string `json:"saveStatePaths"`
	} `json:"catalog"`
}

func testConf(t *testing.T) config.AgentConfig {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"Persona2_1.ppst", "FF7_1.ppst"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("save"), 0644))
	}
	romMap := filepath.Join(dir, "game_map.json")
	require.NoError(t, os.WriteFile(romMap,
		[]byte(`{"Persona2": "/roms/Persona2.iso", "FF7": "/roms/FF7.iso"}`), 0644))

	return config.AgentConfig{
		Agent: config.Agent{
			Server:         config.Server{Address: "127.0.0.1:0"},
			QueueTimeoutMs: 1000,
			QueueSize:      16,
		},
		Library: config.Library{
			BasePath:   dir,
			Supported:  []string{"ppst", "srm", "sav"},
			RomMapFile: romMap,
		},
		Emulator: config.Emulator{
			BinaryPath:       "/usr/bin/ppsspp",
			StateFlag:        "--state=",
			LaunchGraceMs:    10,
			TerminateGraceMs: 50,
		},
	}
}

// testAgent spins up a fully wired agent with a running worker and a
// populated catalog, served over httptest.
func testAgent(t *testing.T, conf config.AgentConfig, runner emulator.Runner) (*Agent, *httptest.Server) {
	t.Helper()
	a, err := New(conf, logger.Default(), runner)
	require.NoError(t, err)
	go a.worker()
	_, err = a.q.enqueue(Action{Kind: ActionScan, Origin: "test"})
	require.NoError(t, err)

	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = a.Stop(context.Background())
	})
	return a, srv
}

func get(t *testing.T, url string, out any) int {
	t.Helper()
	res, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func post(t *testing.T, url, body string, out any) int {
	t.Helper()
	res, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer func() { _ = res.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestStateReportsCatalog(t *testing.T) {
	_, srv := testAgent(t, testConf(t), &fakeRunner{})

	var snap snapshotJSON
	require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/state", &snap))
	require.Equal(t, "idle", snap.Session.Status)
	require.Len(t, snap.Catalog, 2)
	require.Equal(t, "FF7", snap.Catalog[0].GameID)
	require.Equal(t, "Persona2", snap.Catalog[1].GameID)
}

func TestLaunchTerminateRoundTrip(t *testing.T) {
	runner := &fakeRunner{}
	_, srv := testAgent(t, testConf(t), runner)

	var reply struct {
		Session sessionJSON `json:"session"`
	}
	code := post(t, srv.URL+"/api/launch",
		`{"gameId":"Persona2","savePath":"Persona2_1.ppst"}`, &reply)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "running", reply.Session.Status)
	require.Equal(t, "Persona2", reply.Session.ActiveGameID)

	// a second session is refused while the first one runs
	var fail map[string]string
	code = post(t, srv.URL+"/api/launch",
		`{"gameId":"FF7","savePath":"FF7_1.ppst"}`, &fail)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "not_idle", fail["reason"])

	code = post(t, srv.URL+"/api/terminate", "", &reply)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "idle", reply.Session.Status)

	// and allowed again once the slot is free
	code = post(t, srv.URL+"/api/launch",
		`{"gameId":"FF7","savePath":"FF7_1.ppst"}`, &reply)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "FF7", reply.Session.ActiveGameID)
}

func TestLaunchValidation(t *testing.T) {
	_, srv := testAgent(t, testConf(t), &fakeRunner{})

	var fail map[string]string

	// save path not in the catalog entry
	code := post(t, srv.URL+"/api/launch",
		`{"gameId":"Persona2","savePath":"../../etc/passwd"}`, &fail)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_save", fail["reason"])

	// unknown game
	code = post(t, srv.URL+"/api/launch",
		`{"gameId":"Chrono","savePath":"Chrono_1.ppst"}`, &fail)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "invalid_save", fail["reason"])

	// malformed body
	code = post(t, srv.URL+"/api/launch", `{"gameId": `, &fail)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "bad_request", fail["reason"])

	// missing fields
	code = post(t, srv.URL+"/api/launch", `{"gameId":"Persona2"}`, &fail)
	require.Equal(t, http.StatusBadRequest, code)

	// nothing above may have moved the session off idle
	var snap snapshotJSON
	get(t, srv.URL+"/api/state", &snap)
	require.Equal(t, "idle", snap.Session.Status)
}

func TestTerminateWhileIdle(t *testing.T) {
	_, srv := testAgent(t, testConf(t), &fakeRunner{})

	var fail map[string]string
	code := post(t, srv.URL+"/api/terminate", "", &fail)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, "already_idle", fail["reason"])
}

func TestConcurrentLaunchSingleWinner(t *testing.T) {
	_, srv := testAgent(t, testConf(t), &fakeRunner{})

	const clients = 8
	codes := make(chan int, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := http.Post(srv.URL+"/api/launch", "application/json",
				strings.NewReader(`{"gameId":"Persona2","savePath":"Persona2_1.ppst"}`))
			if err != nil {
				codes <- 0
				return
			}
			_ = res.Body.Close()
			codes <- res.StatusCode
		}()
	}
	wg.Wait()
	close(codes)

	won, lost := 0, 0
	for code := range codes {
		switch code {
		case http.StatusOK:
			won++
		case http.StatusConflict:
			lost++
		default:
			t.Fatalf("unexpected status %v", code)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, clients-1, lost)
}

func TestProcessExitReturnsToIdle(t *testing.T) {
	runner := &fakeRunner{}
	_, srv := testAgent(t, testConf(t), runner)

	code := post(t, srv.URL+"/api/launch",
		`{"gameId":"Persona2","savePath":"Persona2_1.ppst"}`, nil)
	require.Equal(t, http.StatusOK, code)

	// the emulator dies on its own, e.g. the user closed its window
	runner.last().exit()

	deadline := time.Now().Add(2 * time.Second)
	for {
		var snap snapshotJSON
		get(t, srv.URL+"/api/state", &snap)
		if snap.Session.Status == "idle" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session stuck in %q after process exit", snap.Session.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScanPicksUpNewSaves(t *testing.T) {
	conf := testConf(t)
	_, srv := testAgent(t, conf, &fakeRunner{})

	var reply struct {
		Games   int    `json:"games"`
		Warning string `json:"warning"`
	}
	code := post(t, srv.URL+"/api/scan", "", &reply)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 2, reply.Games)
	require.Empty(t, reply.Warning)

	require.NoError(t, os.WriteFile(
		filepath.Join(conf.Library.BasePath, "Chrono_1.ppst"), []byte("save"), 0644))

	post(t, srv.URL+"/api/scan", "", &reply)
	require.Equal(t, 3, reply.Games)

	// rescanning an unchanged tree reports the same catalog
	post(t, srv.URL+"/api/scan", "", &reply)
	require.Equal(t, 3, reply.Games)
}

func TestWatchTriggersRescan(t *testing.T) {
	conf := testConf(t)
	conf.Library.WatchMode = true

	// Run wires the whole pipeline: watcher -> queue -> worker
	a, err := New(conf, logger.Default(), &fakeRunner{})
	require.NoError(t, err)
	a.Run()
	t.Cleanup(func() { _ = a.Stop(context.Background()) })

	require.Len(t, a.store.Snapshot().Catalog, 2)

	require.NoError(t, os.WriteFile(
		filepath.Join(conf.Library.BasePath, "Chrono_1.ppst"), []byte("save"), 0644))

	require.Eventually(t, func() bool {
		return len(a.store.Snapshot().Catalog) == 3
	}, 2*time.Second, 20*time.Millisecond)
}

func TestQueueTimeoutOverHTTP(t *testing.T) {
	conf := testConf(t)
	conf.Agent.QueueSize = 1
	conf.Agent.QueueTimeoutMs = 40

	// no worker: the queue stays jammed
	a, err := New(conf, logger.Default(), &fakeRunner{})
	require.NoError(t, err)
	a.q.ch <- task{action: Action{Kind: ActionScan}}

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	var fail map[string]string
	code := post(t, srv.URL+"/api/terminate", "", &fail)
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "queue_timeout", fail["reason"])
}

func TestRecentWhenHistoryDisabled(t *testing.T) {
	_, srv := testAgent(t, testConf(t), &fakeRunner{})

	var fail map[string]string
	code := get(t, srv.URL+"/api/recent", &fail)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "history_disabled", fail["reason"])
}

func TestRecentRecordsLaunches(t *testing.T) {
	conf := testConf(t)
	conf.History = config.History{
		Enabled: true,
		DbPath:  filepath.Join(t.TempDir(), "history.db"),
		Limit:   10,
	}
	_, srv := testAgent(t, conf, &fakeRunner{})

	post(t, srv.URL+"/api/launch", `{"gameId":"Persona2","savePath":"Persona2_1.ppst"}`, nil)
	post(t, srv.URL+"/api/terminate", "", nil)

	var reply struct {
		Launches []struct {
			GameID    string `json:"gameId"`
			EndReason string `json:"endReason"`
		} `json:"launches"`
	}
	code := get(t, srv.URL+"/api/recent", &reply)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, reply.Launches, 1)
	require.Equal(t, "Persona2", reply.Launches[0].GameID)
	require.Equal(t, "terminated", reply.Launches[0].EndReason)
}

func TestEventsPushSnapshots(t *testing.T) {
	_, srv := testAgent(t, testConf(t), &fakeRunner{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	// give the broadcaster a moment to register the socket
	time.Sleep(50 * time.Millisecond)

	code := post(t, srv.URL+"/api/launch",
		`{"gameId":"Persona2","savePath":"Persona2_1.ppst"}`, nil)
	require.Equal(t, http.StatusOK, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap snapshotJSON
	require.NoError(t, json.Unmarshal(msg, &snap))
	require.Equal(t, "running", snap.Session.Status)
	require.Equal(t, "Persona2", snap.Session.ActiveGameID)
}
