package agent

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/savehub/savehub/pkg/emulator"
	"github.com/savehub/savehub/pkg/library"
	"github.com/savehub/savehub/pkg/network/httpx"
)

func (a *Agent) routes(mux *httpx.Mux) {
	mux.HandleFunc("/api/state", a.handleState)
	mux.HandleFunc("/api/scan", a.handleScan)
	mux.HandleFunc("/api/launch", a.handleLaunch)
	mux.HandleFunc("/api/terminate", a.handleTerminate)
	mux.HandleFunc("/api/recent", a.handleRecent)
	mux.HandleFunc("/api/events", a.bcast.handle)
}

// handleState never touches the mutation queue,
// reads only pay for a snapshot copy.
func (a *Agent) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	writeJSON(w, http.StatusOK, a.store.Snapshot())
}

func (a *Agent) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	snap, err := a.q.enqueue(Action{Kind: ActionScan, Origin: clientOrigin(r)})

	var scanErr *library.ScanError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"games": len(snap.Catalog)})
	case errors.As(err, &scanErr):
		// the catalog is left at its last known good state
		writeJSON(w, http.StatusOK, map[string]any{
			"games":   len(snap.Catalog),
			"warning": scanErr.Error(),
		})
	default:
		writeActionError(w, err)
	}
}

type launchRequest struct {
	GameID   string `json:"gameId"`
	SavePath string `json:"savePath"`
}

func (a *Agent) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	if req.GameID == "" || req.SavePath == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "gameId and savePath are required")
		return
	}

	snap, err := a.q.enqueue(Action{
		Kind:     ActionLaunch,
		GameID:   req.GameID,
		SavePath: req.SavePath,
		Origin:   clientOrigin(r),
	})
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": snap.Session})
}

func (a *Agent) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}
	snap, err := a.q.enqueue(Action{Kind: ActionTerminate, Origin: clientOrigin(r)})
	if err != nil {
		writeActionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": snap.Session})
}

func (a *Agent) handleRecent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use GET")
		return
	}
	if a.hist == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "launch history is disabled")
		return
	}
	recs, err := a.hist.Recent()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"launches": recs})
}

// writeActionError maps the error taxonomy onto HTTP statuses.
// Nothing here is ever fatal to the server.
func writeActionError(w http.ResponseWriter, err error) {
	var le *emulator.LaunchError
	if errors.As(err, &le) {
		code := http.StatusInternalServerError
		switch le.Reason {
		case emulator.NotIdle:
			code = http.StatusConflict
		case emulator.InvalidSave:
			code = http.StatusBadRequest
		}
		writeError(w, code, string(le.Reason), le.Error())
		return
	}
	var te *emulator.TerminateError
	if errors.As(err, &te) {
		code := http.StatusInternalServerError
		if te.Reason == emulator.AlreadyIdle {
			code = http.StatusConflict
		}
		writeError(w, code, string(te.Reason), te.Error())
		return
	}
	if errors.Is(err, ErrQueueTimeout) {
		writeError(w, http.StatusServiceUnavailable, "queue_timeout", "action queue is busy, retry")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, reason, msg string) {
	writeJSON(w, code, map[string]string{"reason": reason, "error": msg})
}

// clientOrigin identifies the requesting interface for logs.
// The desktop app and the dashboard set their own header value.
func clientOrigin(r *http.Request) string {
	if origin := r.Header.Get("X-Savehub-Client"); origin != "" {
		return origin
	}
	return r.RemoteAddr
}
