package api

import (
	"net/http"

	"github.com/rendis/flowforge/internal/debugger"
)

type debugView struct {
	debugger.State
	Breakpoints []debugger.Breakpoint `json:"breakpoints"`
	Logs        []debugger.Entry      `json:"logs"`
}

func debugSnapshot(d *debugger.Debugger, st debugger.State) debugView {
	bps := d.Breakpoints()
	if bps == nil {
		bps = []debugger.Breakpoint{}
	}
	logs := d.Logs()
	if logs == nil {
		logs = []debugger.Entry{}
	}
	return debugView{State: st, Breakpoints: bps, Logs: logs}
}

func (s *Server) handleDebugState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	d := sess.Debugger()
	writeJSON(w, http.StatusOK, debugSnapshot(d, d.Current()))
}

// handleDebugAction drives the debugger: start, step, continue or stop.
func (s *Server) handleDebugAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	d := sess.Debugger()

	var (
		st  debugger.State
		err error
	)
	switch action := r.PathValue("action"); action {
	case "start":
		st, err = d.Start()
	case "step":
		st, err = d.Step()
	case "continue":
		st, err = d.Continue()
	case "stop":
		d.Stop()
		st = d.Current()
	default:
		writeError(w, http.StatusNotFound, "unknown debug action "+action)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, debugSnapshot(d, st))
}

func (s *Server) handleToggleBreakpoint(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	bp, err := sess.Debugger().ToggleBreakpoint(r.PathValue("node"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

func (s *Server) handleRemoveBreakpoint(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	id := r.PathValue("node")
	sess.Debugger().RemoveBreakpoint(id)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "node_id": id})
}
