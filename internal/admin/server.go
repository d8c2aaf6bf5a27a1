// Diagnostics HTTP server exposing regulator snapshots and requests.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"lodregulator/internal/regulator"
)

// Server serves the embedded status page and the JSON diagnostics API.
type Server struct {
	Reg *regulator.Regulator
	tpl *template.Template
}

//go:embed templates/index.html
var content embed.FS

// NewServer creates a diagnostics server for the given regulator.
func NewServer(reg *regulator.Regulator) *Server {
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	return &Server{Reg: reg, tpl: tpl}
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/proof", s.handleProof)
	mux.HandleFunc("/enable", s.handleEnable)
	mux.HandleFunc("/disable", s.handleDisable)
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/test", s.handleTest)
	mux.HandleFunc("/healthz", s.handleHealthz)
}

// Start runs the server until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.routes(mux)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	return srv.ListenAndServe()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	d := s.Reg.Snapshot()
	data := struct {
		Decision *regulator.Decision
	}{Decision: d}
	s.tpl.Execute(w, data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	d := s.Reg.Snapshot()
	if d == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"error": "no decision published yet"})
		return
	}
	json.NewEncoder(w).Encode(d)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	d := s.Reg.Snapshot()
	if d == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"error": "no decision published yet"})
		return
	}
	json.NewEncoder(w).Encode(d.Proof)
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.Reg.SetEnabled(true)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.Reg.SetEnabled(false)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.Reg.Ping()
	w.WriteHeader(http.StatusAccepted)
}

// handleTest starts a timed test override: ?seconds=30&value=2.5&label=manual
func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	seconds, err := strconv.ParseFloat(r.URL.Query().Get("seconds"), 64)
	if err != nil || seconds <= 0 {
		http.Error(w, "invalid seconds", http.StatusBadRequest)
		return
	}
	value, err := strconv.ParseFloat(r.URL.Query().Get("value"), 64)
	if err != nil {
		http.Error(w, "invalid value", http.StatusBadRequest)
		return
	}
	label := r.URL.Query().Get("label")
	if label == "" {
		label = "manual"
	}
	s.Reg.StartTest(time.Duration(seconds*float64(time.Second)), value, label)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true})
}
