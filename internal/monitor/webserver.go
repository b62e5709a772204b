package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/servotrace/internal/ingest"
	"github.com/banshee-data/servotrace/internal/monitoring"
	"github.com/banshee-data/servotrace/internal/render"
)

// WebServer serves the debug view of a running session.
type WebServer struct {
	Stats   *FrameStats
	Tail    *Tail
	Chart   *render.EChartsSink
	Ingest  func() ingest.Stats
	Profile string
	Started time.Time
}

type statusResponse struct {
	Profile string         `json:"profile"`
	Uptime  string         `json:"uptime"`
	Ingest  *ingest.Stats  `json:"ingest,omitempty"`
	CAN     *StatsSnapshot `json:"can,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("monitor: failed to encode response: %v", err)
	}
}

// AttachAdminRoutes mounts the session routes under /debug/. They are
// reachable only from localhost or over the tailnet.
func (s *WebServer) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("can-stats", "CAN frame and ingest statistics (JSON)", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{Profile: s.Profile}
		if !s.Started.IsZero() {
			resp.Uptime = time.Since(s.Started).Truncate(time.Second).String()
		}
		if s.Ingest != nil {
			st := s.Ingest()
			resp.Ingest = &st
		}
		if s.Stats != nil {
			resp.CAN = s.Stats.Latest()
		}
		writeJSON(w, resp)
	})

	if s.Chart != nil {
		debug.Handle("chart", "live command/feedback chart", s.Chart)
		debug.HandleSilentFunc("chart.json", func(w http.ResponseWriter, r *http.Request) {
			f, ok := s.Chart.Latest()
			if !ok {
				http.Error(w, "no frame rendered yet", http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, f)
		})
	}

	if s.Tail != nil {
		debug.HandleFunc("can-tail", "live CAN frame tail (SSE)", s.serveTail)
	}
}

func (s *WebServer) serveTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := s.Tail.Subscribe()
	defer s.Tail.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case line, ok := <-c:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
