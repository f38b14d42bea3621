package jitweb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/colorfulnotion/jitrt/jit"
	"github.com/colorfulnotion/jitrt/log"
)

// Server exposes one runtime's build activity: /ws streams installed
// functions, /symbols and /stats return JSON snapshots. The hub is
// registered as a sink on the runtime when Run starts.
type Server struct {
	rt  *jit.Runtime
	hub *Hub
	mux *http.ServeMux
}

func NewServer(rt *jit.Runtime) *Server {
	return &Server{rt: rt}
}

// Hub returns the announce fan-out, valid once Run has started it.
func (s *Server) Hub() *Hub {
	return s.hub
}

type symbolEntry struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
	Size int    `json:"size"`
}

type statsEntry struct {
	Class     string `json:"class"`
	Base      string `json:"base"`
	Capacity  int    `json:"capacity"`
	Used      int    `json:"used"`
	Functions int    `json:"functions"`
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	records := s.rt.Registry().Records()
	out := make([]symbolEntry, 0, len(records))
	for _, rec := range records {
		out = append(out, symbolEntry{
			Name: rec.Name,
			Addr: fmt.Sprintf("%#x", rec.Addr),
			Size: rec.Size,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.rt.Stats()
	out := make([]statsEntry, 0, len(stats))
	for _, st := range stats {
		out = append(out, statsEntry{
			Class:     st.Class.String(),
			Base:      fmt.Sprintf("%#x", st.Base),
			Capacity:  st.Capacity,
			Used:      st.Used,
			Functions: st.Spans,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(out)
}

// Handler builds the route table and starts the hub; exposed separately
// from Run so tests can mount it on their own listener.
func (s *Server) Handler(ctx context.Context, wg *sync.WaitGroup) http.Handler {
	s.hub = newHub(ctx, s.rt.Registry().Records)
	s.rt.AddSink(s.hub)

	wg.Add(1)
	go s.hub.run(wg)

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.hub, w, r, wg)
	})
	s.mux.HandleFunc("/symbols", s.handleSymbols)
	s.mux.HandleFunc("/stats", s.handleStats)
	return s.mux
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	wg := &sync.WaitGroup{}
	handler := s.Handler(ctx, wg)

	server := &http.Server{Addr: addr, Handler: handler}

	errc := make(chan error, 1)
	go func() {
		log.Info(debugWeb, "symbol feed server started", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		s.hub.cancel()
		return fmt.Errorf("symbol feed server: %w", err)
	case <-ctx.Done():
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(ctxShutdown)
	s.hub.cancel()
	wg.Wait()
	log.Info(debugWeb, "symbol feed server stopped")
	return nil
}
