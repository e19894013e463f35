package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"tradeforge/internal/domain"
	"tradeforge/internal/risk"
	"tradeforge/internal/session"
	"tradeforge/internal/strategy"
)

const sessionEventBuffer = 64

type runningSession struct {
	sess *session.Session
	done chan struct{}
}

type sessionRequest struct {
	Symbol         string          `json:"symbol"`
	Kind           strategy.Kind   `json:"strategy"`
	Params         json.RawMessage `json:"params,omitempty"`
	Settings       *risk.Settings  `json:"settings,omitempty"`
	InitialCapital float64         `json:"initialCapital,omitempty"`
	Interval       string          `json:"interval,omitempty"`
	Lookback       string          `json:"lookback,omitempty"`
}

func (req sessionRequest) config(registry *strategy.Registry, defaults risk.Settings) (session.Config, error) {
	kind, err := strategy.ParseKind(string(req.Kind))
	if err != nil {
		return session.Config{}, err
	}
	params, err := strategy.DecodeParams(kind, req.Params)
	if err != nil {
		return session.Config{}, err
	}
	strat, err := registry.New(kind, params)
	if err != nil {
		return session.Config{}, err
	}
	cfg := session.Config{
		Symbol:         req.Symbol,
		Strategy:       strat,
		Settings:       defaults,
		InitialCapital: req.InitialCapital,
	}
	if req.Settings != nil {
		cfg.Settings = *req.Settings
	}
	if cfg.Interval, err = parseDuration("interval", req.Interval); err != nil {
		return session.Config{}, err
	}
	if cfg.Lookback, err = parseDuration("lookback", req.Lookback); err != nil {
		return session.Config{}, err
	}
	return cfg, nil
}

func parseDuration(field, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, domain.NewValidationError(field, "invalid duration %q", v)
	}
	return d, nil
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Provider == nil || s.deps.Registry == nil {
		writeErr(w, errUnavailable("paper trading"))
		return
	}
	var req sessionRequest
	if !decode(w, r, &req) {
		return
	}
	cfg, err := req.config(s.deps.Registry, s.defaults())
	if err != nil {
		writeErr(w, err)
		return
	}
	sess, err := session.New(cfg, s.deps.Provider)
	if err != nil {
		writeErr(w, err)
		return
	}

	rs := &runningSession{sess: sess, done: make(chan struct{})}
	s.mu.Lock()
	s.sessions[sess.ID()] = rs
	s.mu.Unlock()

	s.metrics.ActiveSessions.Inc()
	go func() {
		defer close(rs.done)
		defer s.metrics.ActiveSessions.Dec()
		if err := sess.Run(s.baseCtx); err != nil && s.baseCtx.Err() == nil {
			s.log.Warn("paper session ended", "session", sess.ID(), "error", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(sess.State(r.Context()))
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*runningSession, bool) {
	id := r.PathValue("id")
	s.mu.Lock()
	rs, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
	}
	return rs, ok
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	all := make([]*runningSession, 0, len(s.sessions))
	for _, rs := range s.sessions {
		all = append(all, rs)
	}
	s.mu.Unlock()

	states := make([]session.State, 0, len(all))
	for _, rs := range all {
		states = append(states, rs.sess.State(r.Context()))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ID < states[j].ID })
	writeJSON(w, states)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, rs.sess.State(r.Context()))
}

// handleStopSession stops the session, waits for its loop to exit and
// returns the final state.
func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	rs.sess.Stop()
	select {
	case <-rs.done:
	case <-r.Context().Done():
		writeErr(w, r.Context().Err())
		return
	}
	s.mu.Lock()
	delete(s.sessions, rs.sess.ID())
	s.mu.Unlock()
	writeJSON(w, rs.sess.State(r.Context()))
}

// handleSessionEvents streams session events as server-sent events until
// the session stops or the client goes away.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	rs, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	id, events := rs.sess.Subscribe(sessionEventBuffer)
	defer rs.sess.Unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-rs.done:
			// Drain what the loop published before exiting.
			for {
				select {
				case ev := <-events:
					writeEvent(w, ev)
				default:
					flusher.Flush()
					return
				}
			}
		case ev := <-events:
			writeEvent(w, ev)
			flusher.Flush()
			if ev.Type == session.EventStopped {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, ev session.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}

// stopSessions stops every running session and waits for them to exit.
func (s *Server) stopSessions() {
	s.mu.Lock()
	all := make([]*runningSession, 0, len(s.sessions))
	for id, rs := range s.sessions {
		all = append(all, rs)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, rs := range all {
		rs.sess.Stop()
		<-rs.done
	}
}
