package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/leapstack-labs/pegtmpl/internal/engine"
	"github.com/leapstack-labs/pegtmpl/pkg/action"
	"github.com/leapstack-labs/pegtmpl/pkg/peg"
	"github.com/starfederation/datastar-go/datastar"
)

// maxInputBytes bounds parse request bodies.
const maxInputBytes = 4 << 20

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/grammars", s.handleList)
		r.Post("/reload", s.handleReload)
		r.Get("/events", s.handleEvents)
		r.Route("/grammars/{name}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/parse", s.handleParse)
		})
	})
}

// GrammarInfo describes a served or failed template.
type GrammarInfo struct {
	Name       string   `json:"name,omitempty"`
	Path       string   `json:"path"`
	Hash       string   `json:"hash,omitempty"`
	Actions    int      `json:"actions,omitempty"`
	StartRules []string `json:"start_rules,omitempty"`
	Grammar    string   `json:"grammar,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Error      string   `json:"error,omitempty"`
}

func info(res *engine.Result) GrammarInfo {
	return GrammarInfo{
		Name:       res.Name,
		Path:       res.Path,
		Hash:       res.Hash,
		Actions:    len(res.Assembly.Entries),
		StartRules: res.Parser.StartRules(),
	}
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := make([]GrammarInfo, 0, len(s.grammars)+len(s.failures))
	for _, res := range s.grammars {
		out = append(out, info(res))
	}
	for path, err := range s.failures {
		out = append(out, GrammarInfo{Path: path, Kind: engine.ErrorKind(err), Error: err.Error()})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	res, ok := s.Grammar(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("grammar not found"))
		return
	}
	gi := info(res)
	gi.Grammar = res.Assembly.Grammar
	writeJSON(w, http.StatusOK, gi)
}

// ParseRequest is the body of a parse request.
type ParseRequest struct {
	Input     string         `json:"input"`
	StartRule string         `json:"start_rule,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// ParseResponse is the body of a parse response.
type ParseResponse struct {
	Result any              `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
	Kind   string           `json:"kind,omitempty"`
	Pos    *action.Position `json:"pos,omitempty"`
}

func (s *Server) handleParse(w http.ResponseWriter, r *http.Request) {
	res, ok := s.Grammar(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("grammar not found"))
		return
	}

	var req ParseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInputBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts := req.Options
	if req.StartRule != "" {
		if opts == nil {
			opts = make(map[string]any, 1)
		}
		opts[peg.StartRuleOption] = req.StartRule
	}

	v, err := s.cfg.Engine.Parse(r.Context(), res, req.Input, opts)
	if err != nil {
		resp := ParseResponse{Error: err.Error(), Kind: engine.ErrorKind(err)}
		var perr *peg.ParseError
		if errors.As(err, &perr) {
			resp.Pos = &perr.Pos
		}
		status := http.StatusUnprocessableEntity
		if resp.Kind == engine.KindStartRule {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, ParseResponse{Result: v})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Load(r.Context(), "api"); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.handleList(w, r)
}

// handleEvents streams reload events as datastar signal patches.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch := s.notifier.Subscribe()
	defer s.notifier.Unsubscribe(ch)

	sse := datastar.NewSSE(w, r)
	_ = sse.MarshalAndPatchSignals(map[string]any{"grammars": len(s.Names())})

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.MarshalAndPatchSignals(ev); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ParseResponse{Error: err.Error()})
}
