package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/persona/internal/errs"
	"github.com/MikeSquared-Agency/persona/internal/llm"
	"github.com/MikeSquared-Agency/persona/internal/persona"
	"github.com/MikeSquared-Agency/persona/internal/pipeline"
	"github.com/MikeSquared-Agency/persona/internal/reddit"
	"github.com/MikeSquared-Agency/persona/internal/render"
	"github.com/MikeSquared-Agency/persona/internal/store"
)

const (
	maxItemLimit     = 1000
	defaultListLimit = 50
	maxBodyBytes     = 64 << 10
)

// Runner analyzes one request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, out pipeline.Output) (*pipeline.Result, error)
}

// Reports reads previously generated reports.
type Reports interface {
	Get(ctx context.Context, username string, maxAge time.Duration) (*persona.Report, error)
	List(ctx context.Context, limit int) ([]store.CachedReport, error)
}

type Server struct {
	router   *chi.Mux
	runner   Runner
	reports  Reports
	params   llm.Params
	provider string
	logger   *slog.Logger
	http     *http.Server
}

type Option func(*Server)

// WithReports enables the cached report endpoints.
func WithReports(r Reports) Option { return func(s *Server) { s.reports = r } }

// WithParams sets the model parameters used for every analysis.
func WithParams(provider string, p llm.Params) Option {
	return func(s *Server) {
		s.provider = provider
		s.params = p
	}
}

func NewServer(port int, apiToken string, runner Runner, logger *slog.Logger, opts ...Option) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		runner: runner,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/status", s.status)
		r.Post("/personas", s.createPersona)
		r.Get("/personas", s.listPersonas)
		r.Get("/personas/{username}", s.getPersona)
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called. Writes have no deadline because an
// analysis can take minutes.
func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// BearerAuthMiddleware rejects requests without the token. An empty token
// disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte("Bearer " + token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid bearer token", Kind: "auth"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":    "persona",
		"provider": s.provider,
		"model":    s.params.Model,
		"cache":    s.reports != nil,
	})
}

// PersonaRequest is the body of POST /api/v1/personas. ProfileURL is
// accepted in place of Username. Omitted limits use the server defaults.
type PersonaRequest struct {
	Username     string `json:"username"`
	ProfileURL   string `json:"profile_url"`
	PostLimit    *int   `json:"post_limit"`
	CommentLimit *int   `json:"comment_limit"`
	NoCache      bool   `json:"no_cache"`
}

func (s *Server) createPersona(w http.ResponseWriter, r *http.Request) {
	var body PersonaRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, fmt.Errorf("invalid JSON: %v: %w", err, errs.ErrInvalidRequest))
		return
	}
	user := strings.TrimSpace(body.Username)
	if user == "" {
		user = strings.TrimSpace(body.ProfileURL)
	}
	if user == "" {
		s.writeError(w, fmt.Errorf("username or profile_url is required: %w", errs.ErrInvalidRequest))
		return
	}
	if err := checkLimit("post_limit", body.PostLimit); err != nil {
		s.writeError(w, err)
		return
	}
	if err := checkLimit("comment_limit", body.CommentLimit); err != nil {
		s.writeError(w, err)
		return
	}
	format, err := responseFormat(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	res, err := s.runner.Run(r.Context(), pipeline.Request{
		Username:     user,
		PostLimit:    body.PostLimit,
		CommentLimit: body.CommentLimit,
		Params:       s.params,
		UseCache:     !body.NoCache && s.reports != nil,
	}, pipeline.Output{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("X-Persona-Cached", strconv.FormatBool(res.Cached))
	s.writeReport(w, res.Report, format)
}

func (s *Server) getPersona(w http.ResponseWriter, r *http.Request) {
	username, err := reddit.ParseUsername(chi.URLParam(r, "username"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	format, err := responseFormat(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.reports == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "report cache disabled", Kind: "not_cached"})
		return
	}

	report, err := s.reports.Get(r.Context(), username, 0)
	if errors.Is(err, store.ErrNotCached) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no report for u/" + username, Kind: "not_cached"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("X-Persona-Cached", "true")
	s.writeReport(w, report, format)
}

func (s *Server) listPersonas(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeJSON(w, http.StatusOK, map[string]any{"reports": []store.CachedReport{}, "count": 0})
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, fmt.Errorf("invalid limit %q: %w", v, errs.ErrInvalidRequest))
			return
		}
		limit = n
	}
	list, err := s.reports.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []store.CachedReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": list, "count": len(list)})
}

func (s *Server) writeReport(w http.ResponseWriter, rep *persona.Report, f render.Format) {
	data, err := render.Render(rep, f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType(f))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// responseFormat reads ?format=, defaulting to JSON. Only one format may
// be requested.
func responseFormat(r *http.Request) (render.Format, error) {
	v := r.URL.Query().Get("format")
	if v == "" {
		return render.FormatJSON, nil
	}
	formats, err := render.ParseFormats(v)
	if err != nil {
		return "", err
	}
	if len(formats) != 1 {
		return "", fmt.Errorf("exactly one format per response: %w", errs.ErrInvalidRequest)
	}
	return formats[0], nil
}

func contentType(f render.Format) string {
	switch f {
	case render.FormatJSON:
		return "application/json"
	case render.FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case render.FormatHTML:
		return "text/html; charset=utf-8"
	case render.FormatPNG:
		return "image/png"
	default:
		return "text/plain; charset=utf-8"
	}
}

func checkLimit(name string, n *int) error {
	if n != nil && (*n < 0 || *n > maxItemLimit) {
		return fmt.Errorf("%s must be between 0 and %d: %w", name, maxItemLimit, errs.ErrInvalidRequest)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", errs.Kind(err), "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: errs.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
