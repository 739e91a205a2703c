// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package api exposes the search engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pdiddy/bookbuddy-search/internal/search"
	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

const (
	searchEndpoint  = "/api/books/search"
	sessionEndpoint = "/api/books/search/{searchId}"
	metricsEndpoint = "/metrics"

	// UserHeader carries the caller identity. Authentication happens in
	// front of this service.
	UserHeader = "X-User-ID"

	defaultRetryAfter      = 5 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Searcher assembles search pages.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (search.Page, error)
}

// SessionLookup reports the state of a search session.
type SessionLookup interface {
	Info(token, owner string) (search.SessionInfo, error)
}

// Config encapsulates the settings for the API service.
type Config struct {
	// The search engine.
	Searcher Searcher

	// The session registry, for session metadata requests.
	Sessions SessionLookup

	// The address to listen on.
	ListenAddr string

	// Source of the metrics served on /metrics. If not specified, the
	// default Prometheus gatherer is used.
	Gatherer prometheus.Gatherer

	// Advertised in Retry-After when the catalog is unavailable.
	// Defaults to 5 seconds.
	RetryAfter time.Duration

	// How long Run waits for in-flight requests after ctx is cancelled.
	// Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.ListenAddr == "" {
		err = multierror.Append(err, fmt.Errorf("listen address has not been specified"))
	}
	if cfg.Searcher == nil {
		err = multierror.Append(err, fmt.Errorf("searcher has not been provided"))
	}
	if cfg.Sessions == nil {
		err = multierror.Append(err, fmt.Errorf("session lookup has not been provided"))
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = defaultRetryAfter
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return err
}

// Service serves the search API.
type Service struct {
	cfg    Config
	router *mux.Router
}

// NewService creates a new API service instance with the specified config.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("api service: config validation failed: %w", err)
	}

	svc := &Service{
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	svc.router.HandleFunc(searchEndpoint, svc.searchBooks).Methods(http.MethodGet)
	svc.router.HandleFunc(sessionEndpoint, svc.sessionInfo).Methods(http.MethodGet)
	svc.router.Handle(metricsEndpoint, promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	svc.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return svc, nil
}

// Name returns the service name, used in logs.
func (svc *Service) Name() string { return "api" }

// Handler returns the service's HTTP handler.
func (svc *Service) Handler() http.Handler { return svc.router }

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (svc *Service) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", svc.cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer func() { _ = l.Close() }()

	srv := &http.Server{
		Addr:              svc.cfg.ListenAddr,
		Handler:           svc.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), svc.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	svc.cfg.Logger.WithField("addr", l.Addr().String()).Info("starting api server")
	if err = srv.Serve(l); errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func (svc *Service) searchBooks(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return
	}

	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	pageSize, err := intParam(q.Get("pageSize"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pageSize")
		return
	}

	req := search.Request{
		UserID:   user,
		Query:    q.Get("q"),
		Scope:    types.ParseFieldScope(q.Get("type")),
		Page:     page,
		PageSize: pageSize,
		SearchID: q.Get("searchId"),
	}
	res, err := svc.cfg.Searcher.Search(r.Context(), req)
	if err != nil {
		svc.writeSearchError(w, err, req)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (svc *Service) sessionInfo(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
		return
	}

	info, err := svc.cfg.Sessions.Info(mux.Vars(r)["searchId"], user)
	if err != nil {
		svc.writeSearchError(w, err, search.Request{UserID: user})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (svc *Service) writeSearchError(w http.ResponseWriter, err error, req search.Request) {
	switch {
	case errors.Is(err, search.ErrInvalidPaginationRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, search.ErrUnknownOrExpiredSession), errors.Is(err, search.ErrSessionOwnershipMismatch):
		writeError(w, http.StatusNotFound, search.ErrUnknownOrExpiredSession.Error())
	case errors.Is(err, search.ErrUpstreamUnavailable):
		svc.cfg.Logger.WithError(err).WithField("query", req.Query).Warn("search failed: catalog unavailable")
		w.Header().Set("Retry-After", strconv.Itoa(int(svc.cfg.RetryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable, search.ErrUpstreamUnavailable.Error())
	default:
		svc.cfg.Logger.WithError(err).WithField("query", req.Query).Error("search failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
