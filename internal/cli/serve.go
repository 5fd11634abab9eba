package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/listing"
	"github.com/matzehuels/vpmlisting/pkg/publish"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
)

const (
	defaultListenAddr      = ":8080"
	defaultRefreshInterval = time.Hour
	shutdownTimeout        = 10 * time.Second
)

// serveCommand creates the serve command, which keeps a listing fresh and
// serves it over HTTP.
func (c *CLI) serveCommand() *cobra.Command {
	opts := defaultGenerateOpts()
	var (
		listen   string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a periodically regenerated listing over HTTP",
		Long: `Serve generates the listing on start and again every --interval, and serves
the latest successful result:

  GET /index.json        the listing
  GET /packages/{id}     one package, newest version first
  GET /healthz           generation status

A failed regeneration keeps the previous listing online. When --output or
--redis-addr is set, the listing stored there is served until the first
regeneration finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := loadSource(opts.source, !opts.noCheck)
			if err != nil {
				return err
			}
			pubs, err := opts.publishers(ctx, io.Discard)
			if err != nil {
				return err
			}
			defer pubs.Close()

			logger := loggerFromContext(ctx)
			fetcher := opts.newFetcher(logger)
			lopts := opts.listingOptions(logger, fetcher)
			s := newServer(logger, func(ctx context.Context) (*vpm.Listing, error) {
				if opts.timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, opts.timeout)
					defer cancel()
				}
				l, err := listing.Generate(ctx, src, lopts)
				if err != nil {
					return nil, err
				}
				if opts.output != "" || opts.redis.Addr != "" {
					if err := pubs.Publish(ctx, l); err != nil {
						return nil, err
					}
				}
				return l, nil
			}, fetcher.BreakerState)
			if ld, ok := pubs.(publish.Loader); ok {
				s.seed(ctx, ld)
			}
			return s.serve(ctx, listen, interval)
		},
	}
	addGenerateFlags(cmd, &opts)
	cmd.Flags().StringVar(&listen, "listen", defaultListenAddr, "address to listen on")
	cmd.Flags().DurationVar(&interval, "interval", defaultRefreshInterval, "time between regenerations")
	return cmd
}

// generateFunc produces a fresh listing.
type generateFunc func(ctx context.Context) (*vpm.Listing, error)

// server holds the latest listing and serves it.
type server struct {
	logger   *log.Logger
	generate generateFunc
	breakers func() map[string]string

	mu        sync.RWMutex
	listing   *vpm.Listing
	updatedAt time.Time
	lastErr   error
	stale     bool // listing was loaded, not generated by this process
}

// newServer creates a server. breakers may be nil.
func newServer(logger *log.Logger, generate generateFunc, breakers func() map[string]string) *server {
	return &server{logger: logger, generate: generate, breakers: breakers}
}

// seed serves the listing last stored by ld until the first regeneration
// succeeds. A missing or unreadable listing leaves the server empty.
func (s *server) seed(ctx context.Context, ld publish.Loader) {
	l, err := ld.Load(ctx)
	if err != nil {
		s.logger.Warn("cannot load published listing", "err", err, "code", errors.GetCode(err))
		return
	}
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listing != nil {
		return
	}
	s.listing = l
	s.stale = true
	s.logger.Info("serving previously published listing", "packages", len(l.Packages), "versions", l.VersionCount())
}

// refresh regenerates the listing. The previous listing stays in place
// when generation fails.
func (s *server) refresh(ctx context.Context) error {
	prog := newProgress(s.logger)
	l, err := s.generate(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err != nil {
		s.logger.Error("regeneration failed; serving previous listing", "err", err, "code", errors.GetCode(err))
		return err
	}
	s.listing = l
	s.updatedAt = time.Now().UTC()
	s.stale = false
	prog.done("listing regenerated", "packages", len(l.Packages), "versions", l.VersionCount())
	return nil
}

// loop refreshes every interval until ctx ends.
func (s *server) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *server) serve(ctx context.Context, addr string, interval time.Duration) error {
	if interval <= 0 {
		return errors.New(errors.ErrCodeInvalidInput, "interval must be positive")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.refresh(ctx)
		s.loop(ctx, interval)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving listing", "addr", addr, "interval", interval)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(errors.ErrCodeInternal, err, "listen on %s", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// routes builds the HTTP handler.
func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/index.json", s.handleListing)
	r.Get("/packages/{id}", s.handlePackage)
	r.Get("/healthz", s.handleHealth)
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *server) snapshot() (*vpm.Listing, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listing, s.updatedAt, s.lastErr
}

func (s *server) isStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale
}

func (s *server) handleListing(w http.ResponseWriter, r *http.Request) {
	l, updated, _ := s.snapshot()
	if l == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "listing not generated yet"})
		return
	}
	if !updated.IsZero() {
		w.Header().Set("Last-Modified", updated.Format(http.TimeFormat))
	}
	writeJSON(w, http.StatusOK, l)
}

// packageResponse is one package with its versions newest first.
type packageResponse struct {
	ID       string         `json:"id"`
	Latest   string         `json:"latest"`
	Versions []*vpm.Package `json:"versions"`
}

func (s *server) handlePackage(w http.ResponseWriter, r *http.Request) {
	l, _, _ := s.snapshot()
	if l == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "listing not generated yet"})
		return
	}
	id := chi.URLParam(r, "id")
	pv, ok := l.Packages[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "package " + id + " not found"})
		return
	}
	resp := packageResponse{ID: id}
	for _, v := range pv.Sorted() {
		resp.Versions = append(resp.Versions, pv.Versions[v])
	}
	if latest := pv.Latest(); latest != nil {
		resp.Latest = latest.Version
	}
	writeJSON(w, http.StatusOK, resp)
}

type healthResponse struct {
	Status    string            `json:"status"`
	Packages  int               `json:"packages"`
	UpdatedAt *time.Time        `json:"updatedAt,omitempty"`
	Stale     bool              `json:"stale,omitempty"`
	Error     string            `json:"error,omitempty"`
	Breakers  map[string]string `json:"breakers,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	l, updated, lastErr := s.snapshot()
	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if l != nil {
		resp.Packages = len(l.Packages)
		if !updated.IsZero() {
			resp.UpdatedAt = &updated
		}
		resp.Stale = s.isStale()
	}
	if s.breakers != nil {
		resp.Breakers = s.breakers()
	}
	if lastErr != nil {
		resp.Status = "degraded"
		resp.Error = errors.UserMessage(lastErr)
	}
	if l == nil {
		resp.Status = "starting"
		if lastErr != nil {
			resp.Status = "failing"
		}
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
