// Package listing generates a package listing from a [vpm.Source].
//
// [Generate] runs the whole pipeline for one invocation: it validates the
// source, harvests every release of the configured repositories, resolves
// each release into a record and assembles the validated [vpm.Listing].
// Nothing is persisted between invocations; every call recomputes the full
// listing.
package listing

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/harvest"
	"github.com/matzehuels/vpmlisting/pkg/httputil"
	"github.com/matzehuels/vpmlisting/pkg/integrations/github"
	"github.com/matzehuels/vpmlisting/pkg/observability"
	"github.com/matzehuels/vpmlisting/pkg/resolve"
	"github.com/matzehuels/vpmlisting/pkg/schema"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
	"github.com/matzehuels/vpmlisting/pkg/workqueue"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	DefaultConcurrency = workqueue.DefaultConcurrency
	DefaultRetries     = httputil.DefaultMaxAttempts - 1
	DefaultPageSize    = harvest.DefaultPageSize
)

// =============================================================================
// Options
// =============================================================================

// Options configures a single Generate call. The zero value hashes archives,
// validates every document and uses the defaults above.
type Options struct {
	// SkipHash leaves zipSHA256 unset instead of downloading every archive.
	SkipHash bool
	// SkipValidation disables all schema checks.
	SkipValidation bool

	// Concurrency caps in-flight descriptor and archive downloads.
	Concurrency int
	// Retries is the number of retries after a failed download. Zero means
	// DefaultRetries; a negative value disables retrying.
	Retries int
	// RetryPolicy decides which failures are retried and how long to wait.
	// Nil means httputil.DefaultPolicy.
	RetryPolicy httputil.RetryPolicy

	// OnVersion returns extra fields for every record.
	OnVersion resolve.VersionHook

	// Client runs the GraphQL harvest. Nil means a github.Client over
	// Fetcher authenticated with $GITHUB_TOKEN.
	Client harvest.Querier
	// Fetcher downloads release assets. Nil means a fetcher built from
	// Retries and RetryPolicy. A caller-supplied fetcher keeps its own retry
	// settings.
	Fetcher *httputil.Fetcher

	// PageSize is the number of releases requested per repository per round.
	PageSize int
	// BatchSize is the number of repositories per GraphQL query; 0 sends all
	// outstanding repositories in one query.
	BatchSize int

	Logger *log.Logger
}

// SetDefaults fills unset fields. It is idempotent.
func (o *Options) SetDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.Retries == 0 {
		o.Retries = DefaultRetries
	}
	if o.RetryPolicy == nil {
		o.RetryPolicy = httputil.DefaultPolicy()
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	if o.Fetcher == nil {
		o.Fetcher = httputil.NewFetcher(
			httputil.WithRetryPolicy(o.RetryPolicy),
			httputil.WithMaxAttempts(max(o.Retries, 0)+1),
			httputil.WithLogger(o.Logger),
		)
	}
	if o.Client == nil {
		o.Client = github.NewClient(o.Fetcher, github.TokenFromEnv())
	}
}

// =============================================================================
// Generate
// =============================================================================

// Generate builds the listing for src. It returns either a complete,
// validated listing or the first fatal error; no partial listing is ever
// returned. Cancelling ctx aborts all outstanding work.
func Generate(ctx context.Context, src *vpm.Source, opts Options) (*vpm.Listing, error) {
	if src == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "source is required")
	}
	opts.SetDefaults()

	g := &generator{opts: opts, state: observability.StateIdle}
	start := time.Now()
	l, err := g.run(ctx, src)
	if err != nil {
		g.transition(ctx, observability.StateFailed)
		return nil, err
	}
	g.transition(ctx, observability.StateValidated)
	opts.Logger.Info("listing generated",
		"packages", len(l.Packages),
		"versions", l.VersionCount(),
		"duration", time.Since(start).Round(time.Millisecond))
	return l, nil
}

type generator struct {
	opts  Options
	state observability.State
}

func (g *generator) transition(ctx context.Context, to observability.State) {
	from := g.state
	g.state = to
	g.opts.Logger.Debug("state", "from", from, "to", to)
	observability.Pipeline().OnStateChange(ctx, from, to)
}

func (g *generator) run(ctx context.Context, src *vpm.Source) (*vpm.Listing, error) {
	logger := g.opts.Logger
	if !g.opts.SkipValidation {
		if err := schema.Source(src); err != nil {
			return nil, err
		}
	}
	repos := uniqueRepos(src.GitHubRepos)

	g.transition(ctx, observability.StateHarvesting)
	logger.Info("fetching releases", "repos", len(repos))
	h := harvest.New(g.opts.Client, harvest.Options{
		PageSize:  g.opts.PageSize,
		BatchSize: g.opts.BatchSize,
		Logger:    logger,
	})
	releases, err := h.Harvest(ctx, repos)
	if err != nil {
		return nil, err
	}

	g.transition(ctx, observability.StateResolving)
	queue := workqueue.New(g.opts.Concurrency)
	resolver := resolve.New(g.opts.Fetcher, queue, resolve.Options{
		SkipHash:       g.opts.SkipHash,
		SkipValidation: g.opts.SkipValidation,
		OnVersion:      g.opts.OnVersion,
		Logger:         logger,
	})

	asm := newAssembly()
	eg, ectx := errgroup.WithContext(ctx)
	for _, repo := range repos {
		eg.Go(func() error {
			return g.resolveRepo(ectx, resolver, asm, repo, releases[repo])
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	g.transition(ctx, observability.StateAssembling)
	l := vpm.NewListing(src)
	l.Packages = asm.packages
	if !g.opts.SkipValidation {
		if err := schema.Listing(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// resolveRepo resolves every release of one repository concurrently and adds
// the resulting version map to asm.
func (g *generator) resolveRepo(ctx context.Context, r *resolve.Resolver, asm *assembly, repo string, releases []github.Release) error {
	acc := &repoRecords{repo: repo, versions: make(map[string]*vpm.Package)}

	eg, ectx := errgroup.WithContext(ctx)
	for _, rel := range releases {
		eg.Go(func() error {
			rec, err := r.Resolve(ectx, repo, rel)
			if err != nil || rec == nil {
				return err
			}
			return acc.add(rel, rec)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if acc.id == "" {
		g.opts.Logger.Debug("repository has no package releases", "repo", repo, "releases", len(releases))
		return nil
	}
	g.opts.Logger.Debug("repository resolved", "repo", repo, "package", acc.id, "versions", len(acc.versions))
	return asm.put(acc)
}

// =============================================================================
// Assembly
// =============================================================================

// repoRecords collects the records of a single repository.
type repoRecords struct {
	repo string

	mu       sync.Mutex
	id       string
	versions map[string]*vpm.Package
	from     map[string]string // version -> release label
}

func (a *repoRecords) add(rel github.Release, rec *vpm.Package) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case a.id == "":
		a.id = rec.Name
	case a.id != rec.Name:
		return errors.New(errors.ErrCodeInconsistentPackage,
			"repository %s publishes both %s and %s (release %s)", a.repo, a.id, rec.Name, rel.Label())
	}
	if prev, dup := a.from[rec.Version]; dup {
		return errors.New(errors.ErrCodeDuplicateVersion,
			"repository %s publishes %s %s in both release %s and %s", a.repo, rec.Name, rec.Version, prev, rel.Label())
	}
	if a.from == nil {
		a.from = make(map[string]string)
	}
	a.from[rec.Version] = rel.Label()
	a.versions[rec.Version] = rec
	return nil
}

// assembly is the package map shared by all repositories.
type assembly struct {
	mu       sync.Mutex
	packages map[string]vpm.PackageVersions
	owners   map[string]string // package id -> repository
}

func newAssembly() *assembly {
	return &assembly{
		packages: make(map[string]vpm.PackageVersions),
		owners:   make(map[string]string),
	}
}

func (a *assembly) put(r *repoRecords) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if owner, taken := a.owners[r.id]; taken {
		return errors.New(errors.ErrCodeInconsistentPackage,
			"package %s is published by both %s and %s", r.id, owner, r.repo)
	}
	a.owners[r.id] = r.repo
	a.packages[r.id] = vpm.PackageVersions{Versions: r.versions}
	return nil
}

func uniqueRepos(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
