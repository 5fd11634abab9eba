// Package harvest collects every release of many GitHub repositories with
// as few GraphQL round trips as possible.
//
// Each round sends one query holding an aliased repository sub-query per
// outstanding repository (r0, r1, ...). A sub-query carries the cursor
// returned by the previous round, so a repository with N pages of releases
// takes part in N rounds and drops out once GitHub reports no next page.
package harvest

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/integrations/github"
	"github.com/matzehuels/vpmlisting/pkg/observability"
)

const (
	// DefaultPageSize is GitHub's maximum connection page size.
	DefaultPageSize = 100
	// DefaultAssetPageSize bounds the assets fetched per release.
	DefaultAssetPageSize = 100
	// LargeBatchWarning is the unchunked batch size above which a warning
	// is logged; GitHub may reject queries with very many aliases.
	LargeBatchWarning = 100
)

// Querier runs a GraphQL document. [*github.Client] implements it.
type Querier interface {
	Query(ctx context.Context, query string, variables map[string]any) (*github.Response, error)
}

// Options configures a Harvester. Zero values select the defaults.
type Options struct {
	PageSize      int // releases per repository per round
	AssetPageSize int // assets per release
	BatchSize     int // repositories per query; 0 puts all in one query
	Logger        *log.Logger
}

// Harvester fetches release lists.
type Harvester struct {
	client Querier
	opts   Options
}

// New creates a Harvester that queries through client.
func New(client Querier, opts Options) *Harvester {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.AssetPageSize <= 0 {
		opts.AssetPageSize = DefaultAssetPageSize
	}
	if opts.BatchSize < 0 {
		opts.BatchSize = 0
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Harvester{client: client, opts: opts}
}

// repoState tracks one repository across rounds.
type repoState struct {
	ref      github.RepoRef
	cursor   string
	releases []github.Release
	seen     map[releaseKey]struct{}
}

type releaseKey struct{ tag, name string }

func (s *repoState) add(rs []github.Release) {
	for _, r := range rs {
		k := releaseKey{r.TagName, r.Name}
		if _, dup := s.seen[k]; dup {
			continue
		}
		s.seen[k] = struct{}{}
		s.releases = append(s.releases, r)
	}
}

// Harvest returns the complete, duplicate-free release list of every
// reference. References must have the form owner/name; they are checked
// before any request is sent. A repository GitHub does not return is logged
// as a warning and maps to no releases.
func (h *Harvester) Harvest(ctx context.Context, refs []string) (map[string][]github.Release, error) {
	out := make(map[string][]github.Release, len(refs))
	if len(refs) == 0 {
		return out, nil
	}

	var outstanding []*repoState
	all := make(map[string]*repoState, len(refs))
	for _, raw := range refs {
		ref, err := github.ParseRepoRef(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := all[raw]; dup {
			continue
		}
		s := &repoState{ref: ref, seen: make(map[releaseKey]struct{})}
		all[raw] = s
		outstanding = append(outstanding, s)
	}

	if h.opts.BatchSize == 0 && len(outstanding) > LargeBatchWarning {
		h.opts.Logger.Warn("querying many repositories in one batch; set a batch size if GitHub rejects it",
			"repos", len(outstanding))
	}

	hooks := observability.Pipeline()
	for round := 1; len(outstanding) > 0; round++ {
		start := time.Now()
		next, err := h.round(ctx, round, outstanding)
		hooks.OnHarvestRound(ctx, round, len(outstanding), time.Since(start), err)
		if err != nil {
			return nil, err
		}
		h.opts.Logger.Debug("harvest round complete", "round", round, "repos", len(outstanding), "remaining", len(next))
		outstanding = next
	}

	for raw, s := range all {
		out[raw] = s.releases
	}
	return out, nil
}

// round queries every outstanding repository once, chunked by BatchSize,
// and returns the repositories that still have pages left.
func (h *Harvester) round(ctx context.Context, round int, outstanding []*repoState) ([]*repoState, error) {
	size := h.opts.BatchSize
	if size == 0 {
		size = len(outstanding)
	}

	var next []*repoState
	for lo := 0; lo < len(outstanding); lo += size {
		batch := outstanding[lo:min(lo+size, len(outstanding))]
		query, vars := h.buildQuery(batch)

		resp, err := h.client.Query(ctx, query, vars)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeFetch, err, "harvest round %d", round)
		}

		for i, s := range batch {
			alias := aliasName(i)
			if resp.IsNull(alias) {
				h.warnMissing(s, resp.ErrorsFor(alias))
				s.releases = nil
				continue
			}
			page, err := github.DecodeReleasePage(resp.Data[alias])
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeFetch, err, "decode releases of %s", s.ref)
			}
			for _, r := range page.Releases {
				if r.AssetsTruncated {
					h.opts.Logger.Warn("release has more assets than were fetched; package files may be reported missing",
						"repo", s.ref.String(), "release", r.Label(), "assets", len(r.Assets))
				}
			}
			s.add(page.Releases)

			if !page.PageInfo.HasNextPage {
				continue
			}
			if page.PageInfo.EndCursor == "" || page.PageInfo.EndCursor == s.cursor {
				h.opts.Logger.Warn("release pagination did not advance; stopping", "repo", s.ref.String(), "cursor", s.cursor)
				continue
			}
			s.cursor = page.PageInfo.EndCursor
			next = append(next, s)
		}
	}
	return next, nil
}

func (h *Harvester) warnMissing(s *repoState, gqlErrs []github.GraphQLError) {
	missing := errors.New(errors.ErrCodeRepositoryMissing, "repository %s not found", s.ref)
	kv := []any{"repo", s.ref.String(), "code", missing.Code}
	if len(gqlErrs) > 0 {
		kv = append(kv, "reason", gqlErrs[0].Message)
	}
	h.opts.Logger.Warn("repository missing from response; treating as no releases", kv...)
}

func aliasName(i int) string  { return "r" + strconv.Itoa(i) }
func cursorName(i int) string { return "cursor" + strconv.Itoa(i) }

// buildQuery renders one batched query. Only repositories that already have a
// cursor declare and use a variable.
func (h *Harvester) buildQuery(batch []*repoState) (string, map[string]any) {
	var (
		decls []string
		body  strings.Builder
		vars  map[string]any
	)
	for i, s := range batch {
		after := ""
		if s.cursor != "" {
			name := cursorName(i)
			decls = append(decls, "$"+name+": String")
			if vars == nil {
				vars = make(map[string]any)
			}
			vars[name] = s.cursor
			after = ", after: $" + name
		}
		fmt.Fprintf(&body, "  %s: repository(owner: %s, name: %s) {\n", aliasName(i), strconv.Quote(s.ref.Owner), strconv.Quote(s.ref.Name))
		fmt.Fprintf(&body, "    releases(first: %d%s, orderBy: {field: CREATED_AT, direction: DESC}) {\n", h.opts.PageSize, after)
		fmt.Fprintf(&body, "      nodes { name tagName releaseAssets(first: %d) { nodes { name downloadUrl } pageInfo { hasNextPage } } }\n", h.opts.AssetPageSize)
		body.WriteString("      pageInfo { hasNextPage endCursor }\n")
		body.WriteString("    }\n  }\n")
	}

	var q strings.Builder
	q.WriteString("query")
	if len(decls) > 0 {
		q.WriteString("(" + strings.Join(decls, ", ") + ")")
	}
	q.WriteString(" {\n")
	q.WriteString(body.String())
	q.WriteString("}\n")
	return q.String(), vars
}
