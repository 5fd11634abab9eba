// Package resolve turns one GitHub release into a listing record.
//
// A release is resolved in order:
//
//  1. find the package.json asset; releases without one are skipped
//  2. fetch and decode the descriptor, validating it unless disabled
//  3. find the "{name}-{version}.zip" archive asset
//  4. fetch the archive and compute its SHA-256 digest, unless disabled
//  5. run the optional [VersionHook] and merge its fields
//  6. build the record and validate it against the strict schema
//
// Both downloads go through the shared [workqueue.Queue], which bounds how
// many requests are in flight across all releases.
package resolve

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/opencontainers/go-digest"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/httputil"
	"github.com/matzehuels/vpmlisting/pkg/integrations/github"
	"github.com/matzehuels/vpmlisting/pkg/observability"
	"github.com/matzehuels/vpmlisting/pkg/schema"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
	"github.com/matzehuels/vpmlisting/pkg/workqueue"
)

// Getter downloads a URL. [*httputil.Fetcher] implements it.
type Getter interface {
	Get(ctx context.Context, url string) (*httputil.Response, error)
}

// VersionContext is passed to a [VersionHook].
type VersionContext struct {
	Repo    string           // owner/name
	Package *vpm.Package     // validated descriptor
	Release github.Release   // release the descriptor came from
	Queue   *workqueue.Queue // shared queue for any extra downloads
	Fetcher Getter
}

// VersionHook returns extra fields for a record. Returned keys override the
// record's own fields, including url and zipSHA256.
type VersionHook func(ctx context.Context, vc VersionContext) (map[string]any, error)

// Options configures a Resolver.
type Options struct {
	SkipHash       bool
	SkipValidation bool
	OnVersion      VersionHook
	Logger         *log.Logger
}

// Resolver resolves releases. It is safe for concurrent use.
type Resolver struct {
	fetcher Getter
	queue   *workqueue.Queue
	opts    Options
}

// New creates a Resolver that downloads through f, admitting each download
// through q.
func New(f Getter, q *workqueue.Queue, opts Options) *Resolver {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Resolver{fetcher: f, queue: q, opts: opts}
}

// Resolve returns the listing record for rel of repo, or nil with no error
// when the release carries no package descriptor.
func (r *Resolver) Resolve(ctx context.Context, repo string, rel github.Release) (*vpm.Package, error) {
	start := time.Now()
	rec, err := r.resolve(ctx, repo, rel)
	pkg := ""
	if rec != nil {
		pkg = rec.Name
	}
	observability.Pipeline().OnReleaseResolved(ctx, repo, rel.Label(), pkg, time.Since(start), err)
	return rec, err
}

func (r *Resolver) resolve(ctx context.Context, repo string, rel github.Release) (*vpm.Package, error) {
	logger := r.opts.Logger.With("repo", repo, "release", rel.Label())

	descAsset, ok := rel.Asset(vpm.DescriptorName)
	if !ok {
		logger.Debug("skipping release without " + vpm.DescriptorName)
		return nil, nil
	}

	logger.Debug("fetching descriptor", "url", descAsset.DownloadURL)
	body, err := r.download(ctx, descAsset.DownloadURL)
	if err != nil {
		return nil, errors.Wrap(fetchCode(err), err, "fetch %s of %s release %s", vpm.DescriptorName, repo, rel.Label())
	}

	// The fetched document is checked as-is; the decoded struct cannot tell a
	// missing key from an empty one.
	decodeCode := errors.ErrCodeInvalidInput
	if !r.opts.SkipValidation {
		decodeCode = errors.ErrCodeValidation
		if err := schema.ValidateJSON(schema.KindPackage, body); err != nil {
			return nil, errors.Wrap(errors.ErrCodeValidation, err, "%s of %s release %s", vpm.DescriptorName, repo, rel.Label())
		}
	}
	var pkg vpm.Package
	if err := json.Unmarshal(body, &pkg); err != nil {
		return nil, errors.Wrap(decodeCode, err, "decode %s of %s release %s", vpm.DescriptorName, repo, rel.Label())
	}

	zipName := pkg.ArchiveName()
	zip, ok := rel.Asset(zipName)
	if !ok {
		return nil, errors.NewMissingAsset(repo, rel.Label(), zipName)
	}

	rec := pkg
	rec.URL = zip.DownloadURL
	if !r.opts.SkipHash {
		logger.Debug("fetching archive", "asset", zipName, "url", zip.DownloadURL)
		data, err := r.download(ctx, zip.DownloadURL)
		if err != nil {
			return nil, errors.Wrap(fetchCode(err), err, "fetch %s of %s release %s", zipName, repo, rel.Label())
		}
		rec.ZipSHA256 = digest.SHA256.FromBytes(data).Encoded()
	}

	out := &rec
	if r.opts.OnVersion != nil {
		extra, err := r.opts.OnVersion(ctx, VersionContext{
			Repo:    repo,
			Package: &pkg,
			Release: rel,
			Queue:   r.queue,
			Fetcher: r.fetcher,
		})
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "version hook for %s release %s", repo, rel.Label())
		}
		if out, err = rec.WithFields(extra); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "merge version hook fields for %s release %s", repo, rel.Label())
		}
	}

	if !r.opts.SkipValidation {
		if err := schema.StrictPackage(out); err != nil {
			return nil, errors.Wrap(errors.ErrCodeValidation, err, "record for %s release %s", repo, rel.Label())
		}
	}
	logger.Debug("resolved", "package", out.Name, "version", out.Version)
	return out, nil
}

// download fetches url through the queue.
func (r *Resolver) download(ctx context.Context, url string) ([]byte, error) {
	f := workqueue.Submit(ctx, r.queue, func(ctx context.Context) ([]byte, error) {
		resp, err := r.fetcher.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	})
	return f.Wait(ctx)
}

// fetchCode keeps the code of a structured failure and classifies anything
// else, such as a cancelled wait, as a fetch error.
func fetchCode(err error) errors.Code {
	if code := errors.GetCode(err); code != "" {
		return code
	}
	return errors.ErrCodeFetch
}
