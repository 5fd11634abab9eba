package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/vpmlisting/pkg/buildinfo"
	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/httputil"
	"github.com/matzehuels/vpmlisting/pkg/integrations/github"
	"github.com/matzehuels/vpmlisting/pkg/listing"
	"github.com/matzehuels/vpmlisting/pkg/observability"
	"github.com/matzehuels/vpmlisting/pkg/publish"
	"github.com/matzehuels/vpmlisting/pkg/schema"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
)

// generateOpts holds the flags shared by generate and serve.
type generateOpts struct {
	source string // source JSON path
	output string // listing path; empty writes to stdout

	noSHA256    bool
	noCheck     bool
	concurrency int

	retries        int
	retryDelay     time.Duration
	retryOn        []int
	circuitBreaker int

	pageSize  int
	batchSize int
	endpoint  string
	timeout   time.Duration

	redis publish.RedisConfig

	quiet bool // no spinner and no summary
}

func defaultGenerateOpts() generateOpts {
	return generateOpts{
		concurrency: listing.DefaultConcurrency,
		retries:     listing.DefaultRetries,
		retryDelay:  time.Second,
		retryOn:     httputil.DefaultRetryStatuses,
		pageSize:    listing.DefaultPageSize,
		endpoint:    github.DefaultEndpoint,
	}
}

// addGenerateFlags registers the generation flags on cmd.
func addGenerateFlags(cmd *cobra.Command, opts *generateOpts) {
	f := cmd.Flags()
	f.StringVarP(&opts.source, "source", "s", "", "source JSON file (required)")
	f.StringVarP(&opts.output, "output", "o", opts.output, "write the listing to this file")
	f.BoolVar(&opts.noSHA256, "no-sha256", false, "do not download archives to compute zipSHA256")
	f.BoolVar(&opts.noCheck, "no-check", false, "skip schema validation")
	f.IntVarP(&opts.concurrency, "concurrency", "c", opts.concurrency, "maximum concurrent downloads")
	f.IntVar(&opts.retries, "retries", opts.retries, "retries per failed download (negative disables)")
	f.DurationVar(&opts.retryDelay, "retry-delay", opts.retryDelay, "base delay of the exponential retry backoff")
	f.IntSliceVar(&opts.retryOn, "retry-on", opts.retryOn, "HTTP statuses to retry")
	f.IntVar(&opts.circuitBreaker, "circuit-breaker", 0, "consecutive failures before a host is skipped (0 disables)")
	f.IntVar(&opts.pageSize, "page-size", opts.pageSize, "releases requested per repository per query")
	f.IntVar(&opts.batchSize, "batch-size", 0, "repositories per GraphQL query (0 sends all at once)")
	f.StringVar(&opts.endpoint, "endpoint", opts.endpoint, "GitHub GraphQL endpoint")
	f.DurationVar(&opts.timeout, "timeout", 0, "abort generation after this long (0 means no limit)")
	f.StringVar(&opts.redis.Addr, "redis-addr", "", "also publish the listing to this Redis server")
	f.StringVar(&opts.redis.Password, "redis-password", "", "Redis password")
	f.IntVar(&opts.redis.DB, "redis-db", 0, "Redis database")
	f.StringVar(&opts.redis.Key, "redis-key", publish.DefaultRedisKey, "Redis key holding the listing")
	f.DurationVar(&opts.redis.TTL, "redis-ttl", 0, "expire the Redis key after this long")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress and summary output")
	cmd.MarkFlagRequired("source")
	cmd.RegisterFlagCompletionFunc("source", completeJSONFile)
}

// generateCommand creates the generate command.
func (c *CLI) generateCommand() *cobra.Command {
	opts := defaultGenerateOpts()
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a listing from a source file",
		Long: `Generate fetches every release of the repositories named in the source file,
resolves the package descriptor and archive of each release, and writes the
validated listing.

The listing is written to stdout unless --output or --redis-addr is given.`,
		Example: `  vpmlisting generate -s source.json -o index.json
  vpmlisting generate -s source.json --no-sha256 --batch-size 50`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), cmd.ErrOrStderr(), cmd.OutOrStdout(), opts)
		},
	}
	addGenerateFlags(cmd, &opts)
	return cmd
}

func runGenerate(ctx context.Context, stderr, stdout io.Writer, opts generateOpts) error {
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	src, err := loadSource(opts.source, !opts.noCheck)
	if err != nil {
		return err
	}

	pubs, err := opts.publishers(ctx, stdout)
	if err != nil {
		return err
	}
	defer pubs.Close()

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	var spinner *Spinner
	if !opts.quiet && logger.GetLevel() > log.DebugLevel {
		spinner = newSpinner(ctx, stderr, "Starting...")
		observability.SetPipelineHooks(&progressHooks{spinner: spinner})
		defer observability.SetPipelineHooks(observability.NoopPipelineHooks{})
		spinner.Start()
	}

	l, err := listing.Generate(ctx, src, opts.listingOptions(logger, opts.newFetcher(logger)))
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		if spinner != nil {
			printError(stderr, "%s", errors.UserMessage(err))
		}
		return err
	}

	if err := pubs.Publish(ctx, l); err != nil {
		return err
	}
	prog.done("listing published", "packages", len(l.Packages), "versions", l.VersionCount())

	if !opts.quiet {
		writeSummary(stderr, l)
		for _, dest := range opts.destinations() {
			printFile(stderr, dest)
		}
	}
	return nil
}

// retryPolicy builds the policy shared by the fetcher and the work queue.
func (o generateOpts) retryPolicy() httputil.StatusPolicy {
	return httputil.StatusPolicy{
		Statuses: o.retryOn,
		Backoff:  httputil.ExponentialDelay{Base: o.retryDelay, Max: time.Minute},
	}
}

// newFetcher builds the HTTP fetcher for GitHub and asset downloads.
func (o generateOpts) newFetcher(logger *log.Logger) *httputil.Fetcher {
	fetcherOpts := []httputil.Option{
		httputil.WithRetryPolicy(o.retryPolicy()),
		httputil.WithMaxAttempts(max(o.retries, 0) + 1),
		httputil.WithHeader("User-Agent", buildinfo.UserAgent()),
		httputil.WithLogger(logger),
	}
	if o.circuitBreaker > 0 {
		fetcherOpts = append(fetcherOpts, httputil.WithCircuitBreaker(o.circuitBreaker))
	}
	return httputil.NewFetcher(fetcherOpts...)
}

// listingOptions translates flags into generation options.
func (o generateOpts) listingOptions(logger *log.Logger, fetcher *httputil.Fetcher) listing.Options {
	return listing.Options{
		SkipHash:       o.noSHA256,
		SkipValidation: o.noCheck,
		Concurrency:    o.concurrency,
		Retries:        o.retries,
		RetryPolicy:    o.retryPolicy(),
		Client:         github.NewClient(fetcher, github.TokenFromEnv()).WithEndpoint(o.endpoint),
		Fetcher:        fetcher,
		PageSize:       o.pageSize,
		BatchSize:      o.batchSize,
		Logger:         logger,
	}
}

// publishers returns the destinations selected by the flags.
func (o generateOpts) publishers(ctx context.Context, stdout io.Writer) (publish.Publisher, error) {
	var pubs []publish.Publisher
	if o.output != "" {
		pubs = append(pubs, publish.NewFile(o.output))
	}
	if o.redis.Addr != "" {
		r, err := publish.NewRedis(ctx, o.redis)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, r)
	}
	if len(pubs) == 0 {
		pubs = append(pubs, publish.NewWriter(stdout))
	}
	return publish.Multi(pubs...), nil
}

// destinations describes where the listing was published.
func (o generateOpts) destinations() []string {
	var out []string
	if o.output != "" {
		out = append(out, o.output)
	}
	if o.redis.Addr != "" {
		out = append(out, "redis://"+o.redis.Addr+"/"+o.redis.Key)
	}
	return out
}

// loadSource reads the source file at path. With check set, the file is
// validated as written, before decoding fills in zero values.
func loadSource(path string, check bool) (*vpm.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "open source")
	}
	if check {
		if err := schema.ValidateJSON(schema.KindSource, data); err != nil {
			return nil, errors.Wrap(errors.ErrCodeValidation, err, "source %s", path)
		}
	}
	src, err := vpm.ReadSource(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "read %s", path)
	}
	return src, nil
}
