package resolve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/httputil"
	"github.com/matzehuels/vpmlisting/pkg/integrations/github"
	"github.com/matzehuels/vpmlisting/pkg/workqueue"
)

const archiveBody = "PK\x03\x04 widget archive"

type fixture struct {
	srv        *httptest.Server
	descriptor string
	zipHits    atomic.Int32
}

func newFixture(t *testing.T, descriptor string) *fixture {
	t.Helper()
	fx := &fixture{descriptor: descriptor}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1.0.0/package.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fx.descriptor))
	})
	mux.HandleFunc("/v1.0.0/net.example.widget-1.0.0.zip", func(w http.ResponseWriter, r *http.Request) {
		fx.zipHits.Add(1)
		w.Write([]byte(archiveBody))
	})
	fx.srv = httptest.NewServer(mux)
	t.Cleanup(fx.srv.Close)
	return fx
}

func (fx *fixture) resolver(opts Options) *Resolver {
	f := httputil.NewFetcher(
		httputil.WithHTTPClient(fx.srv.Client()),
		httputil.WithRetryPolicy(httputil.StatusPolicy{Backoff: httputil.ConstantDelay(time.Millisecond)}),
	)
	return New(f, workqueue.New(2), opts)
}

func (fx *fixture) release(assets ...string) github.Release {
	rel := github.Release{Name: "v1.0.0", TagName: "v1.0.0"}
	for _, a := range assets {
		rel.Assets = append(rel.Assets, github.Asset{Name: a, DownloadURL: fx.srv.URL + "/v1.0.0/" + a})
	}
	return rel
}

const widgetDescriptor = `{
	"name": "net.example.widget",
	"displayName": "Widget",
	"version": "1.0.0",
	"unity": "2022.3",
	"samples": [{"displayName": "Demo", "path": "Samples~/Demo"}]
}`

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestResolve(t *testing.T) {
	fx := newFixture(t, widgetDescriptor)
	rel := fx.release("package.json", "net.example.widget-1.0.0.zip")

	rec, err := fx.resolver(Options{}).Resolve(context.Background(), "example/widget", rel)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "net.example.widget", rec.Name)
	assert.Equal(t, "1.0.0", rec.Version)
	assert.Equal(t, fx.srv.URL+"/v1.0.0/net.example.widget-1.0.0.zip", rec.URL)
	assert.Equal(t, sha(archiveBody), rec.ZipSHA256)
	assert.Len(t, rec.ZipSHA256, 64)
	assert.NotNil(t, rec.Extra["samples"], "unknown descriptor keys are kept")
}

func TestResolveSkipsReleaseWithoutDescriptor(t *testing.T) {
	fx := newFixture(t, widgetDescriptor)
	rec, err := fx.resolver(Options{}).Resolve(context.Background(), "example/widget", fx.release("net.example.widget-1.0.0.zip"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestResolveMissingArchive(t *testing.T) {
	fx := newFixture(t, widgetDescriptor)
	_, err := fx.resolver(Options{}).Resolve(context.Background(), "example/widget", fx.release("package.json", "widget.zip"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeMissingAsset))
	assert.Contains(t, err.Error(), "net.example.widget-1.0.0.zip")
	assert.Contains(t, err.Error(), "example/widget")
	assert.Contains(t, err.Error(), "v1.0.0")
}

func TestResolveSkipHash(t *testing.T) {
	fx := newFixture(t, widgetDescriptor)
	rel := fx.release("package.json", "net.example.widget-1.0.0.zip")

	rec, err := fx.resolver(Options{SkipHash: true}).Resolve(context.Background(), "example/widget", rel)
	require.NoError(t, err)
	assert.Empty(t, rec.ZipSHA256)
	assert.NotEmpty(t, rec.URL)
	assert.Zero(t, fx.zipHits.Load(), "archive must not be downloaded")
}

func TestResolveInvalidDescriptor(t *testing.T) {
	fx := newFixture(t, `{"name": "Net.Example.Widget", "displayName": "Widget", "version": "1.0.0"}`)
	rel := fx.release("package.json", "Net.Example.Widget-1.0.0.zip")

	_, err := fx.resolver(Options{}).Resolve(context.Background(), "example/widget", rel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	fields := errors.Fields(err)
	require.NotEmpty(t, fields)
	assert.Equal(t, "name", fields[0].Field)
}

func TestResolveSkipValidation(t *testing.T) {
	fx := newFixture(t, `{"name": "net.example.widget", "displayName": "", "version": "1.0.0"}`)
	rel := fx.release("package.json", "net.example.widget-1.0.0.zip")

	rec, err := fx.resolver(Options{SkipValidation: true, SkipHash: true}).Resolve(context.Background(), "example/widget", rel)
	require.NoError(t, err)
	assert.Empty(t, rec.DisplayName)
}

func TestResolveMalformedDescriptor(t *testing.T) {
	fx := newFixture(t, `{not json`)
	_, err := fx.resolver(Options{}).Resolve(context.Background(), "example/widget", fx.release("package.json"))
	assert.Equal(t, errors.ErrCodeValidation, errors.GetCode(err))

	_, err = fx.resolver(Options{SkipValidation: true}).Resolve(context.Background(), "example/widget", fx.release("package.json"))
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestResolveWrongFieldType(t *testing.T) {
	fx := newFixture(t, `{"name": "net.example.widget", "displayName": "Widget", "version": 1}`)
	_, err := fx.resolver(Options{}).Resolve(context.Background(), "example/widget", fx.release("package.json"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeValidation, errors.GetCode(err))
	hasViolation(t, err, "version", "type")
}

func TestResolveMissingVersion(t *testing.T) {
	fx := newFixture(t, `{"name": "net.example.widget", "displayName": "Widget"}`)
	_, err := fx.resolver(Options{}).Resolve(context.Background(), "example/widget", fx.release("package.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	hasViolation(t, err, "version", "required")
}

func TestResolveRejectsEmptyOptionalStrings(t *testing.T) {
	tests := []struct {
		field string
		body  string
		rule  string
	}{
		{"license", `"license": ""`, "minLength"},
		{"unity", `"unity": ""`, "minLength"},
		{"changelogUrl", `"changelogUrl": ""`, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			fx := newFixture(t, `{"name": "net.example.widget", "displayName": "Widget", "version": "1.0.0", `+tt.body+`}`)
			rel := fx.release("package.json", "net.example.widget-1.0.0.zip")
			_, err := fx.resolver(Options{SkipHash: true}).Resolve(context.Background(), "example/widget", rel)
			require.Error(t, err)
			hasViolation(t, err, tt.field, tt.rule)
		})
	}
}

func TestResolveKeepsEmptyMaps(t *testing.T) {
	fx := newFixture(t, `{
		"name": "net.example.widget",
		"displayName": "Widget",
		"version": "1.0.0",
		"vpmDependencies": {},
		"legacyFolders": {},
		"legacyPackages": []
	}`)
	rel := fx.release("package.json", "net.example.widget-1.0.0.zip")

	rec, err := fx.resolver(Options{SkipHash: true}).Resolve(context.Background(), "example/widget", rel)
	require.NoError(t, err)

	out, err := json.Marshal(rec)
	require.NoError(t, err)
	var back map[string]any
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, map[string]any{}, back["vpmDependencies"])
	assert.Equal(t, map[string]any{}, back["legacyFolders"])
	assert.Equal(t, []any{}, back["legacyPackages"])
	assert.NotContains(t, back, "legacyFiles", "absent keys stay absent")
}

func hasViolation(t *testing.T, err error, field, constraint string) {
	t.Helper()
	for _, fe := range errors.Fields(err) {
		if fe.Field == field && fe.Constraint == constraint {
			return
		}
	}
	t.Errorf("no %s violation at %q in %v", constraint, field, err)
}

func TestResolveVersionHook(t *testing.T) {
	fx := newFixture(t, widgetDescriptor)
	rel := fx.release("package.json", "net.example.widget-1.0.0.zip")

	var seen VersionContext
	hook := func(ctx context.Context, vc VersionContext) (map[string]any, error) {
		seen = vc
		return map[string]any{
			"url":          "https://mirror.example.com/widget.zip",
			"changelogUrl": "https://example.com/changelog",
		}, nil
	}

	rec, err := fx.resolver(Options{OnVersion: hook}).Resolve(context.Background(), "example/widget", rel)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/widget.zip", rec.URL, "hook overrides url")
	assert.Equal(t, "https://example.com/changelog", rec.ChangelogURL)
	assert.Equal(t, sha(archiveBody), rec.ZipSHA256)

	assert.Equal(t, "example/widget", seen.Repo)
	assert.Equal(t, "net.example.widget", seen.Package.Name)
	assert.Equal(t, "v1.0.0", seen.Release.TagName)
	assert.NotNil(t, seen.Queue)
	assert.NotNil(t, seen.Fetcher)
}

func TestResolveVersionHookFieldsAreValidated(t *testing.T) {
	fx := newFixture(t, widgetDescriptor)
	rel := fx.release("package.json", "net.example.widget-1.0.0.zip")
	hook := func(context.Context, VersionContext) (map[string]any, error) {
		return map[string]any{"zipSHA256": "not-a-digest"}, nil
	}

	_, err := fx.resolver(Options{OnVersion: hook}).Resolve(context.Background(), "example/widget", rel)
	assert.True(t, errors.Is(err, errors.ErrCodeValidation))
}

func TestResolveFetchError(t *testing.T) {
	fx := newFixture(t, widgetDescriptor)
	rel := github.Release{Name: "v1.0.0", Assets: []github.Asset{{Name: "package.json", DownloadURL: fx.srv.URL + "/missing"}}}

	_, err := fx.resolver(Options{}).Resolve(context.Background(), "example/widget", rel)
	assert.True(t, errors.Is(err, errors.ErrCodeFetch))
}
