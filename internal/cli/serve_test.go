package cli

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/publish"
	"github.com/matzehuels/vpmlisting/pkg/vpm"
)

func testListing() *vpm.Listing {
	return &vpm.Listing{
		ID:     "net.example.vpm",
		Name:   "Example packages",
		Author: "Example Author",
		URL:    "https://vpm.example.com/index.json",
		Packages: map[string]vpm.PackageVersions{
			"net.example.widget": {Versions: map[string]*vpm.Package{
				"1.0.0":  {Name: "net.example.widget", DisplayName: "Widget", Version: "1.0.0"},
				"1.2.0":  {Name: "net.example.widget", DisplayName: "Widget", Version: "1.2.0"},
				"1.10.0": {Name: "net.example.widget", DisplayName: "Widget", Version: "1.10.0"},
			}},
		},
	}
}

// stubGenerator returns queued results in order.
type stubGenerator struct {
	listings []*vpm.Listing
	errs     []error
}

func (g *stubGenerator) generate(context.Context) (*vpm.Listing, error) {
	l, err := g.listings[0], g.errs[0]
	g.listings, g.errs = g.listings[1:], g.errs[1:]
	return l, err
}

func testServer(t *testing.T, g *stubGenerator) (*server, *httptest.Server) {
	t.Helper()
	s := newServer(log.New(io.Discard), g.generate, nil)
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return s, srv
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestServeBeforeFirstListing(t *testing.T) {
	_, srv := testServer(t, &stubGenerator{})

	if resp := getJSON(t, srv.URL+"/index.json", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("index status = %d, want 503", resp.StatusCode)
	}
	var health healthResponse
	resp := getJSON(t, srv.URL+"/healthz", &health)
	if resp.StatusCode != http.StatusServiceUnavailable || health.Status != "starting" {
		t.Errorf("health = %d %+v", resp.StatusCode, health)
	}
}

func TestServeListing(t *testing.T) {
	s, srv := testServer(t, &stubGenerator{listings: []*vpm.Listing{testListing()}, errs: []error{nil}})
	if err := s.refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var l vpm.Listing
	resp := getJSON(t, srv.URL+"/index.json", &l)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Last-Modified") == "" {
		t.Error("missing Last-Modified")
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if l.ID != "net.example.vpm" || len(l.Packages["net.example.widget"].Versions) != 3 {
		t.Errorf("listing = %+v", l)
	}

	var health healthResponse
	getJSON(t, srv.URL+"/healthz", &health)
	if health.Status != "ok" || health.Packages != 1 || health.UpdatedAt == nil {
		t.Errorf("health = %+v", health)
	}
}

func TestServePackage(t *testing.T) {
	s, srv := testServer(t, &stubGenerator{listings: []*vpm.Listing{testListing()}, errs: []error{nil}})
	s.refresh(context.Background())

	var pkg packageResponse
	resp := getJSON(t, srv.URL+"/packages/net.example.widget", &pkg)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if pkg.Latest != "1.10.0" {
		t.Errorf("Latest = %q, want 1.10.0", pkg.Latest)
	}
	var order []string
	for _, v := range pkg.Versions {
		order = append(order, v.Version)
	}
	want := []string{"1.10.0", "1.2.0", "1.0.0"}
	if len(order) != len(want) {
		t.Fatalf("versions = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("versions = %v, want %v", order, want)
			break
		}
	}

	if resp := getJSON(t, srv.URL+"/packages/net.example.gadget", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown package status = %d, want 404", resp.StatusCode)
	}
}

func TestServeKeepsListingOnFailure(t *testing.T) {
	g := &stubGenerator{
		listings: []*vpm.Listing{testListing(), nil},
		errs:     []error{nil, errors.New(errors.ErrCodeFetch, "github unavailable")},
	}
	s, srv := testServer(t, g)
	s.refresh(context.Background())
	if err := s.refresh(context.Background()); err == nil {
		t.Fatal("second refresh should fail")
	}

	if resp := getJSON(t, srv.URL+"/index.json", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("index status = %d, want the previous listing", resp.StatusCode)
	}
	var health healthResponse
	resp := getJSON(t, srv.URL+"/healthz", &health)
	if resp.StatusCode != http.StatusOK || health.Status != "degraded" || health.Error == "" {
		t.Errorf("health = %d %+v", resp.StatusCode, health)
	}
}

func TestServeFailingFromStart(t *testing.T) {
	g := &stubGenerator{listings: []*vpm.Listing{nil}, errs: []error{errors.New(errors.ErrCodeFetch, "down")}}
	s, srv := testServer(t, g)
	s.refresh(context.Background())

	var health healthResponse
	resp := getJSON(t, srv.URL+"/healthz", &health)
	if resp.StatusCode != http.StatusServiceUnavailable || health.Status != "failing" {
		t.Errorf("health = %d %+v", resp.StatusCode, health)
	}
}

func TestServeRejectsInterval(t *testing.T) {
	s := newServer(log.New(io.Discard), (&stubGenerator{}).generate, nil)
	err := s.serve(context.Background(), "127.0.0.1:0", 0)
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestServeSeedsFromPublishedListing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := publish.NewFile(path).Publish(context.Background(), testListing()); err != nil {
		t.Fatal(err)
	}
	fresh := testListing()
	delete(fresh.Packages["net.example.widget"].Versions, "1.0.0")
	s, srv := testServer(t, &stubGenerator{listings: []*vpm.Listing{fresh}, errs: []error{nil}})

	s.seed(context.Background(), publish.Multi(publish.NewWriter(io.Discard), publish.NewFile(path)).(publish.Loader))

	var l vpm.Listing
	resp := getJSON(t, srv.URL+"/index.json", &l)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seeded index status = %d", resp.StatusCode)
	}
	if resp.Header.Get("Last-Modified") != "" {
		t.Error("seeded listing has no generation time")
	}
	if n := len(l.Packages["net.example.widget"].Versions); n != 3 {
		t.Errorf("seeded versions = %d, want 3", n)
	}
	var health healthResponse
	getJSON(t, srv.URL+"/healthz", &health)
	if health.Status != "ok" || !health.Stale || health.UpdatedAt != nil {
		t.Errorf("seeded health = %+v", health)
	}

	if err := s.refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	getJSON(t, srv.URL+"/index.json", &l)
	if n := len(l.Packages["net.example.widget"].Versions); n != 2 {
		t.Errorf("regenerated versions = %d, want 2", n)
	}
	health = healthResponse{}
	getJSON(t, srv.URL+"/healthz", &health)
	if health.Stale || health.UpdatedAt == nil {
		t.Errorf("regenerated health = %+v", health)
	}
}

func TestServeSeedIgnoresMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{filepath.Join(dir, "missing.json"), corrupt} {
		s, srv := testServer(t, &stubGenerator{})
		s.seed(context.Background(), publish.NewFile(path))
		if resp := getJSON(t, srv.URL+"/index.json", nil); resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: index status = %d, want 503", filepath.Base(path), resp.StatusCode)
		}
	}
}

func TestServeHealthReportsBreakers(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	opts := defaultGenerateOpts()
	opts.retries = 0
	opts.circuitBreaker = 1
	fetcher := opts.newFetcher(log.New(io.Discard))
	fetcher.Get(context.Background(), upstream.URL)

	s := newServer(log.New(io.Discard), (&stubGenerator{}).generate, fetcher.BreakerState)
	srv := httptest.NewServer(s.routes())
	defer srv.Close()

	var health healthResponse
	getJSON(t, srv.URL+"/healthz", &health)
	host := strings.TrimPrefix(upstream.URL, "http://")
	if health.Breakers[host] != "open" {
		t.Errorf("breakers = %v, want %s open", health.Breakers, host)
	}

	var plain healthResponse
	_, plainSrv := testServer(t, &stubGenerator{})
	getJSON(t, plainSrv.URL+"/healthz", &plain)
	if plain.Breakers != nil {
		t.Errorf("breakers without a breaker = %v", plain.Breakers)
	}
}
