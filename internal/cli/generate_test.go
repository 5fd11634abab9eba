package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/matzehuels/vpmlisting/pkg/errors"
	"github.com/matzehuels/vpmlisting/pkg/publish"
)

const testSource = `{
  "id": "net.example.vpm",
  "name": "Example packages",
  "url": "https://vpm.example.com/index.json",
  "author": {"name": "Example Author"},
  "githubRepos": ["example/widget"],
  "bannerUrl": "https://vpm.example.com/banner.png"
}`

// fakeGitHub serves a single repository with one release.
type fakeGitHub struct {
	srv     *httptest.Server
	zipHits atomic.Int32
	auth    atomic.Value
}

func newFakeGitHub(t *testing.T) *fakeGitHub {
	t.Helper()
	f := &fakeGitHub{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /graphql", func(w http.ResponseWriter, r *http.Request) {
		f.auth.Store(r.Header.Get("Authorization"))
		page := map[string]any{"releases": map[string]any{
			"nodes": []any{map[string]any{
				"name":    "v1.0.0",
				"tagName": "v1.0.0",
				"releaseAssets": map[string]any{"nodes": []any{
					map[string]string{"name": "package.json", "downloadUrl": f.srv.URL + "/dl/package.json"},
					map[string]string{"name": "net.example.widget-1.0.0.zip", "downloadUrl": f.srv.URL + "/dl/widget.zip"},
				}},
			}},
			"pageInfo": map[string]any{"hasNextPage": false, "endCursor": "1"},
		}}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"r0": page}})
	})
	mux.HandleFunc("GET /dl/package.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name": "net.example.widget", "displayName": "Widget", "version": "1.0.0"}`))
	})
	mux.HandleFunc("GET /dl/widget.zip", func(w http.ResponseWriter, r *http.Request) {
		f.zipHits.Add(1)
		w.Write([]byte("PK widget"))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr, logs bytes.Buffer
	c := New(&logs, LogInfo)
	root := c.RootCommand()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGenerateCommand(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GITHUB_TOKEN", "secret")
	gh := newFakeGitHub(t)
	src := writeFile(t, "source.json", testSource)
	out := filepath.Join(t.TempDir(), "dist", "index.json")

	_, stderr, err := execute(t, "generate", "-s", src, "-o", out, "--endpoint", gh.srv.URL+"/graphql")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	l, err := publish.NewFile(out).Load(context.Background())
	if err != nil || l == nil {
		t.Fatalf("Load() = %v, %v", l, err)
	}
	rec := l.Packages["net.example.widget"].Versions["1.0.0"]
	if rec == nil || len(rec.ZipSHA256) != 64 {
		t.Fatalf("record = %+v, want a hashed record", rec)
	}
	if got := gh.auth.Load(); got != "Bearer secret" {
		t.Errorf("Authorization = %v", got)
	}
	for _, want := range []string{"net.example.widget", "1.0.0", out} {
		if !strings.Contains(stderr, want) {
			t.Errorf("summary %q missing %q", stderr, want)
		}
	}
}

func TestGenerateCommandStdout(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	gh := newFakeGitHub(t)
	src := writeFile(t, "source.json", testSource)

	stdout, stderr, err := execute(t, "generate", "-q", "-s", src, "--no-sha256", "--endpoint", gh.srv.URL+"/graphql")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if stderr != "" {
		t.Errorf("quiet run wrote %q", stderr)
	}
	var decoded struct {
		ID       string                    `json:"id"`
		Packages map[string]map[string]any `json:"packages"`
	}
	if err := json.Unmarshal([]byte(stdout), &decoded); err != nil {
		t.Fatalf("stdout is not a listing: %v\n%s", err, stdout)
	}
	if decoded.ID != "net.example.vpm" || len(decoded.Packages) != 1 {
		t.Errorf("listing = %+v", decoded)
	}
	if gh.zipHits.Load() != 0 {
		t.Errorf("archive downloaded %d times with --no-sha256", gh.zipHits.Load())
	}
}

func TestGenerateCommandConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	gh := newFakeGitHub(t)
	src := writeFile(t, "source.json", testSource)
	cfg := writeFile(t, "config.toml", `
no-sha256 = true
quiet = true
endpoint = "`+gh.srv.URL+`/graphql"
retry-on = [429, 503]

[redis]
key = "custom"
`)

	_, _, err := execute(t, "--config", cfg, "generate", "-s", src)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gh.zipHits.Load() != 0 {
		t.Error("no-sha256 from the config file was not applied")
	}
}

func TestGenerateCommandRequiresSource(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, _, err := execute(t, "generate")
	if err == nil || !strings.Contains(err.Error(), "source") {
		t.Errorf("err = %v, want missing source flag", err)
	}
}

func TestGenerateCommandInvalidSource(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	gh := newFakeGitHub(t)
	src := writeFile(t, "source.json", strings.Replace(testSource, "net.example.vpm", "Net.Example", 1))

	_, _, err := execute(t, "generate", "-q", "-s", src, "--endpoint", gh.srv.URL+"/graphql")
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestGenerateCommandSourceMissingID(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	gh := newFakeGitHub(t)
	src := writeFile(t, "source.json", strings.Replace(testSource, `"id": "net.example.vpm",`, "", 1))

	_, _, err := execute(t, "generate", "-q", "-s", src, "--endpoint", gh.srv.URL+"/graphql")
	if !errors.Is(err, errors.ErrCodeValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
	var found bool
	for _, fe := range errors.Fields(err) {
		if fe.Field == "id" && fe.Constraint == "required" {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want id/required", errors.Fields(err))
	}
}

func TestGenerateCommandMissingSourceFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	_, _, err := execute(t, "generate", "-s", filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}
