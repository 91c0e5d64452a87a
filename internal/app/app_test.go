package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/actortheater/internal/coordinator"
	"github.com/specialistvlad/actortheater/internal/hcl"
	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/internal/progress"
	"github.com/specialistvlad/actortheater/internal/testutil"
	"github.com/specialistvlad/actortheater/internal/yamlconfig"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

const theaterHCL = `
runtime {
  switch_interval = 1000
}

primary {
  script = "main.star"
}

worker "a" {
  script  = "a.star"
  globals = { greeting = "hello" }
}

worker "b" {
  script = "b.star"
}
`

func theaterFiles(extra map[string]string) map[string]string {
	files := map[string]string{
		"theater.hcl": theaterHCL,
		"a.star":      `print(greeting, "from a")`,
		"b.star":      `print(1 // 0)`,
		"main.star":   `print("primary done")`,
	}
	for k, v := range extra {
		files[k] = v
	}
	return files
}

func TestApp_RunTheater(t *testing.T) {
	t.Parallel()

	dir := testutil.WriteFiles(t, theaterFiles(nil))
	rec := &progress.Recorder{}
	cfg := &Config{ConfigPath: filepath.Join(dir, "theater.hcl")}
	a, buf := SetupAppTest(t, cfg,
		WithLoader(".hcl", hcl.NewLoader()),
		WithReporter(rec),
		WithSignals(make(chan os.Signal)),
	)

	require.NoError(t, a.Run(context.Background()))

	out := buf.String()
	require.Contains(t, out, "[a] hello from a\n")
	require.Contains(t, out, "[main] primary done\n")
	require.Contains(t, out, "floored division by zero", "worker b's failure must be logged")
	require.Equal(t, coordinator.StateFinalized.String(), a.State())
	require.Len(t, rec.Filter(progress.StageWorkerFinished), 2)
	require.Len(t, rec.Filter(progress.StagePrimaryFinished), 1)
}

func TestApp_RunYAMLTheater(t *testing.T) {
	t.Parallel()

	dir := testutil.WriteFiles(t, map[string]string{
		"theater.yaml": `
primary:
  script: main.star
workers:
  - name: solo
    script: solo.star
`,
		"solo.star": `print("solo")`,
		"main.star": `print("main")`,
	})
	cfg := &Config{ConfigPath: filepath.Join(dir, "theater.yaml")}
	a, buf := SetupAppTest(t, cfg,
		WithLoader(".yaml", yamlconfig.NewLoader()),
		WithSignals(make(chan os.Signal)),
	)

	require.NoError(t, a.Run(context.Background()))
	require.Contains(t, buf.String(), "[solo] solo\n")
	require.Contains(t, buf.String(), "[main] main\n")
}

func TestApp_CoreExtensions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	dir := testutil.WriteFiles(t, map[string]string{
		"theater.hcl": `
primary {
  script = "main.star"
}

worker "caller" {
  script  = "caller.star"
  globals = { url = "` + srv.URL + `" }
  isolation {
    extensions = ["http", "env"]
  }
}
`,
		"caller.star": `
load("http", "http")
load("env", "env")
print(http.get(url).body, env.get("THEATER_APP_TEST_MISSING", default = "-"))
`,
		"main.star": `print("main")`,
	})
	cfg := &Config{ConfigPath: filepath.Join(dir, "theater.hcl")}
	a, buf := SetupAppTest(t, cfg,
		WithLoader(".hcl", hcl.NewLoader()),
		WithSignals(make(chan os.Signal)),
	)

	require.NoError(t, a.Run(context.Background()))
	require.Contains(t, buf.String(), "[caller] pong -\n")
}

func TestApp_RunErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		files   map[string]string
		path    string
		wantErr string
	}{
		{
			name:    "no loader for extension",
			files:   map[string]string{"theater.toml": ""},
			path:    "theater.toml",
			wantErr: `no configuration loader for ".toml" files`,
		},
		{
			name:    "missing file",
			path:    "missing.hcl",
			wantErr: "failed to load configuration",
		},
		{
			name: "unknown lock mode",
			files: map[string]string{"theater.hcl": `
worker "a" {
  script = "a.star"
  isolation {
    lock = "global"
  }
}
primary {
  script = "main.star"
}
`},
			path:    "theater.hcl",
			wantErr: `worker "a"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dir := testutil.WriteFiles(t, tc.files)
			cfg := &Config{ConfigPath: filepath.Join(dir, tc.path)}
			a, _ := SetupAppTest(t, cfg, WithLoader(".hcl", hcl.NewLoader()))

			err := a.Run(context.Background())
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestApp_RunFailsOnGlobalInit(t *testing.T) {
	t.Parallel()

	dir := testutil.WriteFiles(t, theaterFiles(nil))
	cfg := &Config{ConfigPath: filepath.Join(dir, "theater.hcl")}
	a, _ := SetupAppTest(t, cfg,
		WithLoader(".hcl", hcl.NewLoader()),
		WithSignals(make(chan os.Signal)),
		WithExtensions(&interp.Extension{
			Name: "broken",
			Init: func() (starlark.StringDict, error) { return nil, errors.New("boom") },
		}),
	)

	err := a.Run(context.Background())
	require.ErrorIs(t, err, coordinator.ErrGlobalInit)
	require.NotEqual(t, coordinator.StateFinalized.String(), a.State())
}

func TestApp_HealthHandler(t *testing.T) {
	t.Parallel()

	a, _ := SetupAppTest(t, &Config{})

	rr := httptest.NewRecorder()
	a.healthHandler(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "OK starting\n", rr.Body.String())
}

func TestApp_HealthcheckServer(t *testing.T) {
	t.Parallel()

	dir := testutil.WriteFiles(t, theaterFiles(map[string]string{
		"main.star": `sleep(0.5)`,
	}))
	cfg := &Config{ConfigPath: filepath.Join(dir, "theater.hcl"), HealthcheckPort: 18767}
	a, _ := SetupAppTest(t, cfg,
		WithLoader(".hcl", hcl.NewLoader()),
		WithSignals(make(chan os.Signal)),
	)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://localhost:18767/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, <-done)
}

func TestNewConfig(t *testing.T) {
	t.Parallel()

	_, err := NewConfig(Config{HealthcheckPort: 70000})
	require.Error(t, err)
	_, err = NewConfig(Config{MaxThreads: -1})
	require.Error(t, err)
	_, err = NewConfig(Config{StatusURL: "http://localhost:3000", StatusNamespace: "runs"})
	require.ErrorContains(t, err, "must start with '/'")

	cfg, err := NewConfig(Config{ConfigPath: "theater.hcl", HealthcheckPort: 8080})
	require.NoError(t, err)
	require.Equal(t, "theater.hcl", cfg.ConfigPath)
}
