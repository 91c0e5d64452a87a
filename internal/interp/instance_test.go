package interp

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/actortheater/internal/scriptsrc"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestInstance_CreationValidation(t *testing.T) {
	t.Parallel()

	unsafeExt := &Extension{
		Name: "legacy",
		Init: func() (starlark.StringDict, error) {
			return starlark.StringDict{"legacy": starlark.String("v1")}, nil
		},
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{
			name:    "own lock with shared allocator",
			mutate:  func(c *Config) { c.Allocator = SharedAllocator },
			wantErr: ErrUnsupportedIsolation,
		},
		{
			name:    "daemon threads without threads",
			mutate: func(c *Config) {
				c.AllowThreads = false
				c.AllowDaemonThreads = true
			},
			wantErr: ErrUnsupportedIsolation,
		},
		{
			name:    "unknown extension",
			mutate:  func(c *Config) { c.Extensions = []string{"sockets"} },
			wantErr: ErrUnknownExtension,
		},
		{
			name:    "single-phase extension with compatibility check",
			mutate:  func(c *Config) { c.Extensions = []string{"legacy"} },
			wantErr: ErrIncompatibleExtension,
		},
		{
			name:   "unconvertible global",
			mutate: func(c *Config) { c.Globals = map[string]any{"ch": make(chan int)} },
		},
		{
			name:   "global shadowing a builtin",
			mutate: func(c *Config) { c.Globals = map[string]any{"sleep": 1} },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, rt, _ := newTestRuntime(t, scriptsrc.MapSource{}, WithExtensions(unsafeExt))

			cfg := IsolatedConfig()
			tc.mutate(&cfg)
			inst, err := rt.NewInstance(ctx, "w", cfg)
			require.Error(t, err)
			require.Nil(t, inst)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestInstance_SinglePhaseExtensionIsShared(t *testing.T) {
	t.Parallel()

	var inits atomic.Int32
	legacy := &Extension{
		Name: "legacy",
		Init: func() (starlark.StringDict, error) {
			inits.Add(1)
			return starlark.StringDict{"version": starlark.String("v1")}, nil
		},
	}
	ctx, rt, out := newTestRuntime(t, scriptsrc.MapSource{
		"use.star": `load("legacy", "version"); print(version)`,
	}, WithExtensions(legacy))
	require.Equal(t, int32(1), inits.Load())

	cfg := IsolatedConfig()
	cfg.CheckExtensions = false
	cfg.Extensions = []string{"legacy"}
	for _, name := range []string{"a", "b"} {
		inst, err := rt.NewInstance(ctx, name, cfg)
		require.NoError(t, err)
		res := inst.RunScript(ctx, "use.star")
		require.True(t, res.OK(), "unexpected result: %v", res.Err)
		require.NoError(t, inst.Destroy())
	}

	require.Equal(t, int32(1), inits.Load(), "single-phase extensions are initialized once per runtime")
	require.Contains(t, out.String(), "[a] v1\n")
	require.Contains(t, out.String(), "[b] v1\n")
}

func TestInstance_RunScriptOutcomes(t *testing.T) {
	t.Parallel()

	scripts := scriptsrc.MapSource{
		"ok.star":      `print("hello", 1 + 2)`,
		"div.star":     "x = 1\ny = x // 0\n",
		"main.star":    "def main():\n    print('from main')\nprint('top level')\n",
		"unbound.star": `print(undefined_name)`,
	}

	testCases := []struct {
		script      string
		wantOutcome Outcome
		wantOut     string
		wantErr     string
	}{
		{script: "ok.star", wantOutcome: Success, wantOut: "[w] hello 3\n"},
		{script: "main.star", wantOutcome: Success, wantOut: "[w] top level\n[w] from main\n"},
		{script: "div.star", wantOutcome: RuntimeFailure, wantErr: "division by zero"},
		{script: "unbound.star", wantOutcome: RuntimeFailure, wantErr: "undefined"},
		{script: "missing.star", wantOutcome: OpenFailure, wantErr: "missing.star"},
	}

	for _, tc := range testCases {
		t.Run(tc.script, func(t *testing.T) {
			t.Parallel()
			ctx, rt, out := newTestRuntime(t, scripts)

			inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
			require.NoError(t, err)
			res := inst.RunScript(ctx, tc.script)
			require.NoError(t, inst.Destroy(), "an instance is safe to destroy after any outcome")

			require.Equal(t, tc.wantOutcome, res.Outcome)
			require.Equal(t, tc.script, res.Script)
			if tc.wantErr == "" {
				require.NoError(t, res.Err)
				require.Equal(t, tc.wantOut, out.String())
				return
			}
			require.Error(t, res.Err)
			require.Contains(t, res.Err.Error(), tc.wantErr)
		})
	}
}

func TestInstance_OpenFailureIsNotExist(t *testing.T) {
	t.Parallel()

	ctx, rt, _ := newTestRuntime(t, scriptsrc.MapSource{})
	inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
	require.NoError(t, err)
	defer inst.Destroy()

	res := inst.RunScript(ctx, "nowhere.star")
	require.Equal(t, OpenFailure, res.Outcome)
	require.True(t, errors.Is(res.Err, os.ErrNotExist))
}

func TestInstance_OneScriptPerInstance(t *testing.T) {
	t.Parallel()

	ctx, rt, out := newTestRuntime(t, scriptsrc.MapSource{"a.star": `print("run")`})
	inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
	require.NoError(t, err)

	require.True(t, inst.RunScript(ctx, "a.star").OK())
	second := inst.RunScript(ctx, "a.star")
	require.Equal(t, RuntimeFailure, second.Outcome)
	require.ErrorIs(t, second.Err, ErrInstanceUsed)
	require.Equal(t, "[w] run\n", out.String(), "the second run must not execute anything")

	require.NoError(t, inst.Destroy())
	require.ErrorIs(t, inst.Destroy(), ErrInstanceDestroyed)
	require.ErrorIs(t, inst.RunScript(ctx, "a.star").Err, ErrInstanceDestroyed)
}

func TestInstance_Globals(t *testing.T) {
	t.Parallel()

	ctx, rt, out := newTestRuntime(t, scriptsrc.MapSource{
		"g.star":      `print(greeting, count, ratio, whole, tags, opts["depth"])`,
		"mutate.star": `tags.append("x")`,
	})
	cfg := IsolatedConfig()
	cfg.Globals = map[string]any{
		"greeting": "hi",
		"count":    int64(3),
		"ratio":    0.5,
		"whole":    1.0,
		"tags":     []any{"a", "b"},
		"opts":     map[string]any{"depth": 2},
	}

	inst, err := rt.NewInstance(ctx, "w", cfg)
	require.NoError(t, err)
	require.True(t, inst.RunScript(ctx, "g.star").OK())
	require.NoError(t, inst.Destroy())
	require.Equal(t, `[w] hi 3 0.5 1.0 ["a", "b"] 2`+"\n", out.String())

	inst, err = rt.NewInstance(ctx, "w2", cfg)
	require.NoError(t, err)
	res := inst.RunScript(ctx, "mutate.star")
	require.NoError(t, inst.Destroy())
	require.Equal(t, RuntimeFailure, res.Outcome, "host globals are frozen")
	require.Contains(t, res.Err.Error(), "frozen")
}

func TestInstance_Load(t *testing.T) {
	t.Parallel()

	scripts := scriptsrc.MapSource{
		"app/main.star":       `load("lib/util.star", "answer"); load("json", "json"); print(json.encode({"answer": answer}))`,
		"app/lib/util.star":   `load("consts.star", "base"); answer = base + 1`,
		"app/lib/consts.star": `base = 41`,
		"cycle/a.star":        `load("b.star", "b"); a = 1`,
		"cycle/b.star":        `load("a.star", "a"); b = 1`,
		"noext.star":          `load("math", "math")`,
	}

	t.Run("files and extensions", func(t *testing.T) {
		t.Parallel()
		ctx, rt, out := newTestRuntime(t, scripts)
		cfg := IsolatedConfig()
		cfg.Extensions = []string{"json"}
		inst, err := rt.NewInstance(ctx, "w", cfg)
		require.NoError(t, err)
		defer inst.Destroy()

		res := inst.RunScript(ctx, "app/main.star")
		require.True(t, res.OK(), "unexpected result: %v", res.Err)
		require.Equal(t, `[w] {"answer":42}`+"\n", out.String())
	})

	t.Run("cycle", func(t *testing.T) {
		t.Parallel()
		ctx, rt, _ := newTestRuntime(t, scripts)
		inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
		require.NoError(t, err)
		defer inst.Destroy()

		res := inst.RunScript(ctx, "cycle/a.star")
		require.Equal(t, RuntimeFailure, res.Outcome)
		require.Contains(t, res.Err.Error(), "cycle in load graph")
	})

	t.Run("extension not enabled", func(t *testing.T) {
		t.Parallel()
		ctx, rt, _ := newTestRuntime(t, scripts)
		inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
		require.NoError(t, err)
		defer inst.Destroy()

		res := inst.RunScript(ctx, "noext.star")
		require.Equal(t, RuntimeFailure, res.Outcome)
		require.Contains(t, res.Err.Error(), "not enabled")
	})
}

func TestInstance_ModuleCachePerAllocator(t *testing.T) {
	t.Parallel()

	scripts := scriptsrc.MapSource{
		"main.star":  `load("state.star", "items"); print(len(items))`,
		"state.star": "print(\"loading\")\nitems = [1, 2]\n",
	}

	testCases := []struct {
		name      string
		lock      LockMode
		alloc     AllocatorPolicy
		unchecked bool
		wantLoads int
	}{
		{name: "separate allocators execute modules per instance", lock: OwnLock, alloc: SeparateAllocator, wantLoads: 2},
		{name: "checked shared allocator keeps modules per instance", lock: SharedLock, alloc: SharedAllocator, wantLoads: 2},
		{name: "unchecked shared allocator executes modules once", lock: SharedLock, alloc: SharedAllocator, unchecked: true, wantLoads: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, rt, out := newTestRuntime(t, scripts)

			cfg := IsolatedConfig()
			cfg.Lock = tc.lock
			cfg.Allocator = tc.alloc
			cfg.CheckExtensions = !tc.unchecked
			for _, name := range []string{"a", "b"} {
				inst, err := rt.NewInstance(ctx, name, cfg)
				require.NoError(t, err)
				res := inst.RunScript(ctx, "main.star")
				require.NoError(t, inst.Destroy())
				require.True(t, res.OK(), "unexpected result: %v", res.Err)
			}

			lines := out.String()
			require.Equal(t, tc.wantLoads, strings.Count(lines, "loading"), "output:\n%s", lines)
			require.Equal(t, 2, strings.Count(lines, "] 2\n"))
			require.Contains(t, lines, "[a] loading\n")
			if tc.wantLoads == 2 {
				require.Contains(t, lines, "[b] loading\n", "each instance must execute the module itself")
			}
		})
	}
}

func TestInstance_SharedModuleActsAsCaller(t *testing.T) {
	t.Parallel()

	shared := func(allowExec bool) Config {
		cfg := IsolatedConfig()
		cfg.Lock = SharedLock
		cfg.Allocator = SharedAllocator
		cfg.CheckExtensions = false
		cfg.AllowExec = allowExec
		return cfg
	}
	scripts := scriptsrc.MapSource{
		"lib.star":  "def run():\n    return run_command(\"echo\", \"leaked\")\n\ndef nap():\n    sleep(0.01)\n",
		"exec.star": `load("lib.star", "run"); print("got", run().strip())`,
		"nap.star":  `load("lib.star", "nap"); nap(); print("rested")`,
	}

	t.Run("capabilities of the caller apply", func(t *testing.T) {
		t.Parallel()
		if _, err := exec.LookPath("echo"); err != nil {
			t.Skip("echo is not available")
		}
		ctx, rt, out := newTestRuntime(t, scripts)

		a, err := rt.NewInstance(ctx, "a", shared(true))
		require.NoError(t, err)
		res := a.RunScript(ctx, "exec.star")
		require.NoError(t, a.Destroy())
		require.True(t, res.OK(), "unexpected result: %v", res.Err)

		b, err := rt.NewInstance(ctx, "b", shared(false))
		require.NoError(t, err)
		res = b.RunScript(ctx, "exec.star")
		require.NoError(t, b.Destroy())
		require.Equal(t, RuntimeFailure, res.Outcome)
		require.Contains(t, res.Err.Error(), "exec is disabled")
		require.Equal(t, "[a] got leaked\n", out.String())
	})

	t.Run("first loader's lifetime does not leak", func(t *testing.T) {
		t.Parallel()
		ctx, rt, out := newTestRuntime(t, scripts)

		for _, name := range []string{"a", "b"} {
			inst, err := rt.NewInstance(ctx, name, shared(false))
			require.NoError(t, err)
			res := inst.RunScript(ctx, "nap.star")
			require.NoError(t, inst.Destroy())
			require.True(t, res.OK(), "%s: unexpected result: %v", name, res.Err)
		}
		require.Equal(t, "[a] rested\n[b] rested\n", out.String())
	})
}

func TestInstance_CrossInstanceLoadCycle(t *testing.T) {
	t.Parallel()

	ctx, rt, _ := newTestRuntime(t, scriptsrc.MapSource{
		"x.star":     "sleep(0.1)\nload(\"y.star\", \"y\")\nx = 1\n",
		"y.star":     "sleep(0.1)\nload(\"x.star\", \"x\")\ny = 1\n",
		"via_x.star": `load("x.star", "x")`,
		"via_y.star": `load("y.star", "y")`,
	})
	cfg := IsolatedConfig()
	cfg.Lock = SharedLock
	cfg.Allocator = SharedAllocator
	cfg.CheckExtensions = false

	results := make(chan Result, 2)
	for name, script := range map[string]string{"a": "via_x.star", "b": "via_y.star"} {
		inst, err := rt.NewInstance(ctx, name, cfg)
		require.NoError(t, err)
		go func() {
			defer inst.Destroy()
			results <- inst.RunScript(ctx, script)
		}()
	}

	for range 2 {
		select {
		case res := <-results:
			require.Equal(t, RuntimeFailure, res.Outcome)
			require.Contains(t, res.Err.Error(), "cycle in load graph")
		case <-time.After(5 * time.Second):
			t.Fatal("loads of mutually dependent modules never finished")
		}
	}
}

func TestInstance_SleepRejectsUnrepresentableDurations(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		src     string
		wantErr string
	}{
		{`sleep(1e300)`, "exceeds"},
		{`sleep(float("nan"))`, "finite"},
		{`sleep(float("inf"))`, "finite"},
		{`sleep(-1)`, "negative"},
		{`sleep("1")`, "want int or float"},
	}

	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			t.Parallel()
			ctx, rt, _ := newTestRuntime(t, scriptsrc.MapSource{"s.star": tc.src})
			inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
			require.NoError(t, err)
			defer inst.Destroy()

			start := time.Now()
			res := inst.RunScript(ctx, "s.star")
			require.Less(t, time.Since(start), 5*time.Second)
			require.Equal(t, RuntimeFailure, res.Outcome)
			require.Contains(t, res.Err.Error(), tc.wantErr)
		})
	}
}

func TestInstance_Threads(t *testing.T) {
	t.Parallel()

	scripts := scriptsrc.MapSource{
		"threads.star": `
def work(n):
    sleep(0.01)
    print("worker", n)

start_thread(work, 1)
start_thread(work, 2)
print("spawned")
`,
		"daemon.star": `
def forever():
    while True:
        sleep(0.01)

start_thread(forever, daemon=True)
print("started")
`,
	}

	t.Run("joined before RunScript returns", func(t *testing.T) {
		t.Parallel()
		ctx, rt, out := newTestRuntime(t, scripts)
		inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
		require.NoError(t, err)
		defer inst.Destroy()

		res := inst.RunScript(ctx, "threads.star")
		require.True(t, res.OK(), "unexpected result: %v", res.Err)
		lines := out.String()
		require.Contains(t, lines, "[w] spawned\n")
		require.Contains(t, lines, "[w] worker 1\n")
		require.Contains(t, lines, "[w] worker 2\n")
	})

	t.Run("threads disabled", func(t *testing.T) {
		t.Parallel()
		ctx, rt, _ := newTestRuntime(t, scripts)
		cfg := IsolatedConfig()
		cfg.AllowThreads = false
		inst, err := rt.NewInstance(ctx, "w", cfg)
		require.NoError(t, err)
		defer inst.Destroy()

		res := inst.RunScript(ctx, "threads.star")
		require.Equal(t, RuntimeFailure, res.Outcome)
		require.Contains(t, res.Err.Error(), ErrCapability.Error())
	})

	t.Run("daemon threads disabled", func(t *testing.T) {
		t.Parallel()
		ctx, rt, _ := newTestRuntime(t, scripts)
		inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
		require.NoError(t, err)
		defer inst.Destroy()

		res := inst.RunScript(ctx, "daemon.star")
		require.Equal(t, RuntimeFailure, res.Outcome)
		require.Contains(t, res.Err.Error(), "daemon threads are disabled")
	})

	t.Run("daemon stopped by destroy", func(t *testing.T) {
		t.Parallel()
		ctx, rt, out := newTestRuntime(t, scripts)
		cfg := IsolatedConfig()
		cfg.AllowDaemonThreads = true
		inst, err := rt.NewInstance(ctx, "w", cfg)
		require.NoError(t, err)

		res := inst.RunScript(ctx, "daemon.star")
		require.True(t, res.OK(), "unexpected result: %v", res.Err)
		require.Equal(t, "[w] started\n", out.String())

		destroyed := make(chan error, 1)
		go func() { destroyed <- inst.Destroy() }()
		select {
		case err := <-destroyed:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Destroy did not stop the daemon thread")
		}
	})
}

func TestInstance_InterruptWakesSleep(t *testing.T) {
	t.Parallel()

	ctx, rt, _ := newTestRuntime(t, scriptsrc.MapSource{"long.star": `sleep(30)`})
	inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
	require.NoError(t, err)
	defer inst.Destroy()

	go func() {
		time.Sleep(20 * time.Millisecond)
		inst.Interrupt("interrupted by signal")
	}()

	start := time.Now()
	res := inst.RunScript(ctx, "long.star")
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, RuntimeFailure, res.Outcome)
	require.Contains(t, res.Err.Error(), "interrupted")
}

func TestInstance_InterruptCancelsBusyLoop(t *testing.T) {
	t.Parallel()

	ctx, rt, _ := newTestRuntime(t, scriptsrc.MapSource{
		"spin.star": "def main():\n    n = 0\n    while True:\n        n += 1\n",
	})
	inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
	require.NoError(t, err)
	defer inst.Destroy()

	go func() {
		time.Sleep(20 * time.Millisecond)
		inst.Interrupt("interrupted by signal")
	}()

	res := inst.RunScript(ctx, "spin.star")
	require.Equal(t, RuntimeFailure, res.Outcome)
	require.Contains(t, res.Err.Error(), "interrupted by signal")
}

func TestInstance_Processes(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo is not available")
	}
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep is not available")
	}

	scripts := scriptsrc.MapSource{
		"exec.star": `print(run_command("echo", "hi").strip())`,
		"fork.star": `pid = start_process("sleep", "30"); print(pid > 0)`,
	}

	t.Run("exec allowed", func(t *testing.T) {
		t.Parallel()
		ctx, rt, out := newTestRuntime(t, scripts)
		cfg := IsolatedConfig()
		cfg.AllowExec = true
		inst, err := rt.NewInstance(ctx, "w", cfg)
		require.NoError(t, err)
		defer inst.Destroy()

		res := inst.RunScript(ctx, "exec.star")
		require.True(t, res.OK(), "unexpected result: %v", res.Err)
		require.Equal(t, "[w] hi\n", out.String())
	})

	t.Run("exec denied", func(t *testing.T) {
		t.Parallel()
		ctx, rt, _ := newTestRuntime(t, scripts)
		inst, err := rt.NewInstance(ctx, "w", IsolatedConfig())
		require.NoError(t, err)
		defer inst.Destroy()

		res := inst.RunScript(ctx, "exec.star")
		require.Equal(t, RuntimeFailure, res.Outcome)
		require.Contains(t, res.Err.Error(), "exec is disabled")
	})

	t.Run("started process reaped on destroy", func(t *testing.T) {
		t.Parallel()
		ctx, rt, out := newTestRuntime(t, scripts)
		cfg := IsolatedConfig()
		cfg.AllowFork = true
		inst, err := rt.NewInstance(ctx, "w", cfg)
		require.NoError(t, err)

		res := inst.RunScript(ctx, "fork.star")
		require.True(t, res.OK(), "unexpected result: %v", res.Err)
		require.Equal(t, "[w] True\n", out.String())

		start := time.Now()
		require.NoError(t, inst.Destroy())
		require.Less(t, time.Since(start), 5*time.Second)
	})
}

// rendezvous returns an extension whose wait() builtin blocks, without
// releasing the instance lock, until two callers have arrived or the timeout
// expires. It reports whether the peer arrived.
func rendezvous(timeout time.Duration) *Extension {
	var (
		mu      sync.Mutex
		arrived int
		both    = make(chan struct{})
	)
	wait := starlark.NewBuiltin("wait", func(_ *starlark.Thread, _ *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		mu.Lock()
		arrived++
		if arrived == 2 {
			close(both)
		}
		mu.Unlock()
		select {
		case <-both:
			return starlark.True, nil
		case <-time.After(timeout):
		}
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-both:
			return starlark.True, nil
		default:
			arrived--
			return starlark.False, nil
		}
	})
	return &Extension{
		Name:             "rendezvous",
		MultiInterpreter: true,
		Init: func() (starlark.StringDict, error) {
			return starlark.StringDict{"wait": wait}, nil
		},
	}
}

func TestInstance_LockModes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		lock     LockMode
		alloc    AllocatorPolicy
		wantMeet bool
	}{
		{name: "own locks run in parallel", lock: OwnLock, alloc: SeparateAllocator, wantMeet: true},
		{name: "shared lock serializes", lock: SharedLock, alloc: SeparateAllocator, wantMeet: false},
		{name: "shared lock and allocator serialize", lock: SharedLock, alloc: SharedAllocator, wantMeet: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, rt, out := newTestRuntime(t, scriptsrc.MapSource{
				"meet.star": `load("rendezvous", "wait"); print(wait())`,
			}, WithExtensions(rendezvous(300*time.Millisecond)))

			cfg := IsolatedConfig()
			cfg.Lock = tc.lock
			cfg.Allocator = tc.alloc
			cfg.Extensions = []string{"rendezvous"}

			var wg sync.WaitGroup
			for _, name := range []string{"a", "b"} {
				inst, err := rt.NewInstance(ctx, name, cfg)
				require.NoError(t, err)
				wg.Add(1)
				go func() {
					defer wg.Done()
					res := inst.RunScript(ctx, "meet.star")
					_ = inst.Destroy()
					if !res.OK() {
						t.Errorf("%s: %v", name, res.Err)
					}
				}()
			}
			wg.Wait()

			want := "False"
			if tc.wantMeet {
				want = "True"
			}
			require.Equal(t, 2, strings.Count(out.String(), "] "+want+"\n"), "output:\n%s", out.String())
		})
	}
}

func TestInstance_SharedLockInterleaves(t *testing.T) {
	t.Parallel()

	script := `
def main():
    n = 0
    for i in range(20000):
        n += i
    print(n)
`
	ctx, rt, out := newTestRuntime(t, scriptsrc.MapSource{"busy.star": script}, WithSwitchInterval(100))

	cfg := IsolatedConfig()
	cfg.Lock = SharedLock
	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c"} {
		inst, err := rt.NewInstance(ctx, name, cfg)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := inst.RunScript(ctx, "busy.star")
			_ = inst.Destroy()
			if !res.OK() {
				t.Errorf("%s: %v", name, res.Err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 3, strings.Count(out.String(), "199990000"))
}
