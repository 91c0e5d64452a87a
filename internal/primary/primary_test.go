package primary

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/internal/progress"
	"github.com/specialistvlad/actortheater/internal/scriptsrc"
	"github.com/specialistvlad/actortheater/internal/testutil"
	"github.com/stretchr/testify/require"
)

var scripts = scriptsrc.MapSource{
	"main.star":  `print("primary on", interp.name)`,
	"sleep.star": `sleep(30)`,
	"boom.star":  `fail("boom")`,
}

func newRuntime(t *testing.T) (context.Context, *interp.Runtime, *testutil.SafeBuffer, *testutil.SafeBuffer) {
	t.Helper()

	ctx, logs := testutil.LogContext(t)
	out := &testutil.SafeBuffer{}
	rt := interp.NewRuntime(interp.WithSource(scripts), interp.WithOutput(out))
	require.NoError(t, rt.Init(ctx))
	t.Cleanup(func() { _ = rt.Finalize(ctx) })
	return ctx, rt, out, logs
}

func TestController_RunOutcomes(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		script      string
		wantOutcome interp.Outcome
		wantLog     string
	}{
		{script: "main.star", wantOutcome: interp.Success, wantLog: "Primary script finished."},
		{script: "boom.star", wantOutcome: interp.RuntimeFailure, wantLog: "Primary script failed."},
		{script: "none.star", wantOutcome: interp.OpenFailure, wantLog: "Failed to open primary script."},
	}

	for _, tc := range testCases {
		t.Run(tc.script, func(t *testing.T) {
			t.Parallel()
			ctx, rt, _, logs := newRuntime(t)
			rec := &progress.Recorder{}

			c := New(rt, tc.script, nil, rec)
			defer c.Close()
			res := c.Run(ctx)

			require.Equal(t, tc.wantOutcome, res.Outcome)
			require.Contains(t, logs.String(), tc.wantLog)
			require.Equal(t, []progress.Stage{progress.StagePrimaryStarted, progress.StagePrimaryFinished}, rec.Stages())
		})
	}
}

func TestController_RunsOnMainInstance(t *testing.T) {
	t.Parallel()

	ctx, rt, out, _ := newRuntime(t)
	c := New(rt, "main.star", nil, nil)
	defer c.Close()

	require.True(t, c.Run(ctx).OK())
	require.Equal(t, "[main] primary on main\n", out.String())
	require.Equal(t, 0, rt.Live(), "the primary does not create worker instances")
}

func TestController_SignalInterruptsScript(t *testing.T) {
	t.Parallel()

	ctx, rt, _, logs := newRuntime(t)
	signals := make(chan os.Signal, 1)
	rec := &progress.Recorder{}
	c := New(rt, "sleep.star", signals, rec)
	defer c.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		signals <- os.Interrupt
	}()

	start := time.Now()
	res := c.Run(ctx)
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, interp.RuntimeFailure, res.Outcome)
	require.Contains(t, res.Err.Error(), "interrupted")
	require.Contains(t, logs.String(), "Signal received, interrupting primary script.")
	require.Len(t, rec.Filter(progress.StagePrimarySignalled), 1)
}

func TestController_SignalAfterFinishIsLogged(t *testing.T) {
	t.Parallel()

	ctx, rt, _, logs := newRuntime(t)
	signals := make(chan os.Signal, 1)
	c := New(rt, "main.star", signals, nil)

	require.True(t, c.Run(ctx).OK())
	signals <- os.Interrupt
	require.Eventually(t, func() bool {
		return testutil.Contains(logs, "Signal received after the primary script finished.")
	}, 2*time.Second, 5*time.Millisecond)
	c.Close()
	c.Close()
}

func TestController_MainUnavailable(t *testing.T) {
	t.Parallel()

	rt := interp.NewRuntime(interp.WithSource(scripts))
	c := New(rt, "main.star", nil, nil)
	defer c.Close()

	res := c.Run(context.Background())
	require.Equal(t, interp.CreationFailure, res.Outcome)
	require.ErrorIs(t, res.Err, interp.ErrNotInitialized)
}
