package env_vars

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func execScript(t *testing.T, src string) starlark.StringDict {
	t.Helper()

	members, err := (&Module{}).Extension().Init()
	require.NoError(t, err)
	th := &starlark.Thread{Name: "test"}
	globals, err := starlark.ExecFile(th, "test.star", src, members)
	require.NoError(t, err)
	return globals
}

func TestEnv(t *testing.T) {
	t.Setenv("THEATER_ENV_TEST", "on stage")

	globals := execScript(t, `
value = env.get("THEATER_ENV_TEST")
missing = env.get("THEATER_ENV_TEST_MISSING", default = "fallback")
none = env.get("THEATER_ENV_TEST_MISSING")
all = env.environ()
`)

	require.Equal(t, starlark.String("on stage"), globals["value"])
	require.Equal(t, starlark.String("fallback"), globals["missing"])
	require.Equal(t, starlark.None, globals["none"])

	v, found, err := globals["all"].(*starlark.Dict).Get(starlark.String("THEATER_ENV_TEST"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, starlark.String("on stage"), v)
}

func TestEnv_BadArguments(t *testing.T) {
	members, err := (&Module{}).Extension().Init()
	require.NoError(t, err)

	_, err = starlark.ExecFile(&starlark.Thread{}, "bad.star", `env.get(1)`, members)
	require.Error(t, err)
	require.Contains(t, err.Error(), "env.get")
}
