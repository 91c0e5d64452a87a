package app

import (
	"os"
	"testing"

	"github.com/specialistvlad/actortheater/internal/testutil"
)

// SetupAppTest creates a new app instance for system testing. Logs and
// script output share the returned buffer.
func SetupAppTest(t *testing.T, appConfig *Config, opts ...Option) (*App, *testutil.SafeBuffer) {
	t.Helper()

	buf := &testutil.SafeBuffer{}
	appConfig.LogLevel = "debug"
	testApp := NewApp(buf, appConfig, opts...)

	t.Cleanup(func() {
		if os.Getenv("THEATER_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		}
	})

	return testApp, buf
}
