package config

// Model is the unified, format-agnostic representation of a theater file.
type Model struct {
	// BaseDir is the directory of the file the model was loaded from.
	BaseDir string
	Runtime RuntimeSettings
	Primary *ScriptSpec
	Workers []*WorkerSpec
}

// RuntimeSettings tunes the process-wide interpreter runtime.
type RuntimeSettings struct {
	// SwitchInterval is the number of execution steps between lock hand-offs
	// for shared-lock instances. Zero selects the runtime default.
	SwitchInterval uint64
	// MaxThreads caps concurrently alive worker threads. Zero is unlimited.
	MaxThreads int
}

// ScriptSpec points at a script resource.
type ScriptSpec struct {
	Script string
}

// WorkerSpec is one `worker` declaration.
type WorkerSpec struct {
	Name      string
	Script    string
	Globals   map[string]any
	Isolation *Isolation
}

// Isolation is the optional per-worker isolation block. Nil fields keep the
// isolated profile's defaults.
type Isolation struct {
	Lock               string
	Allocator          string
	AllowThreads       *bool
	AllowDaemonThreads *bool
	AllowFork          *bool
	AllowExec          *bool
	CheckExtensions    *bool
	Extensions         []string
}

// Default returns the built-in theater: workers "a" and "b" running a.star
// and b.star, and main.star as the primary script, all in dir.
func Default(dir string) *Model {
	return &Model{
		BaseDir: dir,
		Primary: &ScriptSpec{Script: "main.star"},
		Workers: []*WorkerSpec{
			{Name: "a", Script: "a.star"},
			{Name: "b", Script: "b.star"},
		},
	}
}
