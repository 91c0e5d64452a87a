package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"

	"github.com/specialistvlad/actortheater/internal/config"
	"github.com/specialistvlad/actortheater/internal/coordinator"
	"github.com/specialistvlad/actortheater/internal/ctxlog"
	"github.com/specialistvlad/actortheater/internal/interp"
	"github.com/specialistvlad/actortheater/internal/progress"
	"github.com/specialistvlad/actortheater/internal/scriptsrc"
)

// Version is reported in traces. It is set at build time.
var Version = "dev"

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	config  *Config
	loaders map[string]config.Loader

	source     scriptsrc.Source
	extensions []*interp.Extension
	reporter   progress.Reporter
	signals    <-chan os.Signal

	ctx        context.Context
	httpServer *http.Server
	coord      atomic.Pointer[coordinator.Coordinator]
}

// Option configures an App.
type Option func(*App)

// WithLoader registers a configuration loader for a file extension such as
// ".hcl".
func WithLoader(ext string, loader config.Loader) Option {
	return func(a *App) { a.loaders[ext] = loader }
}

// WithSource replaces the script source. Tests use it to serve scripts from
// memory.
func WithSource(src scriptsrc.Source) Option {
	return func(a *App) { a.source = src }
}

// WithExtensions registers extra interpreter extensions.
func WithExtensions(exts ...*interp.Extension) Option {
	return func(a *App) { a.extensions = append(a.extensions, exts...) }
}

// WithReporter adds a progress reporter next to the optional status feed.
func WithReporter(r progress.Reporter) Option {
	return func(a *App) { a.reporter = r }
}

// WithSignals replaces process signal delivery with ch.
func WithSignals(ch <-chan os.Signal) Option {
	return func(a *App) { a.signals = ch }
}

// NewApp is the constructor for the main application. It returns an App
// with its own isolated logger; nothing is loaded or started until Run.
func NewApp(outW io.Writer, appConfig *Config, opts ...Option) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	a := &App{
		outW:    outW,
		logger:  logger,
		config:  appConfig,
		loaders: make(map[string]config.Loader),
		source:  scriptsrc.New(),
		ctx:     ctxlog.WithLogger(context.Background(), logger),
	}
	for _, opt := range opts {
		opt(a)
	}
	logger.Debug("Logger configured successfully.")
	return a
}

// State reports the coordinator state, or "starting" before the run began.
func (a *App) State() string {
	if c := a.coord.Load(); c != nil {
		return c.State().String()
	}
	return "starting"
}
