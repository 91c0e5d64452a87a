// Package app contains the application shell. It defines the App struct, its
// configuration and the run lifecycle: theater loading, logger, tracing,
// status feed and health endpoint wiring around one coordinator run,
// decoupled from any specific entrypoint like a CLI.
package app
