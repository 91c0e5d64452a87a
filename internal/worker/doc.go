// Package worker runs one script in one isolated interpreter on one
// dedicated OS thread. A unit is single-shot: it creates an instance, runs
// its script, destroys the instance and exits. Failures are logged and
// reported, never retried.
package worker
