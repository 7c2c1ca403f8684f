// Package daemon coordinates the long-running usher process.
//
// It wires configuration, the cache store, the session reconciler, the
// catalog syncer, and the expiration sweeper into a single lifecycle with
// flock-based locking to prevent multiple instances, and serves the local
// HTTP API the CLI talks to.
//
// Keep orchestration logic here: the individual background jobs live in
// their own packages while the daemon focuses on startup, shutdown, and
// high level coordination.
package daemon
