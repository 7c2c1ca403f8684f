// Package main hosts the usher CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against the local daemon API: server registration, session listing,
// catalog sync, and configuration scaffolding. Configuration resolution and
// API client construction are centralized in the command context so
// subcommands can focus on presentation.
package main
