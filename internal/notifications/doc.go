// Package notifications delivers background-job events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when no topic is set. Sync
// summaries, expiration removals, and error alerts are individually
// toggleable so a noisy deployment can keep only what it cares about.
//
// Extend this package if you need alternative transports; the background jobs
// depend only on the simple Service interface.
package notifications
