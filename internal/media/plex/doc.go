// Package plex adapts the Plex Media Server HTTP API to the media.Client
// contract. Plex reports playback offsets and durations in milliseconds;
// this package converts them to seconds at the boundary.
package plex
