// Package jellyfin adapts the Jellyfin (and Emby-compatible) HTTP API to the
// media.Client contract. Jellyfin reports playback position and runtime in
// 100-nanosecond ticks; this package converts them to seconds at the boundary.
package jellyfin
