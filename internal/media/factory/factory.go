// Package factory builds concrete media clients from cached server records.
package factory

import (
	"fmt"
	"time"

	"usher/internal/media"
	"usher/internal/media/jellyfin"
	"usher/internal/media/plex"
)

// New returns the vendor adapter for a server. Emby servers use the Jellyfin
// adapter; the two share a wire API. Service types without an adapter yield
// an error so callers can skip the server without failing the whole pass.
func New(serviceType media.ServiceType, baseURL, apiKey string, timeout time.Duration) (media.Client, error) {
	switch serviceType {
	case media.ServicePlex:
		return plex.New(baseURL, apiKey, timeout), nil
	case media.ServiceJellyfin, media.ServiceEmby:
		return jellyfin.New(baseURL, apiKey, timeout), nil
	default:
		return nil, fmt.Errorf("no client implementation for service type %q", serviceType)
	}
}
