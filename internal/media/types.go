package media

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ServiceType identifies a media server vendor.
type ServiceType string

const (
	ServicePlex           ServiceType = "plex"
	ServiceJellyfin       ServiceType = "jellyfin"
	ServiceEmby           ServiceType = "emby"
	ServiceKavita         ServiceType = "kavita"
	ServiceAudioBookshelf ServiceType = "audiobookshelf"
	ServiceKomga          ServiceType = "komga"
	ServiceRomM           ServiceType = "romm"
)

var serviceTypes = map[ServiceType]struct{}{
	ServicePlex:           {},
	ServiceJellyfin:       {},
	ServiceEmby:           {},
	ServiceKavita:         {},
	ServiceAudioBookshelf: {},
	ServiceKomga:          {},
	ServiceRomM:           {},
}

// ParseServiceType normalizes a vendor name, rejecting unknown values.
func ParseServiceType(value string) (ServiceType, error) {
	st := ServiceType(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := serviceTypes[st]; !ok {
		return "", fmt.Errorf("unknown service type %q", value)
	}
	return st, nil
}

var titleCaser = cases.Title(language.English)

// DisplayName returns a human-readable vendor name for UI output.
func (s ServiceType) DisplayName() string {
	switch s {
	case ServiceAudioBookshelf:
		return "AudioBookshelf"
	case ServiceRomM:
		return "RomM"
	default:
		return titleCaser.String(string(s))
	}
}

// Session is the normalized view of one active playback session. Adapters
// translate vendor payloads (Plex millisecond offsets, Jellyfin 100ns ticks)
// into this shape before it reaches the reconciler.
type Session struct {
	SessionKey     string
	UserID         string
	AltUserID      string
	UserName       string
	RatingKey      string
	MediaTitle     string
	MediaType      string
	SeriesTitle    string
	SeasonTitle    string
	Platform       string
	Product        string
	Player         string
	IPAddress      string
	IsLAN          bool
	OffsetSeconds  int64
	RuntimeSeconds int64
}

// RemoteUser is the normalized view of one user account on a media server.
type RemoteUser struct {
	ID         string
	AltID      string
	Username   string
	Email      string
	LibraryIDs []string
}

// RemoteLibrary is the normalized view of one content library on a media server.
type RemoteLibrary struct {
	ID        string
	Name      string
	Kind      string
	ItemCount int64
}
