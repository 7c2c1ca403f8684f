package jellyfin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"usher/internal/media"
)

// ticksPerSecond converts Jellyfin's 100ns tick offsets to seconds.
const ticksPerSecond = 10_000_000

// HTTPDoer describes the HTTP client used by the Jellyfin adapter.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one Jellyfin or Emby server instance.
type Client struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// New constructs a Jellyfin client bound to one server.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewWithDoer constructs a Jellyfin client with a caller-supplied HTTP doer.
func NewWithDoer(baseURL, apiKey string, doer HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client:  doer,
	}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build jellyfin request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("jellyfin %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("jellyfin %s returned %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode jellyfin %s response: %w", path, err)
	}
	return nil
}

// TestConnection probes the public system info endpoint.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	var info struct {
		ServerName string `json:"ServerName"`
		Version    string `json:"Version"`
	}
	if err := c.do(ctx, http.MethodGet, "/System/Info", &info); err != nil {
		return false, err.Error()
	}
	return true, fmt.Sprintf("Connected to %s (%s)", info.ServerName, info.Version)
}

type sessionEntry struct {
	ID             string `json:"Id"`
	UserID         string `json:"UserId"`
	UserName       string `json:"UserName"`
	Client         string `json:"Client"`
	AppVersion     string `json:"ApplicationVersion"`
	DeviceName     string `json:"DeviceName"`
	RemoteEndPoint string `json:"RemoteEndPoint"`
	IsLocal        bool   `json:"IsLocal"`
	NowPlayingItem *struct {
		ID           string `json:"Id"`
		Name         string `json:"Name"`
		Type         string `json:"Type"`
		SeriesName   string `json:"SeriesName"`
		SeasonName   string `json:"SeasonName"`
		RunTimeTicks int64  `json:"RunTimeTicks"`
	} `json:"NowPlayingItem"`
	PlayState struct {
		PositionTicks int64 `json:"PositionTicks"`
	} `json:"PlayState"`
}

// ActiveSessions returns sessions that are actually playing something.
// Jellyfin lists every connected client; entries without a NowPlayingItem
// are idle and dropped here.
func (c *Client) ActiveSessions(ctx context.Context) ([]media.Session, error) {
	var entries []sessionEntry
	if err := c.do(ctx, http.MethodGet, "/Sessions", &entries); err != nil {
		return nil, err
	}

	sessions := make([]media.Session, 0, len(entries))
	for _, entry := range entries {
		if entry.NowPlayingItem == nil || entry.ID == "" {
			continue
		}
		item := entry.NowPlayingItem
		sessions = append(sessions, media.Session{
			SessionKey:     entry.ID,
			UserID:         entry.UserID,
			UserName:       entry.UserName,
			RatingKey:      item.ID,
			MediaTitle:     item.Name,
			MediaType:      strings.ToLower(item.Type),
			SeriesTitle:    item.SeriesName,
			SeasonTitle:    item.SeasonName,
			Platform:       entry.Client,
			Product:        entry.AppVersion,
			Player:         entry.DeviceName,
			IPAddress:      entry.RemoteEndPoint,
			IsLAN:          entry.IsLocal,
			OffsetSeconds:  entry.PlayState.PositionTicks / ticksPerSecond,
			RuntimeSeconds: item.RunTimeTicks / ticksPerSecond,
		})
	}
	return sessions, nil
}

type userEntry struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Policy struct {
		EnabledFolders   []string `json:"EnabledFolders"`
		EnableAllFolders bool     `json:"EnableAllFolders"`
	} `json:"Policy"`
}

// Users returns all user accounts with their folder grants.
func (c *Client) Users(ctx context.Context) ([]media.RemoteUser, error) {
	var entries []userEntry
	if err := c.do(ctx, http.MethodGet, "/Users", &entries); err != nil {
		return nil, err
	}

	var allFolders []string
	users := make([]media.RemoteUser, 0, len(entries))
	for _, entry := range entries {
		libraryIDs := entry.Policy.EnabledFolders
		if entry.Policy.EnableAllFolders {
			if allFolders == nil {
				libraries, err := c.Libraries(ctx)
				if err != nil {
					return nil, err
				}
				allFolders = make([]string, 0, len(libraries))
				for _, lib := range libraries {
					allFolders = append(allFolders, lib.ID)
				}
			}
			libraryIDs = allFolders
		}
		users = append(users, media.RemoteUser{
			ID:         entry.ID,
			Username:   entry.Name,
			LibraryIDs: append([]string(nil), libraryIDs...),
		})
	}
	return users, nil
}

type virtualFolder struct {
	ItemID         string `json:"ItemId"`
	Name           string `json:"Name"`
	CollectionType string `json:"CollectionType"`
}

// Libraries returns the server's virtual folders.
func (c *Client) Libraries(ctx context.Context) ([]media.RemoteLibrary, error) {
	var folders []virtualFolder
	if err := c.do(ctx, http.MethodGet, "/Library/VirtualFolders", &folders); err != nil {
		return nil, err
	}

	libraries := make([]media.RemoteLibrary, 0, len(folders))
	for _, folder := range folders {
		libraries = append(libraries, media.RemoteLibrary{
			ID:   folder.ItemID,
			Name: folder.Name,
			Kind: folder.CollectionType,
		})
	}
	return libraries, nil
}

// RemoveUser deletes a user account from the server.
func (c *Client) RemoveUser(ctx context.Context, externalID string) error {
	return c.do(ctx, http.MethodDelete, "/Users/"+externalID, nil)
}
