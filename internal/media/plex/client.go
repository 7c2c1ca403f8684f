package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"usher/internal/media"
)

// HTTPDoer describes the HTTP client used by the Plex adapter.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one Plex Media Server instance.
type Client struct {
	baseURL string
	token   string
	client  HTTPDoer
}

// New constructs a Plex client bound to one server.
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: timeout},
	}
}

// NewWithDoer constructs a Plex client with a caller-supplied HTTP doer.
func NewWithDoer(baseURL, token string, doer HTTPDoer) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  doer,
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build plex request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("plex %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode plex %s response: %w", path, err)
	}
	return nil
}

// TestConnection probes the server identity endpoint.
func (c *Client) TestConnection(ctx context.Context) (bool, string) {
	var payload struct {
		MediaContainer struct {
			Version string `json:"version"`
		} `json:"MediaContainer"`
	}
	if err := c.get(ctx, "/identity", &payload); err != nil {
		return false, err.Error()
	}
	return true, fmt.Sprintf("Connected to Plex %s", payload.MediaContainer.Version)
}

type sessionsResponse struct {
	MediaContainer struct {
		Metadata []sessionMetadata `json:"Metadata"`
	} `json:"MediaContainer"`
}

type sessionMetadata struct {
	SessionKey       string `json:"sessionKey"`
	RatingKey        string `json:"ratingKey"`
	Title            string `json:"title"`
	Type             string `json:"type"`
	GrandparentTitle string `json:"grandparentTitle"`
	ParentTitle      string `json:"parentTitle"`
	ViewOffset       int64  `json:"viewOffset"`
	Duration         int64  `json:"duration"`
	User             struct {
		ID    string `json:"id"`
		UUID  string `json:"uuid"`
		Title string `json:"title"`
	} `json:"User"`
	Player struct {
		Platform string `json:"platform"`
		Product  string `json:"product"`
		Title    string `json:"title"`
		Address  string `json:"address"`
		Local    bool   `json:"local"`
	} `json:"Player"`
}

// ActiveSessions returns the currently playing sessions, normalized to the
// common shape. Offsets arrive in milliseconds.
func (c *Client) ActiveSessions(ctx context.Context) ([]media.Session, error) {
	var payload sessionsResponse
	if err := c.get(ctx, "/status/sessions", &payload); err != nil {
		return nil, err
	}

	sessions := make([]media.Session, 0, len(payload.MediaContainer.Metadata))
	for _, meta := range payload.MediaContainer.Metadata {
		if meta.SessionKey == "" {
			continue
		}
		sessions = append(sessions, media.Session{
			SessionKey:     meta.SessionKey,
			UserID:         meta.User.ID,
			AltUserID:      meta.User.UUID,
			UserName:       meta.User.Title,
			RatingKey:      meta.RatingKey,
			MediaTitle:     meta.Title,
			MediaType:      meta.Type,
			SeriesTitle:    meta.GrandparentTitle,
			SeasonTitle:    meta.ParentTitle,
			Platform:       meta.Player.Platform,
			Product:        meta.Player.Product,
			Player:         meta.Player.Title,
			IPAddress:      meta.Player.Address,
			IsLAN:          meta.Player.Local,
			OffsetSeconds:  meta.ViewOffset / 1000,
			RuntimeSeconds: meta.Duration / 1000,
		})
	}
	return sessions, nil
}

type accountsResponse struct {
	MediaContainer struct {
		Account []struct {
			ID   int64  `json:"id"`
			UUID string `json:"uuid"`
			Name string `json:"name"`
		} `json:"Account"`
	} `json:"MediaContainer"`
}

// Users returns server accounts. Plex does not expose per-account library
// grants on this endpoint, so library ids come from the shared sections.
func (c *Client) Users(ctx context.Context) ([]media.RemoteUser, error) {
	var payload accountsResponse
	if err := c.get(ctx, "/accounts", &payload); err != nil {
		return nil, err
	}

	libraries, err := c.Libraries(ctx)
	if err != nil {
		return nil, err
	}
	libraryIDs := make([]string, 0, len(libraries))
	for _, lib := range libraries {
		libraryIDs = append(libraryIDs, lib.ID)
	}

	users := make([]media.RemoteUser, 0, len(payload.MediaContainer.Account))
	for _, account := range payload.MediaContainer.Account {
		if account.ID == 0 {
			// Plex reserves account id 0 for the unauthenticated placeholder.
			continue
		}
		users = append(users, media.RemoteUser{
			ID:         strconv.FormatInt(account.ID, 10),
			AltID:      account.UUID,
			Username:   account.Name,
			LibraryIDs: append([]string(nil), libraryIDs...),
		})
	}
	return users, nil
}

type sectionsResponse struct {
	MediaContainer struct {
		Directory []struct {
			Key   string `json:"key"`
			Title string `json:"title"`
			Type  string `json:"type"`
			Count int64  `json:"count"`
		} `json:"Directory"`
	} `json:"MediaContainer"`
}

// Libraries returns the server's library sections.
func (c *Client) Libraries(ctx context.Context) ([]media.RemoteLibrary, error) {
	var payload sectionsResponse
	if err := c.get(ctx, "/library/sections", &payload); err != nil {
		return nil, err
	}

	libraries := make([]media.RemoteLibrary, 0, len(payload.MediaContainer.Directory))
	for _, dir := range payload.MediaContainer.Directory {
		libraries = append(libraries, media.RemoteLibrary{
			ID:        dir.Key,
			Name:      dir.Title,
			Kind:      dir.Type,
			ItemCount: dir.Count,
		})
	}
	return libraries, nil
}

// RemoveUser revokes a shared account on the server.
func (c *Client) RemoveUser(ctx context.Context, externalID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/accounts/"+externalID, nil)
	if err != nil {
		return fmt.Errorf("build plex remove request: %w", err)
	}
	req.Header.Set("X-Plex-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("plex remove user %s: %w", externalID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("plex remove user %s returned %d", externalID, resp.StatusCode)
	}
	return nil
}
