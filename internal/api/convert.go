package api

import (
	"usher/internal/catalog"
	"usher/internal/store"
)

// FromServer maps a stored server row to its API shape.
func FromServer(server *store.Server) ServerStatus {
	return ServerStatus{
		ID:              server.ID,
		Name:            server.Name,
		ServiceType:     string(server.ServiceType),
		DisplayType:     server.ServiceType.DisplayName(),
		BaseURL:         server.BaseURL,
		IsActive:        server.IsActive,
		IsOnline:        server.IsOnline,
		LastStatusError: server.LastStatusError,
		LastCheckedAt:   server.LastCheckedAt,
		LastSyncedAt:    server.LastSyncedAt,
	}
}

// FromStreamEvent maps an open stream event to its API shape. The username
// and server name come from the caller's caches since the event row stores
// only identifiers.
func FromStreamEvent(event *store.StreamEvent, serverName, username string) SessionInfo {
	return SessionInfo{
		ID:             event.ID,
		ServerID:       event.ServerID,
		ServerName:     serverName,
		SessionKey:     event.SessionKey,
		Username:       username,
		MediaTitle:     event.MediaTitle,
		MediaType:      event.MediaType,
		SeriesTitle:    event.SeriesTitle,
		Player:         event.Player,
		IPAddress:      event.IPAddress,
		IsLAN:          event.IsLAN,
		StartedAt:      event.StartedAt,
		OffsetSeconds:  event.OffsetSeconds,
		RuntimeSeconds: event.RuntimeSeconds,
	}
}

// FromSummary maps an aggregated sync pass to its API shape.
func FromSummary(summary catalog.Summary) SyncResponse {
	var response SyncResponse
	for _, outcome := range summary.Servers {
		result := SyncServerResult{
			ServerID:         outcome.ServerID,
			ServerName:       outcome.ServerName,
			Success:          outcome.Success(),
			LibrariesMessage: outcome.Libraries.Message,
			UsersMessage:     outcome.Users.Message,
			LibrariesAdded:   outcome.Libraries.Added,
			LibrariesUpdated: outcome.Libraries.Updated,
			LibrariesRemoved: outcome.Libraries.Removed,
			UsersAdded:       outcome.Users.Added,
			UsersUpdated:     outcome.Users.Updated,
			UsersRemoved:     outcome.Users.Removed,
		}
		result.Changes = append(result.Changes, outcome.Libraries.Changes...)
		result.Changes = append(result.Changes, outcome.Users.Changes...)
		response.Servers = append(response.Servers, result)
	}
	return response
}
