// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package tautulli holds the response envelopes of the Tautulli API v2
// commands used for subscriber sync.
package tautulli

// TautulliUserWatchTimeStats represents the API response from get_user_watch_time_stats endpoint
type TautulliUserWatchTimeStats struct {
	Response TautulliUserWatchTimeStatsResponse `json:"response"`
}

type TautulliUserWatchTimeStatsResponse struct {
	Result  string                         `json:"result"`
	Message *string                        `json:"message,omitempty"`
	Data    []TautulliUserWatchTimeStatRow `json:"data"`
}

type TautulliUserWatchTimeStatRow struct {
	QueryDays  int   `json:"query_days"`
	TotalTime  int64 `json:"total_time"`  // Total watch time in seconds
	TotalPlays int   `json:"total_plays"` // Total number of plays
}

// AllTime returns the row covering the whole history (query_days=0), falling
// back to the first row when Tautulli omits the all-time bucket.
func (r *TautulliUserWatchTimeStatsResponse) AllTime() (TautulliUserWatchTimeStatRow, bool) {
	if len(r.Data) == 0 {
		return TautulliUserWatchTimeStatRow{}, false
	}
	for _, row := range r.Data {
		if row.QueryDays == 0 {
			return row, true
		}
	}
	return r.Data[0], true
}

// TautulliUsers represents the API response from Tautulli's get_users endpoint
// Returns a list of all users that have accessed the Plex server
type TautulliUsers struct {
	Response TautulliUsersResponse `json:"response"`
}

type TautulliUsersResponse struct {
	Result  string             `json:"result"`
	Message *string            `json:"message,omitempty"`
	Data    []TautulliUserData `json:"data"`
}

type TautulliUserData struct {
	UserID       int    `json:"user_id"`
	Username     string `json:"username"`
	FriendlyName string `json:"friendly_name"`
	Email        string `json:"email"`
	IsActive     int    `json:"is_active"`
	DeletedUser  int    `json:"deleted_user"`
}

// TautulliServerStatus represents the response of the arnold command used
// as a connectivity check.
type TautulliServerStatus struct {
	Response struct {
		Result  string  `json:"result"`
		Message *string `json:"message,omitempty"`
	} `json:"response"`
}
