// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"testing"
)

func TestUserDirectoryCacheMemoizesUsers(t *testing.T) {
	var calls atomic.Int32
	server := newTautulliServer(t, map[string]http.HandlerFunc{
		"get_users": func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, `{"response":{"result":"success","message":null,"data":[
				{"user_id":2,"username":"Alice","friendly_name":"Al","deleted_user":0}]}}`)
		},
	})
	dir := NewUserDirectoryCache(newTestTautulliClient(server.URL), 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := FindUserByUsername(ctx, dir, "alice"); err != nil {
			t.Fatalf("FindUserByUsername: %v", err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("get_users calls = %d, want 1", got)
	}
	if s := dir.Stats(); s.Hits != 2 || s.Misses != 1 {
		t.Errorf("stats = %+v, want 2 hits and 1 miss", s)
	}
}

func TestUserDirectoryCacheRefetchesOnMiss(t *testing.T) {
	var calls atomic.Int32
	server := newTautulliServer(t, map[string]http.HandlerFunc{
		"get_users": func(w http.ResponseWriter, r *http.Request) {
			// The second fetch sees a newly shared user.
			if calls.Add(1) == 1 {
				fmt.Fprint(w, `{"response":{"result":"success","message":null,"data":[]}}`)
				return
			}
			fmt.Fprint(w, `{"response":{"result":"success","message":null,"data":[
				{"user_id":9,"username":"newcomer","deleted_user":0}]}}`)
		},
	})
	dir := NewUserDirectoryCache(newTestTautulliClient(server.URL), 0)
	ctx := context.Background()

	if _, err := dir.GetUsers(ctx); err != nil {
		t.Fatalf("GetUsers: %v", err)
	}
	u, err := FindUserByUsername(ctx, dir, "newcomer")
	if err != nil {
		t.Fatalf("FindUserByUsername: %v", err)
	}
	if u.UserID != 9 {
		t.Errorf("user id = %d, want 9", u.UserID)
	}

	if _, err := FindUserByUsername(ctx, dir, "still-missing"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("err = %v, want ErrUserNotFound", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("get_users calls = %d, want 3", got)
	}
}

func TestUserDirectoryCacheDoesNotCacheErrors(t *testing.T) {
	var calls atomic.Int32
	server := newTautulliServer(t, map[string]http.HandlerFunc{
		"get_users": func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		},
	})
	dir := NewUserDirectoryCache(newTestTautulliClient(server.URL), 0)

	for i := 0; i < 2; i++ {
		if _, err := dir.GetUsers(context.Background()); err == nil {
			t.Fatal("GetUsers succeeded against a failing server")
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("get_users calls = %d, want 2", got)
	}
}
