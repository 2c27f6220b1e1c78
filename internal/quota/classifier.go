// Plexcord - Discord Linked Roles for Plex Communities
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/plexcord

// Package quota maps watch hours to request tiers and pushes the matching
// request quotas to Overseerr.
package quota

import (
	"sort"

	"github.com/tomtom215/plexcord/internal/config"
)

// Tier is a request tier. Rank is the value published in the request_tier
// role-connection field; the default tier has rank 0.
type Tier struct {
	Name       string
	Rank       int
	MinHours   int
	MovieLimit int
	MovieDays  int
	TVLimit    int
	TVDays     int
}

// DefaultTier applies when no configured threshold is met.
var DefaultTier = Tier{Name: "default"}

// IsDefault reports whether t is the no-quota tier.
func (t Tier) IsDefault() bool {
	return t.Rank == 0
}

// TiersFromConfig converts configured tiers into ascending order with ranks
// starting at 1.
func TiersFromConfig(cfg []config.TierConfig) []Tier {
	tiers := make([]Tier, len(cfg))
	for i, c := range cfg {
		tiers[i] = Tier{
			Name:       c.Name,
			MinHours:   c.MinHours,
			MovieLimit: c.MovieLimit,
			MovieDays:  c.MovieDays,
			TVLimit:    c.TVLimit,
			TVDays:     c.TVDays,
		}
	}
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinHours < tiers[j].MinHours
	})
	for i := range tiers {
		tiers[i].Rank = i + 1
	}
	return tiers
}

// Classify returns the highest tier whose threshold is at most hours.
// tiers must be ascending; the last qualifying entry wins.
func Classify(hours int, tiers []Tier) Tier {
	selected := DefaultTier
	for _, tier := range tiers {
		if tier.MinHours <= hours {
			selected = tier
		}
	}
	return selected
}
