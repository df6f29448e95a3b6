// Package dedup collapses each master-release group to a single canonical
// release.
package dedup

import "strings"

// Member is one release of a master group.
type Member struct {
	ID         int64
	MasterID   int64
	Country    string
	TrackCount int
}

// Policy picks survivors. Rules apply in order until one member remains:
// home-region release first, then most tracks, then lowest id.
type Policy struct {
	HomeCountry string
}

func (p Policy) home(m Member) bool {
	want := strings.TrimSpace(p.HomeCountry)
	return want != "" && strings.EqualFold(strings.TrimSpace(m.Country), want)
}

// better reports whether a outranks b. The ordering is total.
func (p Policy) better(a, b Member) bool {
	if ha, hb := p.home(a), p.home(b); ha != hb {
		return ha
	}
	if a.TrackCount != b.TrackCount {
		return a.TrackCount > b.TrackCount
	}
	return a.ID < b.ID
}

// SelectSurvivor returns the canonical member of a non-empty group.
func (p Policy) SelectSurvivor(group []Member) Member {
	best := group[0]
	for _, m := range group[1:] {
		if p.better(m, best) {
			best = m
		}
	}
	return best
}

// Losers returns the ids of every member except the survivor.
func (p Policy) Losers(group []Member) []int64 {
	if len(group) < 2 {
		return nil
	}
	survivor := p.SelectSurvivor(group)
	out := make([]int64, 0, len(group)-1)
	for _, m := range group {
		if m.ID != survivor.ID {
			out = append(out, m.ID)
		}
	}
	return out
}

// Plan returns the losers of every group, in group order.
func (p Policy) Plan(groups [][]Member) []int64 {
	var out []int64
	for _, g := range groups {
		out = append(out, p.Losers(g)...)
	}
	return out
}
