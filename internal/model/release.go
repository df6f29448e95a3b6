package model

// Track is one entry of a release's tracklist.
type Track struct {
	Sequence int      `json:"sequence"`
	Position string   `json:"position,omitempty"`
	Title    string   `json:"title"`
	Duration string   `json:"duration,omitempty"`
	Artists  []string `json:"artists,omitempty"` // track-level credits
}

// CandidateRecord is a release from the external catalog as persisted in the
// primary store.
type CandidateRecord struct {
	ID      int64    `json:"id"`
	Title   string   `json:"title"`
	Year    int      `json:"year,omitempty"`
	Country string   `json:"country,omitempty"`
	Artists []string `json:"artists"` // release-level credits, primary first
	Tracks  []Track  `json:"tracks,omitempty"`

	// MasterID groups releases of the same underlying work. It only exists
	// until deduplication completes.
	MasterID *int64 `json:"master_id,omitempty"`
}

// PrimaryArtist returns the nominal release-level credit, or "" when the
// release has no credited artist.
func (r *CandidateRecord) PrimaryArtist() string {
	if len(r.Artists) == 0 {
		return ""
	}
	return r.Artists[0]
}

// TrackCount returns the number of tracks on the release.
func (r *CandidateRecord) TrackCount() int {
	return len(r.Tracks)
}
