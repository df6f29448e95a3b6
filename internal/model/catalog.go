package model

// TrackCredit is a track-level credit in the reference catalog.
type TrackCredit struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

// CatalogEntry is one record of the authoritative reference catalog.
type CatalogEntry struct {
	ID      int64         `json:"id"`
	Name    string        `json:"name"`
	Title   string        `json:"title"`
	Aliases []string      `json:"aliases,omitempty"`
	Tracks  []TrackCredit `json:"tracks,omitempty"`
}
