package match

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/wxyc/discogs-cache/internal/model"
)

// ReviewItem is one release an operator should look at.
type ReviewItem struct {
	ReleaseID int64
	Artist    string
	Title     string
	EntryID   *int64
	Score     float64
	Reason    string
}

// ArtistReview groups REVIEW releases by nominal artist so mapping
// decisions can be made per artist.
type ArtistReview struct {
	Artist   string
	Releases []ReviewItem
}

// Report summarizes a classification run.
type Report struct {
	Total   int
	Counts  map[model.Verdict]int
	Reasons map[string]int
	Review  []ReviewItem
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{
		Counts:  make(map[model.Verdict]int),
		Reasons: make(map[string]int),
	}
}

// Add records one outcome.
func (r *Report) Add(o Outcome) {
	r.Total++
	r.Counts[o.Result.Verdict]++
	r.Reasons[o.Result.Reason]++
	if o.Result.Verdict == model.VerdictReview {
		r.Review = append(r.Review, ReviewItem{
			ReleaseID: o.Result.ReleaseID,
			Artist:    o.Artist,
			Title:     o.Title,
			EntryID:   o.Result.EntryID,
			Score:     o.Result.Score,
			Reason:    o.Result.Reason,
		})
	}
}

// Retained is the number of KEEP and REVIEW releases.
func (r *Report) Retained() int {
	return r.Counts[model.VerdictKeep] + r.Counts[model.VerdictReview]
}

// ReviewByArtist groups REVIEW items by artist, largest group first, then
// by artist name; releases within a group are ordered by id.
func (r *Report) ReviewByArtist() []ArtistReview {
	groups := make(map[string][]ReviewItem)
	for _, item := range r.Review {
		groups[item.Artist] = append(groups[item.Artist], item)
	}
	out := make([]ArtistReview, 0, len(groups))
	for artist, items := range groups {
		sort.Slice(items, func(i, j int) bool { return items[i].ReleaseID < items[j].ReleaseID })
		out = append(out, ArtistReview{Artist: artist, Releases: items})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Releases) != len(out[j].Releases) {
			return len(out[i].Releases) > len(out[j].Releases)
		}
		return out[i].Artist < out[j].Artist
	})
	return out
}

// Render writes the verdict summary and the REVIEW list as tables.
func (r *Report) Render(w io.Writer) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.SetStyle(table.StyleRounded)
	summary.SetTitle("Classification")
	summary.AppendHeader(table.Row{"Verdict", "Releases", "Share"})
	for _, v := range []model.Verdict{model.VerdictKeep, model.VerdictReview, model.VerdictPrune} {
		summary.AppendRow(table.Row{string(v), r.Counts[v], share(r.Counts[v], r.Total)})
	}
	summary.AppendFooter(table.Row{"total", r.Total, ""})
	summary.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	summary.Render()

	groups := r.ReviewByArtist()
	if len(groups) == 0 {
		return
	}

	review := table.NewWriter()
	review.SetOutputMirror(w)
	review.SetStyle(table.StyleRounded)
	review.SetTitle(fmt.Sprintf("Review: %d releases, %d artists", len(r.Review), len(groups)))
	review.AppendHeader(table.Row{"Artist", "Release", "Title", "Entry", "Score"})
	for _, g := range groups {
		for _, item := range g.Releases {
			entry := "-"
			if item.EntryID != nil {
				entry = fmt.Sprintf("%d", *item.EntryID)
			}
			review.AppendRow(table.Row{g.Artist, item.ReleaseID, item.Title, entry, fmt.Sprintf("%.2f", item.Score)})
		}
	}
	review.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, AutoMerge: true},
		{Number: 2, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	review.Render()
}

func share(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(n)*100/float64(total))
}
