package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wxyc/discogs-cache/internal/db"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func expectColumn(mock pgxmock.PgxPoolIface, exists bool) {
	mock.ExpectQuery("information_schema.columns").
		WithArgs("release", "master_id").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))
}

func expectDelete(mock pgxmock.PgxPoolIface, ids []int64, deleted int64) {
	mock.ExpectBegin()
	for _, table := range dependents {
		mock.ExpectExec("DELETE FROM \"" + table + "\"").WithArgs(ids).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
	}
	mock.ExpectExec("DELETE FROM release WHERE id = ANY").WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("DELETE", deleted))
	mock.ExpectCommit()
}

func memberRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "master_id", "country", "track_count"}).
		AddRow(int64(10), int64(500), "UK", 8).
		AddRow(int64(11), int64(500), "US", 5).
		AddRow(int64(12), int64(500), "US", 9).
		AddRow(int64(20), int64(600), "DE", 4).
		AddRow(int64(21), int64(600), "DE", 4)
}

func TestRun_DeletesLosersInBatches(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectColumn(mock, true)
	mock.ExpectQuery("information_schema.tables").WithArgs("release_track_count").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("LEFT JOIN release_track_count").WillReturnRows(memberRows())
	expectDelete(mock, []int64{10, 11}, 2)
	expectDelete(mock, []int64{21}, 1)
	mock.ExpectExec("DROP COLUMN IF EXISTS master_id").WillReturnResult(pgxmock.NewResult("ALTER", 0))

	stats, err := New(mock, Policy{HomeCountry: "US"}, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Groups: 2, Losers: 3, Deleted: 3}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_CountsTracksWhenCountTableMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectColumn(mock, true)
	mock.ExpectQuery("information_schema.tables").WithArgs("release_track_count").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("FROM release_track t").
		WillReturnRows(pgxmock.NewRows([]string{"id", "master_id", "country", "track_count"}))
	mock.ExpectExec("DROP COLUMN IF EXISTS master_id").WillReturnResult(pgxmock.NewResult("ALTER", 0))

	stats, err := New(mock, Policy{HomeCountry: "US"}, 100).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_NoopWhenGroupingColumnGone(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectColumn(mock, false)

	stats, err := New(mock, Policy{HomeCountry: "US"}, 100).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, stats.Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_DeleteFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectColumn(mock, true)
	mock.ExpectQuery("information_schema.tables").WithArgs("release_track_count").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("LEFT JOIN release_track_count").WillReturnRows(memberRows())
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM \"release_artist\"").
		WithArgs([]int64{10, 11, 21}).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err = New(mock, Policy{HomeCountry: "US"}, 10).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrStorage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReleases_Empty(t *testing.T) {
	n, err := DeleteReleases(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
