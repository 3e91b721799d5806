package report

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockArchive(t *testing.T) (*Archive, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectPing()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS session_reports").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	a, err := NewArchiveWithDB(context.Background(), mock, nil)
	require.NoError(t, err)
	return a, mock
}

func TestArchiveStore(t *testing.T) {
	a, mock := newMockArchive(t)
	r := testReport("run-pg", time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC), 88, 50)

	mock.ExpectExec("INSERT INTO session_reports").
		WithArgs(r.RunID, r.StartTime, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, a.Store(context.Background(), r))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchiveRecent(t *testing.T) {
	a, mock := newMockArchive(t)
	r := testReport("run-pg", time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC), 88, 50)
	payload, err := json.Marshal(r)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT report FROM session_reports").
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"report"}).AddRow(payload))

	got, err := a.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-pg", got[0].RunID)
	assert.Equal(t, 50, got[0].Summary.TotalURLs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestArchivePingFailureSurfaces(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(assert.AnError)
	_, err = NewArchiveWithDB(context.Background(), mock, nil)
	require.Error(t, err)
}
