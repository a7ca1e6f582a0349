package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/blogscan/internal/store"
)

var columns = []string{
	"id", "domain", "source", "status", "submitted_at", "finished_at",
	"total", "succeeded", "failed", "error", "report_uri",
}

type statusArg string

func (s statusArg) Match(v any) bool {
	p, ok := v.(*string)
	return ok && p != nil && *p == string(s)
}

func sampleRecord() store.BatchRecord {
	submitted := time.Unix(1700000000, 0).UTC()
	return store.BatchRecord{
		ID:          uuid.MustParse("0190f2a4-6b1e-7c3d-8e9f-0a1b2c3d4e5f"),
		Domain:      "example.com",
		Source:      "sitemap",
		Status:      store.StatusCompleted,
		SubmittedAt: submitted,
		FinishedAt:  submitted.Add(42 * time.Second),
		Total:       3,
		Succeeded:   2,
		Failed:      1,
		ReportURI:   "gs://reports/batches/0190f2a4.json",
	}
}

func newMockStore(t *testing.T) (*BatchStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	s, err := NewBatchStoreWithPool(mock, "")
	require.NoError(t, err)
	return s, mock
}

func TestNewBatchStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewBatchStoreWithPool(nil, "batch_runs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewBatchStoreWithPool(mock, "runs; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	s, err := NewBatchStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "batch_runs", s.table)
}

func TestNewBatchStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewBatchStore(context.Background(), Config{})
	require.ErrorContains(t, err, "dsn is required")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS batch_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBatchUpserts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectExec("INSERT INTO batch_runs").
		WithArgs(
			rec.ID,
			rec.Domain,
			rec.Source,
			string(rec.Status),
			rec.SubmittedAt,
			rec.FinishedAt,
			rec.Total,
			rec.Succeeded,
			rec.Failed,
			rec.Error,
			rec.ReportURI,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveBatch(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveBatchErrors(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	require.ErrorContains(t, s.SaveBatch(context.Background(), store.BatchRecord{}), "record id is required")

	mock.ExpectExec("INSERT INTO batch_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := s.SaveBatch(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatch(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	rec := sampleRecord()

	mock.ExpectQuery("SELECT (.+) FROM batch_runs").
		WithArgs(rec.ID).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			rec.ID, rec.Domain, rec.Source, string(rec.Status), rec.SubmittedAt, rec.FinishedAt,
			rec.Total, rec.Succeeded, rec.Failed, rec.Error, rec.ReportURI,
		))

	got, err := s.GetBatch(context.Background(), rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatchNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM batch_runs").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetBatch(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBatches(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	rec := sampleRecord()
	older := sampleRecord()
	older.ID = uuid.New()
	older.SubmittedAt = rec.SubmittedAt.Add(-time.Hour)

	rows := pgxmock.NewRows(columns)
	for _, r := range []store.BatchRecord{rec, older} {
		rows.AddRow(r.ID, r.Domain, r.Source, string(r.Status), r.SubmittedAt, r.FinishedAt,
			r.Total, r.Succeeded, r.Failed, r.Error, r.ReportURI)
	}
	status := store.StatusCompleted
	mock.ExpectQuery("SELECT (.+) FROM batch_runs").
		WithArgs(statusArg("completed"), 10, 0).
		WillReturnRows(rows)

	got, err := s.ListBatches(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, rec.ID, got[0].ID)
	require.Equal(t, older.ID, got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBatchesQueryError(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM batch_runs").
		WithArgs(pgxmock.AnyArg(), 5, 5).
		WillReturnError(errors.New("timeout"))

	_, err := s.ListBatches(context.Background(), nil, 5, 5)
	require.ErrorContains(t, err, "failed to list batches")
	require.NoError(t, mock.ExpectationsWereMet())
}
