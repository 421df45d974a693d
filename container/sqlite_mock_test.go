package container

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/nstree/errors"
)

// Sqlmock tests cover the I/O failure paths a real SQLite file will not
// produce on demand: every failure must roll back and surface the cause.

var (
	kindQuery = regexp.QuoteMeta(`SELECT kind FROM entries WHERE path = ?`)
	seqQuery  = regexp.QuoteMeta(`SELECT COALESCE(MAX(seq), 0) + 1 FROM entries`)
)

func newMockStore(t *testing.T) (*SQLiteStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newSQLiteStore(conn, "mock.h5db", zap.NewNop().Sugar()), mock
}

func TestCreateGroup_InsertFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(kindQuery).WithArgs("/").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("group"))
	mock.ExpectQuery(kindQuery).WithArgs("/run1").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}))
	mock.ExpectQuery(seqQuery).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO entries`).
		WithArgs("/run1", "/", "run1", "group", sqlmock.AnyArg(), sqlmock.AnyArg(), int64(7), sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.CreateGroup(context.Background(), "/", "run1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Contains(t, err.Error(), "insert /run1")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateLeaf_CommitFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(kindQuery).WithArgs("/data").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("group"))
	mock.ExpectQuery(kindQuery).WithArgs("/data/x").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}))
	mock.ExpectQuery(seqQuery).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(3))
	mock.ExpectExec(`INSERT INTO entries`).
		WithArgs("/data/x", "/data", "x", "leaf", "[4,4]", "float32", int64(3), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err := store.CreateLeaf(context.Background(), "/data", "x", []int{4, 4}, "float32")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create leaf: commit")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_ExecFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(kindQuery).WithArgs("/a").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("group"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM entries WHERE path = ? OR substr(path, 1, ?) = ?`)).
		WithArgs("/a", 3, "/a/").
		WillReturnError(errors.New("attempt to write a readonly database"))
	mock.ExpectRollback()

	err := store.Delete(context.Background(), "/a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readonly")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMove_SubtreeRewriteFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(kindQuery).WithArgs("/a").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("group"))
	mock.ExpectQuery(kindQuery).WithArgs("/x").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("group"))
	mock.ExpectQuery(kindQuery).WithArgs("/x/a").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}))
	mock.ExpectQuery(seqQuery).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(9))
	mock.ExpectExec(`UPDATE entries SET path = \?, parent = \?, name = \?, seq = \? WHERE path = \?`).
		WithArgs("/x/a", "/x", "a", int64(9), "/a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE entries\s+SET path = \? \|\| substr`).
		WithArgs("/x/a", 3, "/x/a", 3, 3, "/a/").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err := store.Move(context.Background(), "/a", "/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relocate subtree of /a")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_QueryFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(kindQuery).WithArgs("/").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("group"))
	mock.ExpectQuery(`SELECT name, path, kind, shape, dtype FROM entries`).
		WithArgs("/").
		WillReturnError(errors.New("database disk image is malformed"))

	_, err := store.List(context.Background(), "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestList_BadShapeIsReported(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(kindQuery).WithArgs("/").
		WillReturnRows(sqlmock.NewRows([]string{"kind"}).AddRow("group"))
	mock.ExpectQuery(`SELECT name, path, kind, shape, dtype FROM entries`).
		WithArgs("/").
		WillReturnRows(sqlmock.NewRows([]string{"name", "path", "kind", "shape", "dtype"}).
			AddRow("x", "/x", "leaf", "{not json", "f4"))

	_, err := store.List(context.Background(), "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode shape of /x")

	assert.NoError(t, mock.ExpectationsWereMet())
}
