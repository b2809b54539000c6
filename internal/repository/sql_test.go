package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open("", filepath.Join(t.TempDir(), "source.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		price REAL,
		status INTEGER NOT NULL DEFAULT 1
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO products (id, name, price, status) VALUES
		(3, 'lamp', 19.5, 1),
		(1, 'desk', 120, 1),
		(2, 'chair', 45, 0)`)
	require.NoError(t, err)
	return db
}

func TestNewSQL_LoadsColumns(t *testing.T) {
	db := newTestDB(t)

	repo, err := NewSQL(context.Background(), db, Source{Table: "products"}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "price", "status"}, repo.Columns())
	assert.Equal(t, "products", repo.Table())
}

func TestNewSQL_RejectsBadIdentifiers(t *testing.T) {
	db := newTestDB(t)

	_, err := NewSQL(context.Background(), db, Source{Table: "products; DROP TABLE x"}, nil)
	assert.Error(t, err)

	_, err = NewSQL(context.Background(), db, Source{Table: "products", IDColumn: "id--"}, nil)
	assert.Error(t, err)
}

func TestSQL_IDsStreamsInOrder(t *testing.T) {
	repo, err := NewSQL(context.Background(), newTestDB(t), Source{Table: "products"}, nil)
	require.NoError(t, err)

	var ids []any
	for id, err := range repo.IDs(context.Background()) {
		require.NoError(t, err)
		ids = append(ids, id)
	}

	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, ids)
}

func TestSQL_WhereFilter(t *testing.T) {
	repo, err := NewSQL(context.Background(), newTestDB(t), Source{Table: "products", Where: "status = 1"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var ids []any
	for id, err := range repo.IDs(ctx) {
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Equal(t, []any{int64(1), int64(3)}, ids)

	_, err = repo.Get(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQL_GetWhileIterating(t *testing.T) {
	repo, err := NewSQL(context.Background(), newTestDB(t), Source{Table: "products"}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	var names []string
	for id, err := range repo.IDs(ctx) {
		require.NoError(t, err)
		doc, err := repo.Get(ctx, id)
		require.NoError(t, err)
		names = append(names, doc.(*Record).Fields["name"].(string))
	}

	assert.Equal(t, []string{"desk", "chair", "lamp"}, names)
}

func TestSQL_Get(t *testing.T) {
	repo, err := NewSQL(context.Background(), newTestDB(t), Source{Table: "products"}, nil)
	require.NoError(t, err)

	doc, err := repo.Get(context.Background(), int64(3))
	require.NoError(t, err)

	rec := doc.(*Record)
	assert.Equal(t, int64(3), rec.ID)
	assert.Equal(t, "products", rec.Source)
	assert.Equal(t, "lamp", rec.Fields["name"])
	assert.Equal(t, 19.5, rec.Fields["price"])
	assert.Equal(t, []string{"id", "name", "price", "status"}, rec.AttributeNames())

	_, err = repo.Get(context.Background(), 99)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "record 99 not found in products", nf.Error())
}

func TestSQL_StopIteratingEarly(t *testing.T) {
	repo, err := NewSQL(context.Background(), newTestDB(t), Source{Table: "products"}, nil)
	require.NoError(t, err)

	for id, err := range repo.IDs(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
		break
	}

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRecord_Attributes(t *testing.T) {
	rec := NewRecord("products", nil)

	rec.SetAttributes(map[string]any{"id": 7.0, "name": "x"})

	assert.Equal(t, int64(7), rec.ID)
	assert.Equal(t, int64(7), rec.DocumentID())
	assert.Equal(t, []string{"id", "name"}, rec.AttributeNames())
	v, ok := rec.Attribute("name")
	assert.True(t, ok)
	assert.Equal(t, "x", v)

	body := rec.DocumentBody()
	body["name"] = "changed"
	assert.Equal(t, "x", rec.Fields["name"])
}
