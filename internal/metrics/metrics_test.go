package metrics

import (
	"context"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlectoTheFirst/esidx/internal/indexer"
)

type stubIndex struct {
	createErr error
	ids       []any
	failID    any
}

func (s *stubIndex) Name() string { return "products" }
func (s *stubIndex) Type() string { return "product" }
func (s *stubIndex) Accepts(any) bool { return true }
func (s *stubIndex) Exists(context.Context) (bool, error) { return true, nil }
func (s *stubIndex) Create(context.Context) error { return s.createErr }
func (s *stubIndex) Destroy(context.Context) error { return nil }
func (s *stubIndex) Upgrade(context.Context) error { return nil }
func (s *stubIndex) DocumentCount(context.Context) (int, error) { return len(s.ids), nil }
func (s *stubIndex) Add(context.Context, any) error { return nil }
func (s *stubIndex) Remove(context.Context, any) error { return nil }

func (s *stubIndex) DocumentIDs(context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for _, id := range s.ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

func (s *stubIndex) AddByID(_ context.Context, id any) error {
	if id == s.failID {
		return errors.New("boom")
	}
	return nil
}

func TestInstrument_LifecycleOperations(t *testing.T) {
	m := New()
	idx := m.Instrument(&stubIndex{createErr: errors.New("exists")})
	ctx := context.Background()

	assert.Error(t, idx.Create(ctx))
	require.NoError(t, idx.Destroy(ctx))
	require.NoError(t, idx.Upgrade(ctx))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("products", "create", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("products", "destroy", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("products", "upgrade", "success")))
	assert.Zero(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("products", "create")))
	assert.Positive(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("products", "destroy")))
}

func TestInstrument_ThroughRegistryPopulate(t *testing.T) {
	// Given an instrumented index with one failing document
	m := New()
	reg := indexer.New(indexer.WithObserver(m.Observe))
	reg.Register(m.Instrument(&stubIndex{ids: []any{int64(1), int64(2), int64(3)}, failID: int64(3)}))

	// When populated
	err := reg.Populate(context.Background(), "products", false)

	// Then documents are counted and the interrupted run is an error
	require.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.documents.WithLabelValues("products", "add", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documents.WithLabelValues("products", "add", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("products", "populate", "error")))
}

func TestInstrument_ConcurrentPopulateFailure(t *testing.T) {
	// Given a concurrent registry whose last document fails
	m := New()
	reg := indexer.New(indexer.WithWorkers(2), indexer.WithObserver(m.Observe))
	reg.Register(m.Instrument(&stubIndex{ids: []any{int64(1), int64(2)}, failID: int64(2)}))

	// When populated
	err := reg.Populate(context.Background(), "products", false)

	// Then the run is recorded as failed even though every id was dispatched
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("products", "populate", "error")))
	assert.Zero(t, testutil.ToFloat64(m.operations.WithLabelValues("products", "populate", "success")))
	assert.Zero(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("products", "populate")))
}

func TestInstrument_PopulateSuccess(t *testing.T) {
	m := New()
	reg := indexer.New(indexer.WithWorkers(2), indexer.WithObserver(m.Observe))
	reg.Register(m.Instrument(&stubIndex{ids: []any{int64(1), int64(2)}}))

	require.NoError(t, reg.Populate(context.Background(), "products", false))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("products", "populate", "success")))
	assert.Positive(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("products", "populate")))
}

func TestInstrument_KeepsIdentity(t *testing.T) {
	idx := New().Instrument(&stubIndex{})

	assert.Equal(t, "products", idx.Name())
	assert.Equal(t, "product", idx.Type())
}

func TestPush(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.Method + " " + r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	m := New()
	m.Observe("products", "create", time.Now(), nil)

	require.NoError(t, m.Push(context.Background(), srv.URL, "esidx"))

	assert.Equal(t, "PUT /metrics/job/esidx", gotPath)
	assert.Contains(t, gotBody, "esidx_operations_total")
}

func TestPush_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	err := New().Push(context.Background(), srv.URL, "esidx")

	assert.ErrorContains(t, err, "push metrics to")
}
