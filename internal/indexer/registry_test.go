package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	name    string
	exists  bool
	ids     []any
	idsErr  error
	count   int
	accepts func(any) bool

	failOn    int64
	createErr error

	mu    sync.Mutex
	calls []string
	added []int64
	docs  []any
}

func (f *fakeIndex) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeIndex) Name() string { return f.name }
func (f *fakeIndex) Type() string { return "doc" }

func (f *fakeIndex) Accepts(doc any) bool {
	if f.accepts == nil {
		return false
	}
	return f.accepts(doc)
}

func (f *fakeIndex) Exists(context.Context) (bool, error) {
	f.record("exists")
	return f.exists, nil
}

func (f *fakeIndex) Create(context.Context) error {
	f.record("create")
	if f.createErr != nil {
		return f.createErr
	}
	if f.exists {
		return &Error{Kind: KindAlreadyExists, Index: f.name, Op: "create"}
	}
	f.exists = true
	return nil
}

func (f *fakeIndex) Destroy(context.Context) error {
	f.record("destroy")
	if !f.exists {
		return &Error{Kind: KindDoesNotExist, Index: f.name, Op: "destroy"}
	}
	f.exists = false
	return nil
}

func (f *fakeIndex) Upgrade(context.Context) error {
	f.record("upgrade")
	if !f.exists {
		return &Error{Kind: KindDoesNotExist, Index: f.name, Op: "upgrade"}
	}
	return nil
}

func (f *fakeIndex) DocumentIDs(context.Context) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for _, id := range f.ids {
			if !yield(id, nil) {
				return
			}
		}
		if f.idsErr != nil {
			yield(nil, f.idsErr)
		}
	}
}

func (f *fakeIndex) DocumentCount(context.Context) (int, error) {
	if f.count > 0 {
		return f.count, nil
	}
	return len(f.ids), nil
}

func (f *fakeIndex) AddByID(_ context.Context, id any) error {
	n := id.(int64)
	if f.failOn != 0 && n == f.failOn {
		return &Error{Kind: KindDocumentNotFound, Index: f.name, Detail: n}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, n)
	return nil
}

func (f *fakeIndex) Add(_ context.Context, doc any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeIndex) Remove(_ context.Context, doc any) error {
	f.record("remove")
	return nil
}

type recordingProgress struct {
	mu       sync.Mutex
	messages []string
	steps    [][2]int
}

func (p *recordingProgress) LogMessage(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

func (p *recordingProgress) LogProgress(total, current int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.steps = append(p.steps, [2]int{total, current})
}

func TestRegister_FirstWins(t *testing.T) {
	// Given: two indices sharing a name
	first := &fakeIndex{name: "products"}
	second := &fakeIndex{name: "products"}
	r := New()

	// When: both are registered
	assert.True(t, r.Register(first))
	assert.False(t, r.Register(second))

	// Then: only the first is kept
	idxs, err := r.Indexes("")
	require.NoError(t, err)
	require.Len(t, idxs, 1)
	assert.Same(t, first, idxs[0])
}

func TestIndexes(t *testing.T) {
	r := New()

	_, err := r.Indexes("")
	assert.ErrorIs(t, err, ErrEmptyRegistry)

	r.Register(&fakeIndex{name: "a"})
	r.Register(&fakeIndex{name: "b"})

	_, err = r.Indexes("missing")
	assert.ErrorIs(t, err, ErrNotRegistered)
	assert.EqualError(t, err, "index missing is not registered in search indexer")

	idxs, err := r.Indexes("b")
	require.NoError(t, err)
	require.Len(t, idxs, 1)
	assert.Equal(t, "b", idxs[0].Name())

	idxs, err = r.Indexes("")
	require.NoError(t, err)
	assert.Equal(t, "a", idxs[0].Name())
	assert.Equal(t, "b", idxs[1].Name())
}

func TestCreate_SkipExists(t *testing.T) {
	idx := &fakeIndex{name: "products", exists: true}
	progress := &recordingProgress{}
	r := New(WithProgress(progress))
	r.Register(idx)

	err := r.Create(context.Background(), "products", false)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = r.Create(context.Background(), "products", true)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Creating index: products", "Creating index: products"}, progress.messages)
}

func TestCreate_WrapsEngineFailure(t *testing.T) {
	boom := errors.New("connection refused")
	r := New()
	r.Register(&fakeIndex{name: "products", createErr: boom})

	err := r.Create(context.Background(), "", true)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrOperationFailed)
	var ie *Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "products", ie.Index)
	assert.Equal(t, "create", ie.Op)
}

func TestDestroyAndUpgrade_SkipMissing(t *testing.T) {
	r := New()
	r.Register(&fakeIndex{name: "products"})
	ctx := context.Background()

	assert.ErrorIs(t, r.Destroy(ctx, "products", false), ErrDoesNotExist)
	assert.NoError(t, r.Destroy(ctx, "products", true))
	assert.ErrorIs(t, r.Upgrade(ctx, "products", false), ErrDoesNotExist)
	assert.NoError(t, r.Upgrade(ctx, "products", true))
}

func TestPopulate_SequentialOrderAndProgress(t *testing.T) {
	// Given: an existing index with three documents
	idx := &fakeIndex{name: "products", exists: true, ids: []any{101, 102, 103}}
	progress := &recordingProgress{}
	r := New(WithProgress(progress))
	r.Register(idx)

	// When: populating
	err := r.Populate(context.Background(), "products", false)

	// Then: every id is added in order with monotonic progress
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 102, 103}, idx.added)
	assert.Equal(t, [][2]int{{3, 1}, {3, 2}, {3, 3}}, progress.steps)
	assert.Equal(t, []string{"Indexing documents for index: products"}, progress.messages)
}

func TestPopulate_TotalComputedOnce(t *testing.T) {
	idx := &fakeIndex{name: "products", exists: true, ids: []any{1, 2}, count: 5}
	progress := &recordingProgress{}
	r := New(WithProgress(progress))
	r.Register(idx)

	require.NoError(t, r.Populate(context.Background(), "", false))
	assert.Equal(t, [][2]int{{5, 1}, {5, 2}}, progress.steps)
}

func TestPopulate_AcceptedIDForms(t *testing.T) {
	idx := &fakeIndex{name: "products", exists: true, ids: []any{
		7,
		int64(8),
		9.0,
		json.Number("10"),
		"11",
		map[string]any{"id": 12.0},
		recordID(13),
	}}
	r := New()
	r.Register(idx)

	require.NoError(t, r.Populate(context.Background(), "products", false))
	assert.Equal(t, []int64{7, 8, 9, 10, 11, 12, 13}, idx.added)
}

type recordID int64

func (r recordID) DocumentID() any { return int64(r) }

func TestPopulate_InvalidIDIsFatal(t *testing.T) {
	tests := []struct {
		name string
		id   any
	}{
		{"fractional", 1.5},
		{"word", "abc"},
		{"record without id", map[string]any{"sku": 1}},
		{"slice", []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx := &fakeIndex{name: "products", exists: true, ids: []any{1, tt.id, 3}}
			r := New()
			r.Register(idx)

			err := r.Populate(context.Background(), "products", false)

			assert.ErrorIs(t, err, ErrInvalidDocumentID)
			assert.Equal(t, []int64{1}, idx.added)
		})
	}
}

func TestPopulate_MissingIndex(t *testing.T) {
	idx := &fakeIndex{name: "products", ids: []any{1}}
	r := New()
	r.Register(idx)

	assert.ErrorIs(t, r.Populate(context.Background(), "products", false), ErrDoesNotExist)
	assert.NoError(t, r.Populate(context.Background(), "products", true))
	assert.Empty(t, idx.added)
}

func TestPopulate_DocumentFailureStopsLoop(t *testing.T) {
	idx := &fakeIndex{name: "products", exists: true, ids: []any{1, 2, 3}, failOn: 2}
	r := New()
	r.Register(idx)

	err := r.Populate(context.Background(), "products", false)

	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Equal(t, []int64{1}, idx.added)
}

func TestPopulate_IteratorError(t *testing.T) {
	cursorErr := errors.New("cursor closed")
	idx := &fakeIndex{name: "products", exists: true, ids: []any{1}, idsErr: cursorErr}
	r := New()
	r.Register(idx)

	err := r.Populate(context.Background(), "products", false)

	assert.ErrorIs(t, err, cursorErr)
	assert.Equal(t, []int64{1}, idx.added)
}

func TestPopulate_CancelledBetweenDocuments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	progress := &cancelAfter{n: 2, cancel: cancel}
	idx := &fakeIndex{name: "products", exists: true, ids: []any{1, 2, 3, 4}}
	r := New(WithProgress(progress))
	r.Register(idx)

	err := r.Populate(ctx, "products", false)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int64{1, 2}, idx.added)
}

type cancelAfter struct {
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) LogMessage(string) {}
func (c *cancelAfter) LogProgress(_, current int) {
	if current == c.n {
		c.cancel()
	}
}

func TestPopulate_Workers(t *testing.T) {
	// Given: a pool of four workers over fifty documents
	ids := make([]any, 50)
	for i := range ids {
		ids[i] = i + 1
	}
	idx := &fakeIndex{name: "products", exists: true, ids: ids}
	progress := &recordingProgress{}
	r := New(WithProgress(progress), WithWorkers(4))
	r.Register(idx)

	// When: populating
	err := r.Populate(context.Background(), "products", false)

	// Then: all documents are added and progress counts completions
	require.NoError(t, err)
	assert.Len(t, idx.added, 50)
	added := append([]int64(nil), idx.added...)
	sort.Slice(added, func(i, j int) bool { return added[i] < added[j] })
	assert.Equal(t, int64(1), added[0])
	assert.Equal(t, int64(50), added[49])

	require.Len(t, progress.steps, 50)
	for i, step := range progress.steps {
		assert.Equal(t, [2]int{50, i + 1}, step)
	}
}

func TestPopulate_WorkersSurfaceFailure(t *testing.T) {
	ids := make([]any, 20)
	for i := range ids {
		ids[i] = i + 1
	}
	idx := &fakeIndex{name: "products", exists: true, ids: ids, failOn: 5}
	r := New(WithWorkers(3))
	r.Register(idx)

	err := r.Populate(context.Background(), "products", false)

	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.NotContains(t, idx.added, int64(5))
}

func TestPopulate_ObserverSeesOutcome(t *testing.T) {
	// Given two indexes, the second failing on its last document
	type outcome struct {
		index, op string
		failed    bool
	}
	var seen []outcome
	r := New(WithWorkers(2), WithObserver(func(index, op string, _ time.Time, err error) {
		seen = append(seen, outcome{index, op, err != nil})
	}))
	r.Register(&fakeIndex{name: "products", exists: true, ids: []any{1, 2}})
	r.Register(&fakeIndex{name: "orders", exists: true, ids: []any{1, 2}, failOn: 2})

	// When all indexes are populated
	err := r.Populate(context.Background(), "", false)

	// Then each run is reported with the error populate returned
	require.Error(t, err)
	assert.Equal(t, []outcome{
		{"products", "populate", false},
		{"orders", "populate", true},
	}, seen)
}

func TestRebuild_CallOrder(t *testing.T) {
	// Given: an index that does not exist yet
	idx := &fakeIndex{name: "products", ids: []any{1}}
	r := New()
	r.Register(idx)

	// When: rebuilding while skipping the missing-index precondition
	err := r.Rebuild(context.Background(), "products", false, true)

	// Then: destroy, create and populate run in that order
	require.NoError(t, err)
	assert.Equal(t, []string{"destroy", "create", "exists"}, idx.calls)
	assert.Equal(t, []int64{1}, idx.added)
}

func TestRebuild_NoRollback(t *testing.T) {
	idx := &fakeIndex{name: "products", exists: true, createErr: errors.New("bad settings")}
	r := New()
	r.Register(idx)

	err := r.Rebuild(context.Background(), "products", false, false)

	require.Error(t, err)
	assert.False(t, idx.exists)
	assert.Equal(t, []string{"destroy", "create"}, idx.calls)
}

func TestVerify_ListsMissing(t *testing.T) {
	a := &fakeIndex{name: "a", exists: true}
	b := &fakeIndex{name: "b"}
	reg := New()
	reg.Register(a)
	reg.Register(b)

	missing, err := reg.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, missing)

	missing, err = reg.Verify(context.Background(), "a")
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = reg.Verify(context.Background(), "c")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestIndex_Routing(t *testing.T) {
	isString := func(d any) bool { _, ok := d.(string); return ok }
	isInt := func(d any) bool { _, ok := d.(int); return ok }

	strings := &fakeIndex{name: "strings", exists: true, accepts: isString}
	ints := &fakeIndex{name: "ints", accepts: isInt}
	alsoStrings := &fakeIndex{name: "also-strings", exists: true, accepts: isString}
	r := New()
	r.Register(strings)
	r.Register(ints)
	r.Register(alsoStrings)
	ctx := context.Background()

	require.NoError(t, r.Index(ctx, "doc"))
	assert.Equal(t, []any{"doc"}, strings.docs)
	assert.Empty(t, alsoStrings.docs)

	err := r.Index(ctx, 3.5)
	assert.ErrorIs(t, err, ErrNoIndexForDocument)

	err = r.Index(ctx, 42)
	assert.ErrorIs(t, err, ErrIndexNotInitialized)
	assert.EqualError(t, err, "index ints is not initialized")

	require.NoError(t, r.Remove(ctx, 42))
	assert.Contains(t, ints.calls, "remove")
	assert.ErrorIs(t, r.Remove(ctx, 3.5), ErrNoIndexForDocument)
}

func TestError_Messages(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: KindEmptyRegistry}, "indexes can not be empty"},
		{&Error{Kind: KindAlreadyExists, Index: "p"}, "index p already exists"},
		{&Error{Kind: KindDoesNotExist, Index: "p"}, "index p does not exist"},
		{&Error{Kind: KindMappingUpgradeFailed, Index: "p"}, "error remapping index p"},
		{&Error{Kind: KindDocumentNotFound, Index: "p", Detail: 7}, "document with id 7 does not exist in index p"},
		{&Error{Kind: KindOperationFailed, Index: "p", Op: "create", Err: fmt.Errorf("timeout")}, "create index p failed: timeout"},
	}
	for _, tt := range tests {
		assert.EqualError(t, tt.err, tt.want)
	}
}

func TestWrap_KeepsKind(t *testing.T) {
	err := Wrap("products", "create", &Error{Kind: KindAlreadyExists})

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindAlreadyExists, kind)
	assert.EqualError(t, err, "index products already exists")
	assert.Nil(t, Wrap("products", "create", nil))
}
