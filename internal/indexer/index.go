// Package indexer keeps named search indices in sync with their source
// records: lifecycle operations, populate loops and document routing.
package indexer

import (
	"context"
	"iter"
)

// Index is one search index backed by a document repository.
// Name and Type must not change once the index is registered.
type Index interface {
	Name() string
	Type() string

	// Accepts reports whether doc belongs to this index. It must not panic
	// for any input.
	Accepts(doc any) bool

	Exists(ctx context.Context) (bool, error)
	// Create fails with ErrAlreadyExists when the index is present.
	Create(ctx context.Context) error
	// Destroy fails with ErrDoesNotExist when the index is absent.
	Destroy(ctx context.Context) error
	// Upgrade puts the current mappings; it fails with ErrDoesNotExist when
	// the index is absent and ErrMappingUpgradeFailed when it has none.
	Upgrade(ctx context.Context) error

	// DocumentIDs streams ids of every document that belongs to the index.
	// Each id is a numeric value, a map with an "id" entry or an IDRecord.
	DocumentIDs(ctx context.Context) iter.Seq2[any, error]
	// DocumentCount is a point-in-time count used to size progress output.
	DocumentCount(ctx context.Context) (int, error)

	// AddByID loads a document from the repository and indexes it. A missing
	// document fails with ErrDocumentNotFound.
	AddByID(ctx context.Context, id any) error
	Add(ctx context.Context, doc any) error
	Remove(ctx context.Context, doc any) error
}

// Repository is the source of truth an Index reads documents from.
type Repository interface {
	Get(ctx context.Context, id any) (any, error)
	IDs(ctx context.Context) iter.Seq2[any, error]
	Count(ctx context.Context) (int, error)
}

// ProgressLogger receives lifecycle messages and populate progress.
// Implementations must not block or fail.
type ProgressLogger interface {
	LogMessage(msg string)
	LogProgress(total, current int)
}

// IDRecord is a structured id carrier yielded by DocumentIDs.
type IDRecord interface {
	DocumentID() any
}

type nopProgress struct{}

func (nopProgress) LogMessage(string)    {}
func (nopProgress) LogProgress(int, int) {}
