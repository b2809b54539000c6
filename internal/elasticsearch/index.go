package elasticsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/AlectoTheFirst/esidx/internal/indexer"
	"github.com/AlectoTheFirst/esidx/internal/repository"
)

// Document is a record DocumentIndex can index.
type Document interface {
	DocumentID() any
	DocumentBody() map[string]any
	// DocumentSource names where the document comes from; an index accepts
	// documents of its own source only.
	DocumentSource() string
}

// IndexOptions configures a DocumentIndex.
type IndexOptions struct {
	Name     string
	Type     string
	Source   string
	Settings map[string]any
	Mappings map[string]any
	// HTMLFields are string fields reduced to their text before indexing.
	HTMLFields []string
	Logger     *slog.Logger
}

// DocumentIndex is an Elasticsearch index fed from a repository.
type DocumentIndex struct {
	client *Client
	repo   indexer.Repository
	opts   IndexOptions
	logger *slog.Logger
}

var _ indexer.Index = (*DocumentIndex)(nil)

// NewDocumentIndex creates the index descriptor. Nothing is sent to the
// cluster until a lifecycle method is called.
func NewDocumentIndex(client *Client, repo indexer.Repository, opts IndexOptions) *DocumentIndex {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DocumentIndex{client: client, repo: repo, opts: opts, logger: logger.With("index", opts.Name)}
}

// LoadSettings reads a JSON file holding the "settings" and "mappings" of
// an index.
func LoadSettings(path string) (settings, mappings map[string]any, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read index settings %s: %w", path, err)
	}
	var body struct {
		Settings map[string]any `json:"settings"`
		Mappings map[string]any `json:"mappings"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, nil, fmt.Errorf("failed to parse index settings %s: %w", path, err)
	}
	return body.Settings, body.Mappings, nil
}

// Name returns the Elasticsearch index name.
func (i *DocumentIndex) Name() string { return i.opts.Name }

// Type returns the document type of the index.
func (i *DocumentIndex) Type() string { return i.opts.Type }

// Accepts reports whether doc is a Document of this index's source.
func (i *DocumentIndex) Accepts(doc any) bool {
	d, ok := doc.(Document)
	return ok && d.DocumentSource() == i.opts.Source
}

// Exists reports whether the index exists in the cluster.
func (i *DocumentIndex) Exists(ctx context.Context) (bool, error) {
	ok, err := i.client.IndexExists(ctx, i.opts.Name)
	if err != nil {
		return false, indexer.Wrap(i.opts.Name, "exists", err)
	}
	return ok, nil
}

// Create creates the index with the configured settings and mappings.
// It fails with KindAlreadyExists when the index is already there.
func (i *DocumentIndex) Create(ctx context.Context) error {
	exists, err := i.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return &indexer.Error{Kind: indexer.KindAlreadyExists, Index: i.opts.Name, Op: "create"}
	}

	body := make(map[string]any, 2)
	if len(i.opts.Settings) > 0 {
		body["settings"] = i.opts.Settings
	}
	if len(i.opts.Mappings) > 0 {
		body["mappings"] = i.opts.Mappings
	}
	err = i.client.CreateIndex(ctx, i.opts.Name, body)
	if HasType(err, "resource_already_exists_exception") {
		return &indexer.Error{Kind: indexer.KindAlreadyExists, Index: i.opts.Name, Op: "create", Err: err}
	}
	if err != nil {
		return indexer.Wrap(i.opts.Name, "create", err)
	}
	i.logger.Debug("Index created")
	return nil
}

// Destroy deletes the index. It fails with KindDoesNotExist when there is
// nothing to delete.
func (i *DocumentIndex) Destroy(ctx context.Context) error {
	exists, err := i.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return &indexer.Error{Kind: indexer.KindDoesNotExist, Index: i.opts.Name, Op: "destroy"}
	}

	err = i.client.DeleteIndex(ctx, i.opts.Name)
	if IsStatus(err, http.StatusNotFound) {
		return &indexer.Error{Kind: indexer.KindDoesNotExist, Index: i.opts.Name, Op: "destroy", Err: err}
	}
	if err != nil {
		return indexer.Wrap(i.opts.Name, "destroy", err)
	}
	i.logger.Debug("Index deleted")
	return nil
}

// Upgrade puts the configured mappings on the live index.
func (i *DocumentIndex) Upgrade(ctx context.Context) error {
	exists, err := i.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return &indexer.Error{Kind: indexer.KindDoesNotExist, Index: i.opts.Name, Op: "upgrade"}
	}
	if len(i.opts.Mappings) == 0 {
		return &indexer.Error{Kind: indexer.KindMappingUpgradeFailed, Index: i.opts.Name, Op: "upgrade"}
	}
	if err := i.client.PutMapping(ctx, i.opts.Name, i.opts.Mappings); err != nil {
		return indexer.Wrap(i.opts.Name, "upgrade", err)
	}
	return nil
}

// DocumentIDs streams the ids of every source row.
func (i *DocumentIndex) DocumentIDs(ctx context.Context) iter.Seq2[any, error] {
	return i.repo.IDs(ctx)
}

// DocumentCount returns the number of source rows.
func (i *DocumentIndex) DocumentCount(ctx context.Context) (int, error) {
	return i.repo.Count(ctx)
}

// AddByID loads the row with id from the repository and indexes it.
func (i *DocumentIndex) AddByID(ctx context.Context, id any) error {
	doc, err := i.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return &indexer.Error{Kind: indexer.KindDocumentNotFound, Index: i.opts.Name, Op: "add", Detail: id, Err: err}
	}
	if err != nil {
		return indexer.Wrap(i.opts.Name, "add", err)
	}
	return i.Add(ctx, doc)
}

// Add indexes doc, stripping markup from the configured HTML fields.
func (i *DocumentIndex) Add(ctx context.Context, doc any) error {
	d, ok := doc.(Document)
	if !ok {
		return &indexer.Error{Kind: indexer.KindOperationFailed, Index: i.opts.Name, Op: "add",
			Err: fmt.Errorf("unsupported document type %T", doc)}
	}

	body := d.DocumentBody()
	for _, field := range i.opts.HTMLFields {
		if s, ok := body[field].(string); ok {
			body[field] = StripHTML(s)
		}
	}
	if err := i.client.IndexDocument(ctx, i.opts.Name, documentKey(d.DocumentID()), body); err != nil {
		return indexer.Wrap(i.opts.Name, "add", err)
	}
	return nil
}

// Remove deletes doc from the index.
func (i *DocumentIndex) Remove(ctx context.Context, doc any) error {
	d, ok := doc.(Document)
	if !ok {
		return &indexer.Error{Kind: indexer.KindOperationFailed, Index: i.opts.Name, Op: "remove",
			Err: fmt.Errorf("unsupported document type %T", doc)}
	}
	err := i.client.DeleteDocument(ctx, i.opts.Name, documentKey(d.DocumentID()))
	if IsStatus(err, http.StatusNotFound) {
		return &indexer.Error{Kind: indexer.KindDocumentNotFound, Index: i.opts.Name, Op: "remove", Detail: d.DocumentID(), Err: err}
	}
	if err != nil {
		return indexer.Wrap(i.opts.Name, "remove", err)
	}
	return nil
}

func documentKey(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(id)
}
