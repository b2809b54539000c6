package elasticsearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/AlectoTheFirst/esidx/internal/config"
)

// ResponseError is a non-2xx answer from Elasticsearch.
type ResponseError struct {
	Status int
	Type   string
	Reason string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elasticsearch returned status %d", e.Status)
	}
	return fmt.Sprintf("elasticsearch returned status %d: %s: %s", e.Status, e.Type, e.Reason)
}

// SearchQueryError is returned when Elasticsearch rejects a search. Request
// holds the serialized body that was sent.
type SearchQueryError struct {
	Index   []string
	Request string
	Status  int
	Reason  string
	Err     error
}

func (e *SearchQueryError) Error() string {
	return fmt.Sprintf("search on %s failed with status %d: %s", strings.Join(e.Index, ","), e.Status, e.Reason)
}

func (e *SearchQueryError) Unwrap() error { return e.Err }

// Client wraps the official Elasticsearch client and provides specific methods.
type Client struct {
	es     *elasticsearch.Client
	Cfg    *config.ConnectionConfig
	logger *slog.Logger
}

// NewClient creates and configures a new Elasticsearch client.
func NewClient(cfg *config.ConnectionConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		CloudID:   cfg.CloudID,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			},
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: cfg.Timeout,
		},
	}

	logger.Debug("Elasticsearch client configuration", "addresses", cfg.Addresses, "username", cfg.Username)

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating Elasticsearch client: %w", err)
	}
	c := &Client{es: es, Cfg: cfg, logger: logger}

	if cfg.HealthCheck {
		ctx := context.Background()
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}
		version, err := c.Ping(ctx)
		if err != nil {
			return nil, err
		}
		logger.Info("Successfully connected to Elasticsearch", "version", version)
	} else {
		logger.Info("Skipping Elasticsearch health check on startup")
	}
	return c, nil
}

// Ping checks the cluster is reachable and returns its reported version.
func (c *Client) Ping(ctx context.Context) (string, error) {
	res, err := esapi.PingRequest{}.Do(ctx, c.es)
	if err != nil {
		return "", fmt.Errorf("error pinging Elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", fmt.Errorf("Elasticsearch ping failed: %s", res.String())
	}
	return res.Header.Get("X-Elastic-Product-Version"), nil
}

// IndexExists reports whether index is present.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := esapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, c.es)
	if err != nil {
		return false, fmt.Errorf("error checking index %q: %w", index, err)
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, decodeError(res)
}

// CreateIndex creates index with an optional settings/mappings body.
func (c *Client) CreateIndex(ctx context.Context, index string, body map[string]any) error {
	req := esapi.IndicesCreateRequest{Index: index}
	if len(body) > 0 {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshalling settings of %q: %w", index, err)
		}
		req.Body = bytes.NewReader(b)
	}
	return c.do(ctx, req, "create index "+index)
}

// DeleteIndex removes index.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	return c.do(ctx, esapi.IndicesDeleteRequest{Index: []string{index}}, "delete index "+index)
}

// PutMapping updates the mappings of index.
func (c *Client) PutMapping(ctx context.Context, index string, mappings map[string]any) error {
	b, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("error marshalling mappings of %q: %w", index, err)
	}
	req := esapi.IndicesPutMappingRequest{Index: []string{index}, Body: bytes.NewReader(b)}
	return c.do(ctx, req, "put mapping "+index)
}

// IndexDocument creates or replaces one document.
func (c *Client) IndexDocument(ctx context.Context, index, id string, doc map[string]any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("error marshalling document %s of %q: %w", id, index, err)
	}
	req := esapi.IndexRequest{Index: index, DocumentID: id, Body: bytes.NewReader(b)}
	return c.do(ctx, req, "index document "+id)
}

// DeleteDocument removes one document.
func (c *Client) DeleteDocument(ctx context.Context, index, id string) error {
	return c.do(ctx, esapi.DeleteRequest{Index: index, DocumentID: id}, "delete document "+id)
}

// Count returns the number of documents in index.
func (c *Client) Count(ctx context.Context, index string) (int, error) {
	res, err := esapi.CountRequest{Index: []string{index}}.Do(ctx, c.es)
	if err != nil {
		return 0, fmt.Errorf("error counting %q: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("count %s: %w", index, decodeError(res))
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("error decoding count of %q: %w", index, err)
	}
	return body.Count, nil
}

// Search runs body against indices. A rejected query yields *SearchQueryError.
func (c *Client) Search(ctx context.Context, indices []string, body map[string]any) (*SearchResponse, error) {
	queryJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("error marshalling query JSON: %w", err)
	}

	c.logger.Debug("Executing Elasticsearch query", "indices", indices, "query", string(queryJSON))

	req := esapi.SearchRequest{
		Index: indices,
		Body:  bytes.NewReader(queryJSON),
	}
	if c.Cfg != nil {
		req.Timeout = c.Cfg.Timeout
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("error executing search request on %v: %w", indices, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		rerr := decodeError(res)
		qerr := &SearchQueryError{Index: indices, Request: string(queryJSON), Status: res.StatusCode, Err: rerr}
		var re *ResponseError
		if errors.As(rerr, &re) {
			qerr.Reason = re.Reason
		}
		return nil, qerr
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading Elasticsearch response: %w", err)
	}
	resp, err := decodeSearchResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("error decoding Elasticsearch response: %w", err)
	}

	if resp.TimedOut {
		c.logger.Warn("Elasticsearch query timed out", "indices", indices)
	}
	if resp.Shards.Failed > 0 {
		c.logger.Warn("Elasticsearch query encountered shard failures",
			"indices", indices,
			"total", resp.Shards.Total,
			"successful", resp.Shards.Successful,
			"skipped", resp.Shards.Skipped,
			"failed", resp.Shards.Failed,
		)
	}
	return resp, nil
}

type request interface {
	Do(ctx context.Context, transport esapi.Transport) (*esapi.Response, error)
}

func (c *Client) do(ctx context.Context, req request, what string) error {
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("error executing %s: %w", what, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%s: %w", what, decodeError(res))
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, res.Body)
	return nil
}

func decodeError(res *esapi.Response) error {
	rerr := &ResponseError{Status: res.StatusCode}
	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || len(body.Error) == 0 {
		return rerr
	}
	var detail struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body.Error, &detail); err == nil {
		rerr.Type, rerr.Reason = detail.Type, detail.Reason
	} else {
		// some endpoints answer with a plain string
		_ = json.Unmarshal(body.Error, &rerr.Reason)
	}
	return rerr
}

// IsStatus reports whether err carries an Elasticsearch status code.
func IsStatus(err error, status int) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Status == status
}

// HasType reports whether err carries the given Elasticsearch error type,
// e.g. "resource_already_exists_exception".
func HasType(err error, typ string) bool {
	var re *ResponseError
	return errors.As(err, &re) && re.Type == typ
}
