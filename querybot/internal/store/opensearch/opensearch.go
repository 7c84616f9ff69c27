// Package opensearch serves collections from OpenSearch indices.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/telhawk-systems/querybot/querybot/internal/store"
)

// Config holds connection settings.
type Config struct {
	URL      string
	Username string
	Password string
	Insecure bool
	// MaxHits caps how many documents Filter returns.
	MaxHits int
}

// Store maps collection names to index patterns.
type Store struct {
	client  *opensearch.Client
	indices map[string]string
	maxHits int
}

// Open creates a client and verifies the cluster answers.
func Open(cfg Config, indices map[string]string) (*Store, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.Insecure},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	info, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to ping opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return nil, fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	return New(client, indices, cfg.MaxHits), nil
}

// New wraps an existing client.
func New(client *opensearch.Client, indices map[string]string, maxHits int) *Store {
	if maxHits <= 0 {
		maxHits = 1000
	}
	return &Store{client: client, indices: indices, maxHits: maxHits}
}

func (s *Store) Collection(name string) (store.Collection, error) {
	index, ok := s.indices[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownCollection, name)
	}
	return &Collection{store: s, index: index}, nil
}

func (s *Store) Close() error { return nil }

// Collection is one index or index pattern.
type Collection struct {
	store *Store
	index string
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []struct {
			ID     string         `json:"_id"`
			Source map[string]any `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
	Aggregations map[string]struct {
		Value *float64 `json:"value"`
	} `json:"aggregations"`
}

func (c *Collection) Filter(ctx context.Context, preds []store.Predicate, fields []string) ([]store.Record, error) {
	query, err := boolQuery(preds)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if err := store.ValidateField(f); err != nil {
			return nil, err
		}
	}

	body := map[string]any{"query": query}
	if len(fields) > 0 {
		body["_source"] = fields
	}

	var resp searchResponse
	if err := c.search(ctx, body, c.store.maxHits, &resp); err != nil {
		return nil, err
	}

	records := make([]store.Record, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		record := store.Record{}
		for k, v := range hit.Source {
			record[k] = v
		}
		if _, ok := record["id"]; !ok && wants(fields, "id") {
			record["id"] = hit.ID
		}
		records = append(records, record)
	}
	return records, nil
}

func (c *Collection) Count(ctx context.Context, preds []store.Predicate) (int, error) {
	query, err := boolQuery(preds)
	if err != nil {
		return 0, err
	}
	body, err := encode(map[string]any{"query": query})
	if err != nil {
		return 0, err
	}

	client := c.store.client
	res, err := client.Count(
		client.Count.WithContext(ctx),
		client.Count.WithIndex(c.index),
		client.Count.WithBody(body),
	)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError("count", c.index, res.Status(), res.Body)
	}

	var out struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return out.Count, nil
}

func (c *Collection) Aggregate(ctx context.Context, preds []store.Predicate, agg store.Aggregation) (map[string]any, error) {
	if err := store.ValidateField(agg.Property); err != nil {
		return nil, err
	}
	query, err := boolQuery(preds)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query": query,
		"aggs": map[string]any{
			agg.Key(): map[string]any{"sum": map[string]any{"field": agg.Property}},
		},
	}

	var resp searchResponse
	if err := c.search(ctx, body, 0, &resp); err != nil {
		return nil, err
	}

	result := map[string]any{agg.Key(): nil}
	if a, ok := resp.Aggregations[agg.Key()]; ok && a.Value != nil && resp.Hits.Total.Value > 0 {
		result[agg.Key()] = *a.Value
	}
	return result, nil
}

func (c *Collection) search(ctx context.Context, body map[string]any, size int, out *searchResponse) error {
	buf, err := encode(body)
	if err != nil {
		return err
	}

	client := c.store.client
	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(c.index),
		client.Search.WithBody(buf),
		client.Search.WithSize(size),
		client.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return fmt.Errorf("search %s: %w", c.index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("search", c.index, res.Status(), res.Body)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode search response: %w", err)
	}
	return nil
}

// boolQuery turns predicates into a filter-context bool query.
func boolQuery(preds []store.Predicate) (map[string]any, error) {
	if err := store.ValidatePredicates(preds); err != nil {
		return nil, err
	}

	filters := make([]any, 0, len(preds))
	for _, p := range preds {
		switch p.Op {
		case store.OpEq:
			filters = append(filters, map[string]any{"term": map[string]any{p.Field: p.Value}})
		case store.OpGt:
			value := p.Value
			if t, ok := value.(time.Time); ok {
				value = t.UTC().Format(time.RFC3339Nano)
			}
			filters = append(filters, map[string]any{"range": map[string]any{p.Field: map[string]any{"gt": value}}})
		}
	}

	if len(filters) == 0 {
		return map[string]any{"match_all": map[string]any{}}, nil
	}
	return map[string]any{"bool": map[string]any{"filter": filters}}, nil
}

func encode(body map[string]any) (*bytes.Reader, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return bytes.NewReader(data), nil
}

func responseError(op, index, status string, body io.Reader) error {
	detail, _ := io.ReadAll(io.LimitReader(body, 512))
	return fmt.Errorf("%s %s: opensearch returned %s: %s", op, index, status, bytes.TrimSpace(detail))
}

func wants(fields []string, name string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}
