// Copyright 2025 Certen Protocol
//
// Package appsync implements C6: the upstream app/profile inventory
// mirror and the "needs verification" admission query the scheduler
// drives off of. The upstream source of truth is a Metabase question
// (a saved SQL query exposed over Metabase's card-query API) — the
// spec names only "upstream inventory mirror" without a concrete
// transport, and Metabase is the real-world stand-in config.go already
// carries (METABASE_URL/METABASE_API_KEY). The HTTP client shape below
// is grounded on pkg/fetch's HTTPCTLogClient: a trimmed base URL, a
// bounded http.Client timeout, and a rate limiter guarding a shared
// external service.
package appsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// MetabaseClient queries saved Metabase questions ("cards") and decodes
// their tabular result into the row shapes this package needs.
type MetabaseClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewMetabaseClient creates a MetabaseClient against baseURL (e.g.
// "https://metabase.internal"). A zero-value apiKey is allowed for
// local/dev Metabase instances with no API-key auth configured.
func NewMetabaseClient(baseURL, apiKey string) *MetabaseClient {
	return &MetabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(1), 2),
	}
}

// cardQueryResponse mirrors the subset of Metabase's
// POST /api/card/:id/query response this client reads: column names in
// declaration order, and each row as a positional array.
type cardQueryResponse struct {
	Data struct {
		Cols []struct {
			Name string `json:"name"`
		} `json:"cols"`
		Rows [][]interface{} `json:"rows"`
	} `json:"data"`
}

// queryCard runs a saved question by id and returns each row as a
// name-keyed map, so callers don't need to track column position.
func (m *MetabaseClient) queryCard(ctx context.Context, cardID int) ([]map[string]interface{}, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("metabase rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/api/card/%d/query", m.baseURL, cardID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building metabase request: %w", err)
	}
	if m.apiKey != "" {
		req.Header.Set("X-Api-Key", m.apiKey)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metabase card %d query: %w", cardID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metabase card %d query: status %d", cardID, resp.StatusCode)
	}

	var parsed cardQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding metabase response for card %d: %w", cardID, err)
	}

	rows := make([]map[string]interface{}, 0, len(parsed.Data.Rows))
	for _, row := range parsed.Data.Rows {
		rec := make(map[string]interface{}, len(parsed.Data.Cols))
		for i, col := range parsed.Data.Cols {
			if i < len(row) {
				rec[col.Name] = row[i]
			}
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func stringField(row map[string]interface{}, key string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func int64PtrField(row map[string]interface{}, key string) *int64 {
	v, ok := row[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		i := int64(n)
		return &i
	case string:
		return nil
	default:
		return nil
	}
}
