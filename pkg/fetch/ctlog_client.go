// Copyright 2025 Certen Protocol

package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// HTTPCTLogClient queries a Certificate Transparency aggregator (e.g.
// crt.sh) for certificates issued to a domain, rate-limited to <= 2 req/s
// to stay a well-behaved client of a shared public service.
type HTTPCTLogClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPCTLogClient creates a CTLogClient against baseURL (e.g.
// "https://crt.sh").
func NewHTTPCTLogClient(baseURL string) *HTTPCTLogClient {
	return &HTTPCTLogClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(2), 2),
	}
}

type ctLogRow struct {
	SHA256         string `json:"sha256"`
	IssuerCAID     int    `json:"issuer_ca_id"`
	IssuerName     string `json:"issuer_name"`
	CommonName     string `json:"common_name"`
}

// Query implements CTLogClient.
func (c *HTTPCTLogClient) Query(ctx context.Context, domain string) (*CTQueryResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ct log rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/?q=%s&output=json", c.baseURL, domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ct log query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ct log query returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ct log response: %w", err)
	}

	var rows []ctLogRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding ct log response: %w", err)
	}

	result := &CTQueryResult{Domain: domain}
	seenSHA := make(map[string]bool)
	seenIssuer := make(map[string]bool)
	for _, row := range rows {
		if row.SHA256 != "" && !seenSHA[row.SHA256] {
			seenSHA[row.SHA256] = true
			result.CertificateSHAs = append(result.CertificateSHAs, row.SHA256)
		}
		if row.IssuerName != "" && !seenIssuer[row.IssuerName] {
			seenIssuer[row.IssuerName] = true
			result.IssuerCAs = append(result.IssuerCAs, row.IssuerName)
		}
	}

	return result, nil
}
