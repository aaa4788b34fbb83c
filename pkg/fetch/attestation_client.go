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
)

// HTTPAttestationClient is the production AttestationClient: a plain
// net/http.Client hitting a fixed cloud endpoint per app.
type HTTPAttestationClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPAttestationClient creates a client against baseURL (e.g.
// "https://cloud-api.phala.network").
func NewHTTPAttestationClient(baseURL string) *HTTPAttestationClient {
	return &HTTPAttestationClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchSystemInfo implements AttestationClient.
func (c *HTTPAttestationClient) FetchSystemInfo(ctx context.Context, appID string) (*SystemInfo, error) {
	url := fmt.Sprintf("%s/api/v1/apps/%s/info", c.baseURL, appID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusInternalServerError {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var info SystemInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding system info: %w", err)
	}

	info.Instances = filterCompleteInstances(info.Instances)
	if len(info.Instances) == 0 {
		return nil, ErrNoRunningInstances
	}

	for i := range info.Instances {
		info.Instances[i].Quote = normalizeQuoteHex(info.Instances[i].Quote)
	}

	return &info, nil
}

// filterCompleteInstances drops any instance missing quote, eventlog, or
// image_version, per spec.md §4.1.
func filterCompleteInstances(instances []Instance) []Instance {
	out := make([]Instance, 0, len(instances))
	for _, inst := range instances {
		if inst.Quote == "" || len(inst.EventLog) == 0 || inst.ImageVersion == "" {
			continue
		}
		out = append(out, inst)
	}
	return out
}

// normalizeQuoteHex strips a leading "0x"/"0X" and lowercases the result,
// then re-adds the canonical "0x" prefix.
func normalizeQuoteHex(quote string) string {
	stripped := strings.TrimPrefix(strings.TrimPrefix(quote, "0x"), "0X")
	return "0x" + strings.ToLower(stripped)
}

// FetchAppInfo implements AttestationClient, choosing the endpoint per
// the supportsInfoRpc flag (computed by versionpolicy.Policy upstream).
func (c *HTTPAttestationClient) FetchAppInfo(ctx context.Context, rpcEndpoint string, supportsInfoRpc bool) (*AppInfo, error) {
	path := "/prpc/Worker.Info"
	if supportsInfoRpc {
		path = "/prpc/Info"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(rpcEndpoint, "/")+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	var info AppInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decoding app info: %w", err)
	}

	if !supportsInfoRpc {
		fillLegacyDefaults(&info)
	}

	return &info, nil
}

// fillLegacyDefaults synthesizes defaults for fields the legacy
// Worker.Info response does not carry, per spec.md §4.1's legacy
// conversion rule. RTMR3/compose-hash fields stay empty: the legacy
// chain uses stub generators rather than replaying an event log.
func fillLegacyDefaults(info *AppInfo) {
	if info.VMConfig.CPUCount == 0 {
		info.VMConfig.CPUCount = 1
	}
}

// httpGatewayClient is the production GatewayClient.
type httpGatewayClient struct {
	httpClient *http.Client
}

// NewHTTPGatewayClient creates a GatewayClient.
func NewHTTPGatewayClient() GatewayClient {
	return &httpGatewayClient{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

func (c *httpGatewayClient) FetchAcmeInfo(ctx context.Context, gatewayRPCBase string) (*AcmeInfo, error) {
	var out AcmeInfo
	if err := c.getJSON(ctx, strings.TrimRight(gatewayRPCBase, "/")+"/prpc/Acme.Info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpGatewayClient) FetchAppInfo(ctx context.Context, gatewayRPCBase string) (*AppInfo, error) {
	var out AppInfo
	if err := c.getJSON(ctx, strings.TrimRight(gatewayRPCBase, "/")+"/prpc/Info", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpGatewayClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	return json.Unmarshal(body, out)
}
