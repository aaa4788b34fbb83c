// Copyright 2025 Certen Protocol

package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// commitHashPattern matches the first GitHub commit-permalink href on a
// release page, per spec.md §4.4's literal regex.
var commitHashPattern = regexp.MustCompile(`href="/[^"]*/commit/([0-9a-f]{40})"`)

// dstackReleasesBaseURL is the upstream repository whose release pages
// embed the git commit each dstack image version was built from. A var,
// not a const, so tests can point it at a local httptest server.
var dstackReleasesBaseURL = "https://github.com/dstack-tee/dstack/releases/tag/"

// gitCommitResolver scrapes a release page for the first 40-hex-char
// commit permalink. Only called when the app's version policy supports
// it (spec.md §4.4 step 3): older images have no corresponding release
// page worth scraping.
type gitCommitResolver struct {
	httpClient *http.Client
}

func newGitCommitResolver() *gitCommitResolver {
	return &gitCommitResolver{httpClient: &http.Client{Timeout: 10 * time.Second}}
}

// resolve returns the first commit hash found on the release page for
// imageVersion, or "" if the page has none (not treated as an error:
// git_commit is enrichment, not a correctness gate).
func (g *gitCommitResolver) resolve(ctx context.Context, imageVersion string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dstackReleasesBaseURL+imageVersion, nil)
	if err != nil {
		return "", fmt.Errorf("building release page request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching release page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return "", fmt.Errorf("reading release page: %w", err)
	}

	m := commitHashPattern.FindSubmatch(body)
	if m == nil {
		return "", nil
	}
	return string(m[1]), nil
}
