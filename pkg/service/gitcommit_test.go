// Copyright 2025 Certen Protocol

package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ============================================================================
// gitCommitResolver.resolve
// ============================================================================

func withStubReleasesBase(url string) func() {
	old := dstackReleasesBaseURL
	dstackReleasesBaseURL = url
	return func() { dstackReleasesBaseURL = old }
}

func TestResolve_FindsFirstCommitPermalink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><a href="/dstack-tee/dstack/commit/abcdef0123456789abcdef0123456789abcdef01">abcdef0</a></html>`))
	}))
	defer srv.Close()
	defer withStubReleasesBase(srv.URL + "/")()

	g := newGitCommitResolver()
	got, err := g.resolve(context.Background(), "v0.5.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "abcdef0123456789abcdef0123456789abcdef01" {
		t.Errorf("resolve() = %q, want the 40-hex commit hash", got)
	}
}

func TestResolve_NoMatchYieldsEmptyStringNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>no commit links here</html>`))
	}))
	defer srv.Close()
	defer withStubReleasesBase(srv.URL + "/")()

	g := newGitCommitResolver()
	got, err := g.resolve(context.Background(), "v0.5.3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("resolve() = %q, want empty string", got)
	}
}

func TestResolve_NonOKStatusYieldsEmptyStringNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	defer withStubReleasesBase(srv.URL + "/")()

	g := newGitCommitResolver()
	got, err := g.resolve(context.Background(), "v9.9.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("resolve() = %q, want empty string for a 404 page", got)
	}
}
