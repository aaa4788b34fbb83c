// Copyright 2025 Certen Protocol

package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ============================================================================
// Query
// ============================================================================

func TestQuery_DedupesSHAsAndIssuers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"sha256":"aaa","issuer_ca_id":1,"issuer_name":"Let's Encrypt","common_name":"app.example.com"},
			{"sha256":"aaa","issuer_ca_id":1,"issuer_name":"Let's Encrypt","common_name":"app.example.com"},
			{"sha256":"bbb","issuer_ca_id":2,"issuer_name":"DigiCert","common_name":"app.example.com"}
		]`))
	}))
	defer srv.Close()

	c := NewHTTPCTLogClient(srv.URL)
	result, err := c.Query(context.Background(), "app.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.CertificateSHAs) != 2 {
		t.Errorf("expected 2 deduped SHAs, got %v", result.CertificateSHAs)
	}
	if len(result.IssuerCAs) != 2 {
		t.Errorf("expected 2 deduped issuers, got %v", result.IssuerCAs)
	}
	if result.Domain != "app.example.com" {
		t.Errorf("expected Domain to be set, got %q", result.Domain)
	}
}

func TestQuery_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPCTLogClient(srv.URL)
	if _, err := c.Query(context.Background(), "app.example.com"); err == nil {
		t.Fatal("expected an error for a 500 response, got nil")
	}
}

func TestQuery_EmptyResultSetYieldsEmptyLists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewHTTPCTLogClient(srv.URL)
	result, err := c.Query(context.Background(), "nonexistent.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.CertificateSHAs) != 0 || len(result.IssuerCAs) != 0 {
		t.Errorf("expected empty lists, got %+v", result)
	}
}
