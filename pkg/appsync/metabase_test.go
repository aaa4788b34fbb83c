// Copyright 2025 Certen Protocol

package appsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestQueryCard_DecodesRowsIntoNameKeyedMaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/card/7/query" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("expected api key header, got %q", r.Header.Get("X-Api-Key"))
		}
		w.Write([]byte(`{
			"data": {
				"cols": [{"name": "app_id"}, {"name": "kms_chain_id"}],
				"rows": [["app-1", 8453], ["app-2", null]]
			}
		}`))
	}))
	defer srv.Close()

	client := NewMetabaseClient(srv.URL, "secret")
	rows, err := client.queryCard(context.Background(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if stringField(rows[0], "app_id") != "app-1" {
		t.Errorf("expected app_id=app-1, got %q", stringField(rows[0], "app_id"))
	}
	if id := int64PtrField(rows[0], "kms_chain_id"); id == nil || *id != 8453 {
		t.Errorf("expected kms_chain_id=8453, got %v", id)
	}
	if id := int64PtrField(rows[1], "kms_chain_id"); id != nil {
		t.Errorf("expected nil kms_chain_id for row 2, got %v", *id)
	}
}

func TestQueryCard_NonOKStatusIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewMetabaseClient(srv.URL, "")
	if _, err := client.queryCard(context.Background(), 1); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestStringField_MissingOrNilYieldsEmptyString(t *testing.T) {
	row := map[string]interface{}{"present": "x", "explicit_nil": nil}
	if got := stringField(row, "missing"); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	if got := stringField(row, "explicit_nil"); got != "" {
		t.Errorf("expected empty string for nil value, got %q", got)
	}
	if got := stringField(row, "present"); got != "x" {
		t.Errorf("expected %q, got %q", "x", got)
	}
}
