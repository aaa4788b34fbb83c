// Copyright 2025 Certen Protocol

package collector

import (
	"encoding/json"
	"testing"
)

// ============================================================================
// CreateOrUpdate / pending edges
// ============================================================================

func TestCreateOrUpdate_AppliesPendingEdges(t *testing.T) {
	c := New()

	c.AddRelationships([]Relationship{
		{TargetObjectID: "app-main", SourceObjectID: "kms-main", SourceField: "x", SelfField: "y"},
	})

	c.CreateOrUpdate(&DataObject{ID: "app-main", Fields: map[string]interface{}{}})

	objs := c.GetAllObjects()
	if len(objs) != 1 {
		t.Fatalf("expected 1 object, got %d", len(objs))
	}
	if len(objs[0].MeasuredBy) != 1 {
		t.Fatalf("expected pending edge to be applied, got %d measuredBy entries", len(objs[0].MeasuredBy))
	}
}

// ============================================================================
// P3: relationship dedup
// ============================================================================

func TestAddRelationships_DedupesIdenticalTuples(t *testing.T) {
	c := New()
	c.CreateOrUpdate(&DataObject{ID: "app-main"})

	edge := Relationship{TargetObjectID: "app-main", SourceObjectID: "kms-main", SourceField: "f", SelfField: "g"}
	for i := 0; i < 3; i++ {
		c.AddRelationships([]Relationship{edge})
	}

	objs := c.GetAllObjects()
	if len(objs[0].MeasuredBy) != 1 {
		t.Fatalf("expected exactly 1 deduped measuredBy entry, got %d", len(objs[0].MeasuredBy))
	}
}

// ============================================================================
// ConfigureVerifierRelationships
// ============================================================================

func TestConfigureVerifierRelationships_OnchainSetsFieldsAndEdges(t *testing.T) {
	c := New()
	c.CreateOrUpdate(&DataObject{ID: "kms-main", Fields: map[string]interface{}{}})
	c.CreateOrUpdate(&DataObject{ID: "gateway-main", Fields: map[string]interface{}{}})
	c.CreateOrUpdate(&DataObject{ID: "app-main", Fields: map[string]interface{}{}})

	c.ConfigureVerifierRelationships(VerifierRelationshipConfig{
		KMSMainID: "kms-main", GatewayMainID: "gateway-main", AppMainID: "app-main",
		WithOnchainKMS: true, GatewayAppID: "gw-123", CertPubkey: "pub-abc",
	})

	objs := map[string]*DataObject{}
	for _, o := range c.GetAllObjects() {
		objs[o.ID] = o
	}

	if objs["kms-main"].Fields["gateway_app_id"] != "gw-123" {
		t.Errorf("expected kms-main.gateway_app_id to be set")
	}
	if objs["kms-main"].Fields["cert_pubkey"] != "pub-abc" {
		t.Errorf("expected kms-main.cert_pubkey to be set")
	}
	if len(objs["gateway-main"].MeasuredBy) != 2 {
		t.Errorf("expected 2 edges on gateway-main, got %d", len(objs["gateway-main"].MeasuredBy))
	}
	if len(objs["app-main"].MeasuredBy) != 1 {
		t.Errorf("expected 1 edge on app-main, got %d", len(objs["app-main"].MeasuredBy))
	}
}

func TestConfigureVerifierRelationships_OffchainUsesBlankEdges(t *testing.T) {
	c := New()
	c.CreateOrUpdate(&DataObject{ID: "kms-main", Fields: map[string]interface{}{}})
	c.CreateOrUpdate(&DataObject{ID: "gateway-main", Fields: map[string]interface{}{}})

	c.ConfigureVerifierRelationships(VerifierRelationshipConfig{
		KMSMainID: "kms-main", GatewayMainID: "gateway-main",
		WithOnchainKMS: false,
	})

	objs := c.GetAllObjects()
	var gw *DataObject
	for _, o := range objs {
		if o.ID == "gateway-main" {
			gw = o
		}
	}
	if len(gw.MeasuredBy) != 1 || gw.MeasuredBy[0].SourceField != "" {
		t.Errorf("expected a single blank id-to-id edge, got %+v", gw.MeasuredBy)
	}
	if _, ok := gw.Fields["gateway_app_id"]; ok {
		t.Errorf("offchain wiring must not set field values")
	}
}

// ============================================================================
// P2: idempotent masking
// ============================================================================

func TestMask_RewritesDockerComposeFile(t *testing.T) {
	inner := map[string]interface{}{"docker_compose_file": "version: '3'\nservices: {}", "other": "kept"}
	raw, _ := json.Marshal(inner)

	obj := &DataObject{ID: "app-code", Fields: map[string]interface{}{"compose_file": string(raw)}}

	masked := Mask([]*DataObject{obj})[0]

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(masked.Fields["compose_file"].(string)), &parsed); err != nil {
		t.Fatalf("masked compose_file is not valid JSON: %v", err)
	}
	if parsed["docker_compose_file"] != "[MASKED]" {
		t.Errorf("expected docker_compose_file to be masked, got %v", parsed["docker_compose_file"])
	}
	if parsed["other"] != "kept" {
		t.Errorf("expected sibling keys preserved, got %v", parsed["other"])
	}

	if obj.Fields["compose_file"] == masked.Fields["compose_file"] {
		t.Errorf("original object must not be mutated")
	}

	// mask(mask(x)) == mask(x)
	maskedTwice := Mask([]*DataObject{masked})[0]
	if maskedTwice.Fields["compose_file"] != masked.Fields["compose_file"] {
		t.Errorf("masking is not idempotent")
	}
}

func TestMask_NonJSONComposeFileReturnedVerbatim(t *testing.T) {
	obj := &DataObject{ID: "app-code", Fields: map[string]interface{}{"compose_file": "not json"}}
	masked := Mask([]*DataObject{obj})[0]
	if masked.Fields["compose_file"] != "not json" {
		t.Errorf("expected verbatim passthrough, got %v", masked.Fields["compose_file"])
	}
}
