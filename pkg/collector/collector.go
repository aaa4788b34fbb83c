// Copyright 2025 Certen Protocol
//
// Package collector implements the per-verification DataObject graph
// accumulator (C2). A Collector is never shared between concurrent
// verifications: the worker pool constructs a fresh one per task.

package collector

import (
	"encoding/json"
	"log"
	"sync"
)

// Calculation describes a pure function applied over input fields of a
// DataObject, producing named outputs that other objects can reference
// via a MeasuredBy relation.
type Calculation struct {
	Name    string   `json:"name"`
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// MeasuredBy asserts that a field or calculation output on this object is
// cryptographically bound to a field or calculation output on another.
type MeasuredBy struct {
	SourceObjectID    string `json:"sourceObjectId"`
	SourceField       string `json:"sourceField,omitempty"`
	SourceCalcOutput  string `json:"sourceCalcOutput,omitempty"`
	SelfField         string `json:"selfField,omitempty"`
	SelfCalcOutput    string `json:"selfCalcOutput,omitempty"`
}

// equal compares all five fields, the definition of relationship-tuple
// equality used for dedup (P3).
func (m MeasuredBy) equal(o MeasuredBy) bool {
	return m.SourceObjectID == o.SourceObjectID &&
		m.SourceField == o.SourceField &&
		m.SourceCalcOutput == o.SourceCalcOutput &&
		m.SelfField == o.SelfField &&
		m.SelfCalcOutput == o.SelfCalcOutput
}

// DataObject is a node in the verification graph. Id is structured as
// "{component}-{aspect}", e.g. "kms-cpu", "app-event-logs-imr3".
type DataObject struct {
	ID           string                 `json:"id"`
	DisplayName  string                 `json:"displayName"`
	Description  string                 `json:"description,omitempty"`
	Fields       map[string]interface{} `json:"fields"`
	Calculations []Calculation          `json:"calculations,omitempty"`
	MeasuredBy   []MeasuredBy           `json:"measuredBy,omitempty"`
}

// pendingEdge is an edge whose target object did not yet exist when it
// was declared; it is retried whenever a new object is created or updated.
type pendingEdge struct {
	targetID string
	edge     MeasuredBy
}

// EventType distinguishes the two events emitted by createOrUpdate.
type EventType string

const (
	EventObjectCreated EventType = "object_created"
	EventObjectUpdated EventType = "object_updated"
)

// EventListener is invoked on every object create/update. A listener
// panic is recovered, logged and otherwise ignored: event-callback failure
// must never abort collection (spec.md §7 fail-open policy).
type EventListener func(event EventType, obj *DataObject)

// Collector accumulates DataObjects and their relationships for exactly
// one verification run. Never share an instance across concurrent
// verifications — see spec.md §9's singleton-bleed cautionary history.
type Collector struct {
	mu       sync.Mutex
	objects  map[string]*DataObject
	order    []string // insertion order, for stable getAllObjects output
	pending  []pendingEdge
	listener EventListener
	logger   *log.Logger
}

// New creates a fresh, empty Collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		objects: make(map[string]*DataObject),
		logger:  log.New(log.Writer(), "[collector] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures a Collector.
type Option func(*Collector)

// WithListener registers an event listener invoked on every create/update.
func WithListener(l EventListener) Option {
	return func(c *Collector) { c.listener = l }
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// CreateOrUpdate inserts or replaces a DataObject by id and emits the
// corresponding event. Any pending edges that target this id are applied.
func (c *Collector) CreateOrUpdate(obj *DataObject) {
	if obj == nil {
		return
	}

	c.mu.Lock()
	_, existed := c.objects[obj.ID]
	if !existed {
		c.order = append(c.order, obj.ID)
	}
	c.objects[obj.ID] = obj
	c.applyPendingLocked(obj.ID)
	c.mu.Unlock()

	event := EventObjectCreated
	if existed {
		event = EventObjectUpdated
	}
	c.emit(event, obj)
}

// applyPendingLocked must be called with c.mu held.
func (c *Collector) applyPendingLocked(targetID string) {
	target := c.objects[targetID]
	if target == nil {
		return
	}

	remaining := c.pending[:0]
	for _, p := range c.pending {
		if p.targetID != targetID {
			remaining = append(remaining, p)
			continue
		}
		addIfAbsent(target, p.edge)
	}
	c.pending = remaining
}

func addIfAbsent(target *DataObject, edge MeasuredBy) {
	for _, existing := range target.MeasuredBy {
		if existing.equal(edge) {
			return
		}
	}
	target.MeasuredBy = append(target.MeasuredBy, edge)
}

// Relationship is one edge to add via AddRelationships: sourceObjectID
// measures targetObjectID.
type Relationship struct {
	TargetObjectID   string
	SourceObjectID   string
	SourceField      string
	SourceCalcOutput string
	SelfField        string
	SelfCalcOutput   string
}

// AddRelationships appends edges to the pending list and immediately
// applies any whose target object already exists. Duplicate edges
// (by full tuple equality) are idempotent (P3).
func (c *Collector) AddRelationships(edges []Relationship) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range edges {
		edge := MeasuredBy{
			SourceObjectID:   e.SourceObjectID,
			SourceField:      e.SourceField,
			SourceCalcOutput: e.SourceCalcOutput,
			SelfField:        e.SelfField,
			SelfCalcOutput:   e.SelfCalcOutput,
		}

		if target := c.objects[e.TargetObjectID]; target != nil {
			addIfAbsent(target, edge)
			continue
		}

		c.pending = append(c.pending, pendingEdge{targetID: e.TargetObjectID, edge: edge})
	}
}

// VerifierRelationshipConfig is the bulk wiring used to connect KMS to
// Gateway and KMS to App once all objects exist for a verification.
type VerifierRelationshipConfig struct {
	KMSMainID     string
	GatewayMainID string
	AppMainID     string
	// WithOnchainKMS toggles whether fine-grained field/cert edges are
	// added (true) or blank id-to-id edges (false), per spec.md §6's
	// relationship wiring table.
	WithOnchainKMS bool
	GatewayAppID   string // gateway_app_id field value, used when WithOnchainKMS
	CertPubkey     string // cert_pubkey field value, used when WithOnchainKMS
}

// ConfigureVerifierRelationships wires the KMS->Gateway and KMS->App
// edges described in spec.md §6's relationship wiring table.
func (c *Collector) ConfigureVerifierRelationships(cfg VerifierRelationshipConfig) {
	if cfg.WithOnchainKMS {
		c.setFieldLocked(cfg.KMSMainID, "gateway_app_id", cfg.GatewayAppID)
		c.setFieldLocked(cfg.KMSMainID, "cert_pubkey", cfg.CertPubkey)
	}

	var edges []Relationship

	if cfg.GatewayMainID != "" {
		if cfg.WithOnchainKMS {
			edges = append(edges,
				Relationship{
					TargetObjectID: cfg.GatewayMainID, SourceObjectID: cfg.KMSMainID,
					SourceField: "gateway_app_id", SelfField: "app_id",
				},
				Relationship{
					TargetObjectID: cfg.GatewayMainID, SourceObjectID: cfg.KMSMainID,
					SourceField: "cert_pubkey", SelfField: "app_cert",
				},
			)
		} else {
			edges = append(edges, Relationship{TargetObjectID: cfg.GatewayMainID, SourceObjectID: cfg.KMSMainID})
		}
	}

	if cfg.AppMainID != "" {
		if cfg.WithOnchainKMS {
			edges = append(edges, Relationship{
				TargetObjectID: cfg.AppMainID, SourceObjectID: cfg.KMSMainID,
				SourceField: "cert_pubkey", SelfField: "app_cert",
			})
		} else {
			edges = append(edges, Relationship{TargetObjectID: cfg.AppMainID, SourceObjectID: cfg.KMSMainID})
		}
	}

	c.AddRelationships(edges)
}

// setFieldLocked sets a field on an existing object by id; a no-op if
// the object doesn't exist yet or the value is empty, since an edge
// declaring a field backing for a value that was never fetched is not
// worth recording.
func (c *Collector) setFieldLocked(id, field, value string) {
	if value == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	obj := c.objects[id]
	if obj == nil {
		return
	}
	if obj.Fields == nil {
		obj.Fields = make(map[string]interface{})
	}
	obj.Fields[field] = value
}

// SetField sets an arbitrary field on an existing object by id; a no-op
// if the object doesn't exist yet. Unlike setFieldLocked this accepts
// any JSON-marshalable value, for call sites attaching a computed
// struct (e.g. a governance descriptor) rather than a single string.
func (c *Collector) SetField(id, field string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj := c.objects[id]
	if obj == nil {
		return
	}
	if obj.Fields == nil {
		obj.Fields = make(map[string]interface{})
	}
	obj.Fields[field] = value
}

// GetAllObjects returns a snapshot of every object in insertion order.
func (c *Collector) GetAllObjects() []*DataObject {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*DataObject, 0, len(c.order))
	for _, id := range c.order {
		if obj := c.objects[id]; obj != nil {
			out = append(out, obj)
		}
	}
	return out
}

// Clear resets the collector to empty, used at the start of each
// verification so a reused (pooled) collector never leaks state. In
// practice the worker always constructs a fresh Collector per task
// (see spec.md §9); Clear exists so a service-level call site cannot
// accidentally reuse one across two verify() calls without resetting it.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects = make(map[string]*DataObject)
	c.order = nil
	c.pending = nil
}

func (c *Collector) emit(event EventType, obj *DataObject) {
	if c.listener == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("event listener panicked, ignoring: %v", r)
		}
	}()
	c.listener(event, obj)
}

// Mask returns a copy of objs with every compose_file field's embedded
// docker_compose_file JSON key rewritten to "[MASKED]" (P2). The input
// objects are never mutated. Non-JSON compose_file values are returned
// verbatim.
func Mask(objs []*DataObject) []*DataObject {
	out := make([]*DataObject, len(objs))
	for i, obj := range objs {
		out[i] = maskOne(obj)
	}
	return out
}

func maskOne(obj *DataObject) *DataObject {
	if obj == nil {
		return nil
	}

	clone := *obj
	if len(obj.Fields) > 0 {
		clone.Fields = make(map[string]interface{}, len(obj.Fields))
		for k, v := range obj.Fields {
			clone.Fields[k] = v
		}
	}

	raw, ok := clone.Fields["compose_file"]
	if !ok {
		return &clone
	}
	str, ok := raw.(string)
	if !ok {
		return &clone
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(str), &parsed); err != nil {
		// Not valid JSON: returned verbatim, per spec.md §4.2.
		return &clone
	}
	if _, has := parsed["docker_compose_file"]; !has {
		return &clone
	}

	parsed["docker_compose_file"] = "[MASKED]"
	masked, err := json.Marshal(parsed)
	if err != nil {
		return &clone
	}
	clone.Fields["compose_file"] = string(masked)
	return &clone
}
