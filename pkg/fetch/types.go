// Copyright 2025 Certen Protocol
//
// Package fetch implements C1: hardened adapters for every external fact
// the verifier chain needs — attestation/gateway HTTP endpoints, on-chain
// registry reads, Certificate Transparency queries, Intel Trust Authority
// appraisal, and local tool execution. Every adapter is suspendable via
// context.Context and carries its own timeout.
package fetch

import "errors"

// ErrNotFound is returned by AttestationClient.FetchSystemInfo when the
// upstream endpoint responds 404/500-mapped-to-not-found.
var ErrNotFound = errors.New("system info not found")

// ErrUnavailable is returned when the upstream endpoint is unreachable
// or returns a non-200 status other than 404 and 500.
var ErrUnavailable = errors.New("attestation endpoint unavailable")

// ErrNoRunningInstances is returned when every reported instance was
// dropped for missing a required field (quote, eventlog, image_version).
var ErrNoRunningInstances = errors.New("no running instances with complete attestation data")

// EventLogEntry is one entry in a TDX event log.
type EventLogEntry struct {
	IMR          int    `json:"imr"`
	EventType    uint32 `json:"event_type"`
	Digest       string `json:"digest"` // hex, <= 48 bytes once decoded
	Event        string `json:"event"`
	EventPayload string `json:"event_payload"`
}

// Instance is one running instance reported for an app.
type Instance struct {
	Quote        string          `json:"quote"` // hex, 0x-prefixed, lowercase (normalized)
	EventLog     []EventLogEntry `json:"eventlog"`
	ImageVersion string          `json:"image_version"`
}

// KmsInfo describes the KMS component of a SystemInfo record.
type KmsInfo struct {
	ContractAddress string `json:"contract_address"`
	ChainID         *int64 `json:"chain_id"`
	Version         string `json:"version"` // e.g. "v0.5.3 (git:c06e524bd460fd9c9add)"
	URL             string `json:"url"`
	GatewayAppID    string `json:"gateway_app_id"`
	GatewayAppURL   string `json:"gateway_app_url"`
}

// SystemInfo is the upstream-reported description of a running app.
type SystemInfo struct {
	AppID           string     `json:"app_id"`
	ContractAddress string     `json:"contract_address"`
	KmsInfo         KmsInfo    `json:"kms_info"`
	Instances       []Instance `json:"instances"`
}

// TCBInfo is the trusted computing base info embedded in AppInfo.
type TCBInfo struct {
	MRTD          string          `json:"mrtd"`
	RTMR0         string          `json:"rtmr0"`
	RTMR1         string          `json:"rtmr1"`
	RTMR2         string          `json:"rtmr2"`
	RTMR3         string          `json:"rtmr3"`
	MRAggregated  string          `json:"mr_aggregated"`
	OSImageHash   string          `json:"os_image_hash"`
	ComposeHash   string          `json:"compose_hash"`
	DeviceID      string          `json:"device_id"`
	AppCompose    string          `json:"app_compose"` // raw JSON string
	EventLog      []EventLogEntry `json:"event_log"`
}

// VMConfig is the VM configuration embedded in AppInfo.
type VMConfig struct {
	CPUCount              int   `json:"cpu_count"`
	MemorySize            int64 `json:"memory_size"`
	NumGPUs               int   `json:"num_gpus"`
	NumNvSwitches         int   `json:"num_nvswitches"`
	HotplugOff            bool  `json:"hotplug_off"`
	QemuSinglePassAddPages bool `json:"qemu_single_pass_add_pages"`
	PIC                   bool  `json:"pic"`
	PCIHole64Size         int64 `json:"pci_hole64_size"`
	Hugepages             bool  `json:"hugepages"`
}

// AppInfo is the full info payload returned by /prpc/Info or /prpc/Worker.Info.
type AppInfo struct {
	AppID     string   `json:"app_id"`
	TcbInfo   TCBInfo  `json:"tcb_info"`
	VMConfig  VMConfig `json:"vm_config"`
}

// AttestationBundle is the full bundle consumed by the verifier chain.
type AttestationBundle struct {
	SigningAddress string   `json:"signing_address"`
	IntelQuote     string   `json:"intel_quote"`
	NvidiaPayload  *string  `json:"nvidia_payload,omitempty"`
	EventLog       []EventLogEntry `json:"event_log"`
	Info           AppInfo  `json:"info"`
}

// AcmeInfo is the gateway's ACME registration info.
type AcmeInfo struct {
	AccountURL string `json:"account_url"`
	Domain     string `json:"domain"`
}

// TD10Report is the subset of a decoded DCAP TD report used by the
// verifier chain to populate the "quote" DataObject and compare against
// event-log replay.
type TD10Report struct {
	MRTD  string `json:"mrtd"`
	RTMR0 string `json:"rtmr0"`
	RTMR1 string `json:"rtmr1"`
	RTMR2 string `json:"rtmr2"`
	RTMR3 string `json:"rtmr3"`
	// Status is the DCAP verification status, e.g. "UpToDate", "OutOfDate".
	Status string `json:"status"`
}

// MeasurementResult is the output of ToolExec.MeasureImages: the
// locally-recomputed {mrtd, rtmr0, rtmr1, rtmr2} for comparison against
// TD10Report (RTMR3 is explicitly excluded — it is application-specific).
type MeasurementResult struct {
	MRTD  string `json:"mrtd"`
	RTMR0 string `json:"rtmr0"`
	RTMR1 string `json:"rtmr1"`
	RTMR2 string `json:"rtmr2"`
}
