// Copyright 2025 Certen Protocol
//
// Package versionpolicy extracts the three version-dispatch predicates
// that spec.md §9 calls out as appearing in multiple places
// (supportsInfoRpcEndpoint, supportsOnchainKms, isLegacyVersion) into a
// single policy object keyed by the parsed base_image version, so every
// call site consults the policy rather than re-parsing or re-comparing
// version strings.
package versionpolicy

import (
	"fmt"
	"regexp"
	"strconv"
)

// Version is a parsed dstack base_image version: dstack[-dev|-nvidia[-dev]]-M.m.p[.b]
type Version struct {
	Major, Minor, Patch int
	Build               int // 0 if absent
	HasBuild            bool
	Variant             string // "", "dev", "nvidia", "nvidia-dev"
}

var baseImagePattern = regexp.MustCompile(`^dstack(?:-(dev|nvidia|nvidia-dev))?-(\d+)\.(\d+)\.(\d+)(?:\.(\d+))?$`)

// Parse parses a base_image string of the form
// "dstack[-dev|-nvidia[-dev]]-<M>.<m>.<p>[.b]".
func Parse(baseImage string) (Version, error) {
	m := baseImagePattern.FindStringSubmatch(baseImage)
	if m == nil {
		return Version{}, fmt.Errorf("base_image %q does not match the expected dstack version pattern", baseImage)
	}

	major, _ := strconv.Atoi(m[2])
	minor, _ := strconv.Atoi(m[3])
	patch, _ := strconv.Atoi(m[4])

	v := Version{Major: major, Minor: minor, Patch: patch, Variant: m[1]}
	if m[5] != "" {
		build, _ := strconv.Atoi(m[5])
		v.Build = build
		v.HasBuild = true
	}
	return v, nil
}

// Compare returns -1, 0, or 1 comparing v to (major, minor, patch),
// ignoring build number — build does not participate in the range
// predicates spec.md §4.1 describes.
func (v Version) Compare(major, minor, patch int) int {
	if v.Major != major {
		return sign(v.Major - major)
	}
	if v.Minor != minor {
		return sign(v.Minor - minor)
	}
	if v.Patch != patch {
		return sign(v.Patch - patch)
	}
	return 0
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func (v Version) gte(major, minor, patch int) bool { return v.Compare(major, minor, patch) >= 0 }
func (v Version) lt(major, minor, patch int) bool   { return v.Compare(major, minor, patch) < 0 }

// Policy bundles the three dispatch predicates for a single parsed
// version. Construct one per app / per verification; never compare
// version strings directly at call sites.
type Policy struct {
	v Version
}

// NewPolicy parses baseImage and returns the resulting Policy.
func NewPolicy(baseImage string) (Policy, error) {
	v, err := Parse(baseImage)
	if err != nil {
		return Policy{}, err
	}
	return Policy{v: v}, nil
}

// SupportsInfoRpcEndpoint reports whether the app's AttestationClient
// should call /prpc/Info (true) or the legacy /prpc/Worker.Info (false).
func (p Policy) SupportsInfoRpcEndpoint() bool { return p.v.gte(0, 5, 0) }

// SupportsOnchainKms reports whether the app uses on-chain KMS
// governance (the modern chain) or the legacy stub chain.
func (p Policy) SupportsOnchainKms() bool { return p.v.gte(0, 5, 3) }

// IsLegacyVersion is the negation of SupportsOnchainKms, named for
// call-site clarity where "legacy" reads better than "not onchain".
func (p Policy) IsLegacyVersion() bool { return !p.SupportsOnchainKms() }

// Version returns the parsed version backing this policy.
func (p Policy) Version() Version { return p.v }

// Routing is the result of applying spec.md §4.1's version-routing
// table to an app's upstream fields.
type Routing struct {
	ContractAddress string
	ModelOrDomain   string
	Valid           bool
}

// Route applies the version-routing rule:
//
//	>= 0.5.3   : contract_address = "0x"+appID, model_or_domain = gatewayDomainSuffix
//	0.5.1-0.5.2: contract_address = upstreamContractAddress, model_or_domain = tproxyBaseDomain
//	< 0.5.1    : contract_address empty (invalid), model_or_domain = tproxyBaseDomain
func (p Policy) Route(appID, upstreamContractAddress, gatewayDomainSuffix, tproxyBaseDomain string) Routing {
	switch {
	case p.v.gte(0, 5, 3):
		return Routing{ContractAddress: "0x" + appID, ModelOrDomain: gatewayDomainSuffix, Valid: true}
	case p.v.gte(0, 5, 1):
		return Routing{ContractAddress: upstreamContractAddress, ModelOrDomain: tproxyBaseDomain, Valid: upstreamContractAddress != ""}
	default:
		return Routing{ContractAddress: "", ModelOrDomain: tproxyBaseDomain, Valid: false}
	}
}
