// Copyright 2025 Certen Protocol
//
// Grounded on pkg/attestation/service.go's Config/NewService functional
// construction and per-call lifecycle shape, generalized from
// attestation-bundle broadcast/collect to the fetch → build chain →
// execute → relate → respond lifecycle spec.md §4.4 describes.

package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/certen/tee-verifier/pkg/collector"
	"github.com/certen/tee-verifier/pkg/fetch"
	"github.com/certen/tee-verifier/pkg/verifier"
	"github.com/certen/tee-verifier/pkg/versionpolicy"
)

// Config bundles the fact-fetcher adapters a Service drives. All fields
// are required except ITAClient/ITAAPIKey (ITA corroboration is skipped
// when ITAClient is nil) and CTLogClient (only exercised when the ctLog
// flag is set).
type Config struct {
	AttestationClient fetch.AttestationClient
	GatewayClient     fetch.GatewayClient
	Registry          fetch.OnChainRegistry
	CTLogClient       fetch.CTLogClient
	ITAClient         fetch.ITAClient
	ITAAPIKey         string
	ToolExec          fetch.ToolExec
	ImageRepo         fetch.ImageRepository

	// CloudAPIBaseURL is the same base URL AttestationClient was
	// constructed against; the app component's own /prpc/Info surface
	// is served from this same host, keyed by app_id, mirroring the
	// convention HTTPAttestationClient.FetchSystemInfo already uses for
	// "{base}/api/v1/apps/{app_id}/info".
	CloudAPIBaseURL string

	Logger *log.Logger
}

// Service drives one verification per Verify call, against a fresh
// collector every time — never shared across calls (spec.md §9's
// singleton-bleed cautionary history; hard invariant P1).
type Service struct {
	cfg      Config
	gitCommit *gitCommitResolver
}

// New constructs a Service from Config.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[service] ", log.LstdFlags)
	}
	return &Service{cfg: cfg, gitCommit: newGitCommitResolver()}
}

// Verify implements C4's verify(appConfig, flags) lifecycle in full:
// reset state (a fresh collector is constructed here, never reused),
// merge flags, fetch SystemInfo (+ best-effort git_commit), build and
// execute the chain, wire post-chain relationships, and assemble the
// report artifact.
func (s *Service) Verify(ctx context.Context, app AppConfig, flagOverride *verifier.Flags) Report {
	now := time.Now()
	col := collector.New()

	flags := verifier.DefaultFlags().Merge(flagOverride)

	policy, err := versionpolicy.NewPolicy(app.BaseImage)
	if err != nil {
		return s.catastrophe(now, err)
	}

	sysInfo, err := s.cfg.AttestationClient.FetchSystemInfo(ctx, app.AppID)
	if err != nil {
		return s.catastrophe(now, err)
	}

	if policy.SupportsInfoRpcEndpoint() && len(sysInfo.Instances) > 0 {
		if commit, gitErr := s.gitCommit.resolve(ctx, sysInfo.Instances[0].ImageVersion); gitErr != nil {
			s.cfg.Logger.Printf("git_commit resolution failed (non-fatal): %v", gitErr)
		} else if commit != "" {
			col.CreateOrUpdate(&collector.DataObject{
				ID:          "app-source-ref",
				DisplayName: "app source reference",
				Fields:      map[string]interface{}{"git_commit": commit, "image_version": sysInfo.Instances[0].ImageVersion},
			})
		}
	}

	chainInputs, resolvedChainID, err := s.buildChainInputs(ctx, app, policy, sysInfo, col)
	if err != nil {
		return s.catastrophe(now, err)
	}

	chain := verifier.BuildChain(*chainInputs, col)
	result := verifier.Execute(ctx, chain, flags)

	s.wireRelationships(col, policy, sysInfo, resolvedChainID)

	report := newReport(now, result)
	report.DataObjects = collector.Mask(col.GetAllObjects())
	return report
}

// catastrophe builds the single-error partial response emitted when
// getSystemInfo or chain construction fails outright (spec.md §7's
// "top-level catastrophe" channel).
func (s *Service) catastrophe(now time.Time, err error) Report {
	return Report{
		CompletedAt: now.UTC().Format(time.RFC3339),
		Errors:      []ErrorEntry{{Message: mapTopLevelError(err)}},
		Failures:    []FailureEntry{},
		Success:     false,
	}
}

// buildChainInputs assembles the three component AttestationBundles and
// the verifier.Deps bundle. KMS evidence comes from the on-chain
// registry (quote/eventlog/ca_pubkey keyed by chain_id+contract); Gateway
// and App evidence come from their own /prpc/Info surfaces.
func (s *Service) buildChainInputs(ctx context.Context, app AppConfig, policy versionpolicy.Policy, sysInfo *fetch.SystemInfo, col *collector.Collector) (*verifier.ChainInputs, *int64, error) {
	var resolvedChainID *int64
	chainID := int64(0)
	if sysInfo.KmsInfo.ChainID != nil {
		chainID = *sysInfo.KmsInfo.ChainID
		resolvedChainID = sysInfo.KmsInfo.ChainID
	} else if app.KMSChainID != nil {
		chainID = *app.KMSChainID
		resolvedChainID = app.KMSChainID
	}

	deps := verifier.Deps{
		ToolExec:    s.cfg.ToolExec,
		ImageRepo:   s.cfg.ImageRepo,
		Registry:    s.cfg.Registry,
		CTLogClient: s.cfg.CTLogClient,
		GatewayCl:   s.cfg.GatewayClient,
		ITAClient:   s.cfg.ITAClient,
		ITAAPIKey:   s.cfg.ITAAPIKey,
	}

	imageFolderName := ""
	if len(sysInfo.Instances) > 0 {
		imageFolderName = sysInfo.Instances[0].ImageVersion
	}

	var kmsBundle *fetch.AttestationBundle
	if !policy.IsLegacyVersion() && s.cfg.Registry != nil {
		bundle, err := s.fetchKMSBundle(ctx, chainID, sysInfo.KmsInfo.ContractAddress, sysInfo.KmsInfo.URL, policy)
		if err != nil {
			s.cfg.Logger.Printf("kms bundle assembly failed: %v", err)
		} else {
			kmsBundle = bundle
		}
	}

	var gatewayBundle *fetch.AttestationBundle
	if !policy.IsLegacyVersion() && sysInfo.KmsInfo.GatewayAppURL != "" {
		bundle, err := s.fetchGatewayBundle(ctx, sysInfo.KmsInfo.GatewayAppURL)
		if err != nil {
			s.cfg.Logger.Printf("gateway bundle assembly failed: %v", err)
		} else {
			gatewayBundle = bundle
		}
	}

	appBundle, err := s.fetchAppBundle(ctx, app.AppID, sysInfo, policy)
	if err != nil {
		return nil, nil, fmt.Errorf("assembling app bundle: %w", err)
	}

	return &verifier.ChainInputs{
		Policy:          policy,
		KMSBundle:       kmsBundle,
		GatewayBundle:   gatewayBundle,
		AppBundle:       appBundle,
		ChainID:         chainID,
		ContractAddress: app.ContractAddress,
		ImageFolderName: imageFolderName,
		Domain:          app.ModelOrDomain,
		GatewayRPC:      sysInfo.KmsInfo.GatewayAppURL,
		AcmeCAA:         app.AcmeCAA,
		Deps:            deps,
	}, resolvedChainID, nil
}

func (s *Service) fetchKMSBundle(ctx context.Context, chainID int64, contractAddress, rpcURL string, policy versionpolicy.Policy) (*fetch.AttestationBundle, error) {
	quoteHex, eventLogJSON, caPubkey, err := s.cfg.Registry.KmsInfo(ctx, chainID, contractAddress)
	if err != nil {
		return nil, fmt.Errorf("reading kms info from registry: %w", err)
	}

	events, err := decodeHexEventLog(eventLogJSON)
	if err != nil {
		return nil, fmt.Errorf("decoding kms event log: %w", err)
	}

	var info fetch.AppInfo
	if rpcURL != "" {
		appInfo, err := s.cfg.AttestationClient.FetchAppInfo(ctx, rpcURL, policy.SupportsInfoRpcEndpoint())
		if err != nil {
			return nil, fmt.Errorf("fetching kms app info: %w", err)
		}
		info = *appInfo
	}

	return &fetch.AttestationBundle{
		SigningAddress: caPubkey,
		IntelQuote:     quoteHex,
		EventLog:       events,
		Info:           info,
	}, nil
}

func (s *Service) fetchGatewayBundle(ctx context.Context, gatewayRPC string) (*fetch.AttestationBundle, error) {
	info, err := s.cfg.GatewayClient.FetchAppInfo(ctx, gatewayRPC)
	if err != nil {
		return nil, fmt.Errorf("fetching gateway app info: %w", err)
	}

	return &fetch.AttestationBundle{
		IntelQuote: "", // the gateway's raw quote is not separately published; hardware step relies on info.TcbInfo alone
		EventLog:   info.TcbInfo.EventLog,
		Info:       *info,
	}, nil
}

func (s *Service) fetchAppBundle(ctx context.Context, appID string, sysInfo *fetch.SystemInfo, policy versionpolicy.Policy) (*fetch.AttestationBundle, error) {
	if len(sysInfo.Instances) == 0 {
		return nil, fetch.ErrNoRunningInstances
	}
	instance := sysInfo.Instances[0]

	rpcEndpoint := fmt.Sprintf("%s/api/v1/apps/%s", s.cfg.CloudAPIBaseURL, appID)
	info, err := s.cfg.AttestationClient.FetchAppInfo(ctx, rpcEndpoint, policy.SupportsInfoRpcEndpoint())
	if err != nil {
		return nil, fmt.Errorf("fetching app info: %w", err)
	}

	return &fetch.AttestationBundle{
		IntelQuote: instance.Quote,
		EventLog:   instance.EventLog,
		Info:       *info,
	}, nil
}

// wireRelationships applies spec.md §6's relationship wiring table
// after the chain has run and all *-main objects exist.
func (s *Service) wireRelationships(col *collector.Collector, policy versionpolicy.Policy, sysInfo *fetch.SystemInfo, chainID *int64) {
	// Both the modern PhalaCloudKms and the LegacyKmsStub emit "kms-main".
	col.ConfigureVerifierRelationships(collector.VerifierRelationshipConfig{
		KMSMainID:      "kms-main",
		GatewayMainID:  "gateway-main",
		AppMainID:      "app-main",
		WithOnchainKMS: policy.SupportsOnchainKms(),
		GatewayAppID:   sysInfo.KmsInfo.GatewayAppID,
		CertPubkey:     sysInfo.KmsInfo.URL, // best available stand-in for a published cert pubkey; see DESIGN.md
	})

	// §8's governance descriptor (OnChain/HostedBy, chain name, explorer
	// link) is attached to kms-main so the report surfaces it, rather than
	// being a pure function nothing in the verify path ever calls.
	col.SetField("kms-main", "governance", governanceFor(chainID))
}
