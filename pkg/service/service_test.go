// Copyright 2025 Certen Protocol

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/certen/tee-verifier/pkg/fetch"
)

type fakeAttestationClient struct {
	sysInfo *fetch.SystemInfo
	sysErr  error
	appInfo *fetch.AppInfo
	appErr  error
}

func (f *fakeAttestationClient) FetchSystemInfo(ctx context.Context, appID string) (*fetch.SystemInfo, error) {
	return f.sysInfo, f.sysErr
}

func (f *fakeAttestationClient) FetchAppInfo(ctx context.Context, rpcEndpoint string, supportsInfoRpc bool) (*fetch.AppInfo, error) {
	return f.appInfo, f.appErr
}

// ============================================================================
// Verify: top-level catastrophe paths
// ============================================================================

func TestVerify_MalformedBaseImageYieldsCatastrophe(t *testing.T) {
	svc := New(Config{AttestationClient: &fakeAttestationClient{}})

	report := svc.Verify(context.Background(), AppConfig{AppID: "app-1", BaseImage: "not-a-version"}, nil)

	if report.Success {
		t.Fatal("expected Success=false for an unparseable base image")
	}
	if len(report.Errors) != 1 {
		t.Fatalf("expected exactly 1 top-level error, got %d", len(report.Errors))
	}
	if len(report.Failures) != 0 {
		t.Errorf("expected no per-step failures for a top-level catastrophe, got %v", report.Failures)
	}
	if report.CompletedAt == "" {
		t.Errorf("expected CompletedAt to be set")
	}
}

func TestVerify_SystemInfoFetchFailureYieldsCatastrophe(t *testing.T) {
	svc := New(Config{AttestationClient: &fakeAttestationClient{sysErr: fetch.ErrUnavailable}})

	report := svc.Verify(context.Background(), AppConfig{AppID: "app-1", BaseImage: "dstack-0.5.3"}, nil)

	if report.Success {
		t.Fatal("expected Success=false when FetchSystemInfo errors")
	}
	if len(report.Errors) != 1 || report.Errors[0].Message == "" {
		t.Errorf("expected a single populated top-level error, got %+v", report.Errors)
	}
}

func TestVerify_NoRunningInstancesYieldsCatastrophe(t *testing.T) {
	svc := New(Config{AttestationClient: &fakeAttestationClient{
		sysInfo: &fetch.SystemInfo{AppID: "app-1", Instances: nil},
	}})

	report := svc.Verify(context.Background(), AppConfig{AppID: "app-1", BaseImage: "dstack-0.5.3"}, nil)

	if report.Success {
		t.Fatal("expected Success=false when the app has no running instances")
	}
}

// ============================================================================
// catastrophe
// ============================================================================

func TestCatastrophe_AlwaysReportsFailure(t *testing.T) {
	svc := New(Config{})
	report := svc.catastrophe(time.Now(), errors.New("boom"))

	if report.Success {
		t.Fatal("expected Success=false")
	}
	if len(report.Failures) != 0 {
		t.Errorf("expected an empty (not nil) Failures slice, got %v", report.Failures)
	}
}
