package cli

import (
	"strings"
	"testing"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

func TestVerifyCleanDeployment(t *testing.T) {
	d := newTestDeployment(t)
	d.seedSKU(t)

	out, _, code := d.run(t, "verify", "--format", "json")
	if code != ExitSuccess {
		t.Fatalf("expected success, got exit %d: %s", code, out)
	}
	resp := decodeResponse[auditReportView](t, out)
	if resp.Status != "ok" {
		t.Fatalf("unexpected status %q", resp.Status)
	}
	if !resp.Data.OK {
		t.Fatalf("expected clean report, got %+v", resp.Data)
	}
	if resp.Data.Chains != 2 {
		t.Fatalf("expected the factory and sku chains, got %d", resp.Data.Chains)
	}
}

func TestVerifyTextOutput(t *testing.T) {
	d := newTestDeployment(t)
	d.seedSKU(t)

	out, _, code := d.run(t, "verify")
	if code != ExitSuccess {
		t.Fatalf("expected success, got exit %d: %s", code, out)
	}
	if !strings.Contains(out, "✓ audit chains intact (2 chains)") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	d := newTestDeployment(t)
	_, skuID := d.seedSKU(t)
	d.tamperAuditRecord(t, domain.EntitySKU, skuID)

	out, _, code := d.run(t, "verify", "--format", "json")
	if code != ExitFailure {
		t.Fatalf("tampering should exit %d, got %d: %s", ExitFailure, code, out)
	}
	resp := decodeResponse[auditReportView](t, out)
	if resp.Status != "error" || resp.Error == nil || resp.Error.Code != "integrity" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if resp.Data.OK {
		t.Fatalf("report should carry the violations")
	}
	// Rewriting record 0 breaks its content hash and the link from record 1.
	if len(resp.Data.Violations) != 2 {
		t.Fatalf("expected 2 violations, got %+v", resp.Data.Violations)
	}
	for _, v := range resp.Data.Violations {
		if v.Target != domain.EntitySKU || v.TargetID != skuID {
			t.Fatalf("violation names the wrong chain: %+v", v)
		}
	}
}

func TestVerifyTamperingTextListsPositions(t *testing.T) {
	d := newTestDeployment(t)
	_, skuID := d.seedSKU(t)
	d.tamperAuditRecord(t, domain.EntitySKU, skuID)

	out, _, code := d.run(t, "verify")
	if code != ExitFailure {
		t.Fatalf("expected exit %d, got %d", ExitFailure, code)
	}
	if !strings.Contains(out, "✗ 2 integrity violations across 2 chains") {
		t.Fatalf("unexpected header in %q", out)
	}
	if !strings.Contains(out, skuID) {
		t.Fatalf("violations should name the chain, got %q", out)
	}
}

func TestVerifySingleChain(t *testing.T) {
	d := newTestDeployment(t)
	_, skuID := d.seedSKU(t)

	out, _, code := d.run(t, "verify", "--target", "sku", "--id", skuID, "--format", "json")
	if code != ExitSuccess {
		t.Fatalf("expected success, got exit %d: %s", code, out)
	}
	resp := decodeResponse[chainReportView](t, out)
	if !resp.Data.OK || resp.Data.Records != 2 {
		t.Fatalf("unexpected chain report %+v", resp.Data)
	}
	for i, res := range resp.Data.Results {
		if res.Position != i || !res.OK {
			t.Fatalf("unexpected result at %d: %+v", i, res)
		}
	}
}

func TestVerifySingleChainFlagsBreak(t *testing.T) {
	d := newTestDeployment(t)
	_, skuID := d.seedSKU(t)
	d.tamperAuditRecord(t, domain.EntitySKU, skuID)

	out, _, code := d.run(t, "verify", "--target", "sku", "--id", skuID)
	if code != ExitFailure {
		t.Fatalf("expected exit %d, got %d: %s", ExitFailure, code, out)
	}
	if !strings.Contains(out, "✗ chain broken for sku "+skuID) {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestVerifyUnknownIDIsCommandError(t *testing.T) {
	d := newTestDeployment(t)
	d.seedSKU(t)

	out, _, code := d.run(t, "verify", "--target", "sku", "--id", "sku-missing", "--format", "json")
	if code != ExitCommandError {
		t.Fatalf("expected exit %d, got %d: %s", ExitCommandError, code, out)
	}
	resp := decodeResponse[any](t, out)
	if resp.Error == nil || resp.Error.Code != "not_found" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
}

func TestVerifyChainMaskedOutsideScope(t *testing.T) {
	d := newTestDeployment(t)
	_, skuID := d.seedSKU(t)

	// A viewer scoped to another factory gets the same not_found as a
	// nonexistent id; the response must not betray that the row exists.
	out, _, code := d.run(t, "verify", "--target", "sku", "--id", skuID,
		"--role", "viewer", "--factory", "fac-elsewhere", "--format", "json")
	if code != ExitCommandError {
		t.Fatalf("expected exit %d, got %d: %s", ExitCommandError, code, out)
	}
	resp := decodeResponse[any](t, out)
	if resp.Error == nil || resp.Error.Code != "not_found" {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if strings.Contains(resp.Error.Message, "denied") {
		t.Fatalf("masked lookups must read as absent, got %q", resp.Error.Message)
	}
}

func TestVerifyTargetAndIDRequiredTogether(t *testing.T) {
	d := newTestDeployment(t)

	_, _, code := d.run(t, "verify", "--id", "sku-1")
	if code != ExitCommandError {
		t.Fatalf("expected exit %d, got %d", ExitCommandError, code)
	}
}

func TestVerifyRejectsUnknownTarget(t *testing.T) {
	d := newTestDeployment(t)

	_, _, code := d.run(t, "verify", "--target", "invoice", "--id", "x")
	if code != ExitCommandError {
		t.Fatalf("expected exit %d, got %d", ExitCommandError, code)
	}
}
