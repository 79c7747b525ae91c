package audit

import (
	"fmt"
	"testing"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

func buildChain(t *testing.T, length int) []domain.AuditRecord {
	t.Helper()
	records := make([]domain.AuditRecord, 0, length)
	prev := ""
	for i := 0; i < length; i++ {
		action := domain.ActionUpdate
		if i == 0 {
			action = domain.ActionCreate
		}
		rec, err := NewRecord(Input{
			Target:   domain.EntityWorkOrder,
			TargetID: "wo-1",
			Action:   action,
			After:    map[string]any{"version": i + 1, "notes": fmt.Sprintf("rev %d", i+1)},
			PrevHash: prev,
		})
		if err != nil {
			t.Fatalf("build record %d: %v", i+1, err)
		}
		records = append(records, rec)
		prev = rec.Hash
	}
	return records
}

func TestVerifyChainEmpty(t *testing.T) {
	if results := VerifyChain(nil); len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestVerifyChainSequentialUpdates(t *testing.T) {
	records := buildChain(t, 3)

	results := VerifyChain(records)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, res := range results {
		if !res.OK {
			t.Fatalf("expected position %d ok", res.Position)
		}
		if res.Position != i+1 {
			t.Fatalf("expected position %d, got %d", i+1, res.Position)
		}
	}
	if results[0].ExpectedPrevHash != "" {
		t.Fatalf("expected empty genesis previous hash, got %q", results[0].ExpectedPrevHash)
	}
	for i := 1; i < len(records); i++ {
		if records[i].PrevHash != records[i-1].Hash {
			t.Fatalf("record %d does not link to record %d", i+1, i)
		}
		if results[i].ExpectedPrevHash != records[i-1].Hash {
			t.Fatalf("expected carried hash %s at position %d, got %s", records[i-1].Hash, i+1, results[i].ExpectedPrevHash)
		}
	}
	if !ChainOK(results) {
		t.Fatal("expected clean chain")
	}
}

func TestVerifyChainFlagsTamperedRecordAndSuccessors(t *testing.T) {
	records := buildChain(t, 3)

	// Overwrite the second after-image in place, leaving stored hashes alone.
	records[1].After = domain.NewChangePayload([]byte(`{"notes":"forged","version":2}`))

	results := VerifyChain(records)
	if !results[0].OK {
		t.Fatal("expected position 1 to remain ok")
	}
	if results[1].OK {
		t.Fatal("expected tampered position 2 to be flagged")
	}
	if results[2].OK {
		t.Fatal("expected position 3 to be flagged after upstream tamper")
	}
	if ChainOK(results) {
		t.Fatal("expected broken chain")
	}
}

func TestVerifyChainFlagsBrokenLink(t *testing.T) {
	records := buildChain(t, 3)
	records[1].PrevHash = "0000"

	results := VerifyChain(records)
	if !results[0].OK {
		t.Fatal("expected position 1 ok")
	}
	if results[1].OK {
		t.Fatal("expected broken link at position 2")
	}
	if results[1].ActualPrevHash != "0000" {
		t.Fatalf("expected stored link in result, got %q", results[1].ActualPrevHash)
	}
	if results[1].ExpectedPrevHash != records[0].Hash {
		t.Fatalf("expected recomputed link %s, got %s", records[0].Hash, results[1].ExpectedPrevHash)
	}
}

func TestVerifyChainFlagsCorruptedPayload(t *testing.T) {
	records := buildChain(t, 2)
	records[0].After = domain.NewChangePayload([]byte(`{"broken":`))

	results := VerifyChain(records)
	if results[0].OK {
		t.Fatal("expected corrupted position 1 to be flagged")
	}
	if results[1].OK {
		t.Fatal("expected position 2 to be flagged after corrupted predecessor")
	}
}
