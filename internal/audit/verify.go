package audit

import (
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// VerifyChain re-derives every link of one entity's chain in commit order.
// The expected previous hash carried through the walk is the recomputed hash
// of the prior record, not the stored one, so tampering with any record
// breaks its own position and every later one. Positions are 1-based.
//
// A broken chain is reported, never repaired; callers decide how to surface
// the evidence.
func VerifyChain(records []domain.AuditRecord) []domain.VerificationResult {
	results := make([]domain.VerificationResult, 0, len(records))
	expectedPrev := ""
	for i, rec := range records {
		raw := rec.After.Raw()
		canonical, err := CanonicalJSON(raw)
		if err != nil {
			// Unparseable after-images still participate in the walk so a
			// corrupted record cascades like any other mismatch.
			canonical = raw
		}
		recomputed := ChainHash(expectedPrev, canonical)

		results = append(results, domain.VerificationResult{
			Position:         i + 1,
			OK:               err == nil && rec.PrevHash == expectedPrev && rec.Hash == recomputed,
			ExpectedPrevHash: expectedPrev,
			ActualPrevHash:   rec.PrevHash,
		})
		expectedPrev = recomputed
	}
	return results
}

// ChainOK reports whether every position of results verified cleanly.
func ChainOK(results []domain.VerificationResult) bool {
	for _, res := range results {
		if !res.OK {
			return false
		}
	}
	return true
}
