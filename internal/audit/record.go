package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Tombstone is the after-image sealed into the final record of a deleted
// entity. Hashing the marker instead of the removed row keeps the chain
// verifiable after the row itself is gone.
func Tombstone() map[string]any {
	return map[string]any{"_deleted": true}
}

// ChainHash links a canonical after-image to its predecessor. The previous
// hash is the prior record's hex digest, empty for the first record of a
// chain.
func ChainHash(prevHash string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// Input describes one committed mutation about to be sealed into a chain.
// Before is nil on create; After is ignored on delete and replaced by the
// tombstone marker.
type Input struct {
	Target    domain.EntityType
	TargetID  string
	FactoryID string
	Action    domain.Action
	Before    any
	After     any
	Actor     string
	IP        string
	UserAgent string
	TS        time.Time
	PrevHash  string
}

// NewRecord canonicalizes the payloads in in and seals them into an
// AuditRecord whose hash extends the chain identified by in.PrevHash. The
// stored after-image is the exact canonical text the hash covers, so a later
// verification can recompute the digest byte for byte.
func NewRecord(in Input) (domain.AuditRecord, error) {
	after := in.After
	if in.Action == domain.ActionDelete || after == nil {
		after = Tombstone()
	}
	canonical, err := CanonicalJSON(after)
	if err != nil {
		return domain.AuditRecord{}, fmt.Errorf("canonicalize after image: %w", err)
	}

	rec := domain.AuditRecord{
		ID:        uuid.NewString(),
		Target:    in.Target,
		TargetID:  in.TargetID,
		FactoryID: in.FactoryID,
		Action:    in.Action,
		After:     domain.NewChangePayload(canonical),
		Actor:     in.Actor,
		IP:        in.IP,
		UserAgent: in.UserAgent,
		TS:        in.TS.UTC(),
		PrevHash:  in.PrevHash,
		Hash:      ChainHash(in.PrevHash, canonical),
	}
	if in.Before != nil {
		before, err := CanonicalJSON(in.Before)
		if err != nil {
			return domain.AuditRecord{}, fmt.Errorf("canonicalize before image: %w", err)
		}
		rec.Before = domain.NewChangePayload(before)
	}
	return rec, nil
}
