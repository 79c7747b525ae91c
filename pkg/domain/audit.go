package domain

import "time"

// AuditRecord is one link in the tamper-evident history of a single entity.
// Records for a (Target, TargetID) pair form a hash chain: Hash covers the
// canonical serialization of After together with PrevHash, and PrevHash is the
// prior record's Hash (empty for the first record). Records are append-only;
// no code path outside the mutation pipeline may write them.
type AuditRecord struct {
	ID        string        `json:"id"`
	Target    EntityType    `json:"target"`
	TargetID  string        `json:"target_id"`
	FactoryID string        `json:"factory_id"`
	Action    Action        `json:"action"`
	Before    ChangePayload `json:"before"`
	After     ChangePayload `json:"after"`
	Actor     string        `json:"actor"`
	IP        string        `json:"ip,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
	TS        time.Time     `json:"ts"`
	PrevHash  string        `json:"previous_hash"`
	Hash      string        `json:"current_hash"`
}

// ChainKey returns the identifier grouping records into one hash chain.
func (r AuditRecord) ChainKey() string {
	return ChainKey(r.Target, r.TargetID)
}

// ChainKey derives the chain identifier for a target entity.
func ChainKey(target EntityType, targetID string) string {
	return string(target) + "/" + targetID
}

// VerificationResult reports the outcome of re-deriving one chain position.
// ExpectedPrevHash is the recomputed hash of the prior record carried forward
// through the walk; ActualPrevHash is what the stored record claims. OK is
// false when either the link or the recomputed content hash disagrees with
// the stored record.
type VerificationResult struct {
	Position         int    `json:"position"`
	OK               bool   `json:"ok"`
	ExpectedPrevHash string `json:"expected_prev_hash"`
	ActualPrevHash   string `json:"actual_prev_hash"`
}

// Checkpoint is a persisted daily digest over the head hash of every audit
// chain, enabling cheap tamper-window detection without re-walking full
// history. Day is the UTC date (2006-01-02) whose end bounds the digested
// records.
type Checkpoint struct {
	ID        string         `json:"id"`
	Day       string         `json:"day"`
	HeadHash  string         `json:"head_hash"`
	Meta      CheckpointMeta `json:"meta"`
	CreatedAt time.Time      `json:"created_at"`
}

// CheckpointMeta carries digest bookkeeping persisted beside the head hash.
type CheckpointMeta struct {
	Count int `json:"count"`
}
