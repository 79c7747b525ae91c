package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// DayFormat is the UTC date layout used for checkpoint days.
const DayFormat = "2006-01-02"

// Digest folds the head hash of every chain into one checkpoint digest.
// Heads are sorted lexicographically first so the result is independent of
// query and map iteration order.
func Digest(heads []domain.AuditRecord) string {
	hashes := make([]string, 0, len(heads))
	for _, rec := range heads {
		hashes = append(hashes, rec.Hash)
	}
	sort.Strings(hashes)

	h := sha256.New()
	for _, hash := range hashes {
		h.Write([]byte(hash))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// NewCheckpoint seals the digest over heads for the given UTC day.
func NewCheckpoint(day string, heads []domain.AuditRecord, now time.Time) domain.Checkpoint {
	return domain.Checkpoint{
		ID:        uuid.NewString(),
		Day:       day,
		HeadHash:  Digest(heads),
		Meta:      domain.CheckpointMeta{Count: len(heads)},
		CreatedAt: now.UTC(),
	}
}

// VerifyCheckpoint recomputes the digest over heads and compares it against
// the stored checkpoint. A mismatch means some chain head inside the
// checkpoint window no longer matches what was sealed.
func VerifyCheckpoint(cp domain.Checkpoint, heads []domain.AuditRecord) error {
	recomputed := Digest(heads)
	if recomputed == cp.HeadHash && len(heads) == cp.Meta.Count {
		return nil
	}
	return domain.ChainIntegrityViolation{
		Detail: fmt.Sprintf("checkpoint %s: digest mismatch (stored %s, recomputed %s over %d heads)",
			cp.Day, shortHash(cp.HeadHash), shortHash(recomputed), len(heads)),
	}
}

// PreviousDay returns the last fully elapsed UTC day before now, the day a
// scheduled checkpoint run covers.
func PreviousDay(now time.Time) string {
	return now.UTC().AddDate(0, 0, -1).Format(DayFormat)
}

// DayEnd returns the exclusive upper bound of the given checkpoint day.
// Records committed at or after this instant belong to later days.
func DayEnd(day string) (time.Time, error) {
	t, err := time.Parse(DayFormat, day)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse checkpoint day %q: %w", day, err)
	}
	return t.AddDate(0, 0, 1), nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
