package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// DefaultArchivePrefix is where checkpoint artifacts live inside the store.
const DefaultArchivePrefix = "checkpoints"

// Archiver writes sealed checkpoints into a blob store as one JSON artifact
// per day. The artifact is an offsite copy for retention and export; the
// checkpoint row in the primary store stays authoritative.
type Archiver struct {
	store  Store
	prefix string
}

// NewArchiver returns an Archiver writing under prefix. An empty prefix
// falls back to DefaultArchivePrefix.
func NewArchiver(store Store, prefix string) *Archiver {
	if prefix == "" {
		prefix = DefaultArchivePrefix
	}
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/")}
}

// ArchiveCheckpoint writes the artifact for the checkpoint's day. Archiving
// the same checkpoint twice is a no-op; a different checkpoint already
// archived under the same day is an error.
func (a *Archiver) ArchiveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	if cp.Day == "" {
		return fmt.Errorf("checkpoint has no day")
	}
	payload, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	opts := PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"checkpoint_id": cp.ID,
			"chains":        strconv.Itoa(cp.Meta.Count),
		},
	}
	if _, err := a.store.Put(ctx, a.keyFor(cp.Day), bytes.NewReader(payload), opts); err != nil {
		existing, fetchErr := a.FetchCheckpoint(ctx, cp.Day)
		if fetchErr == nil && existing.ID == cp.ID {
			return nil
		}
		return fmt.Errorf("archive checkpoint for %s: %w", cp.Day, err)
	}
	return nil
}

// FetchCheckpoint reads the archived artifact for day back into a checkpoint.
func (a *Archiver) FetchCheckpoint(ctx context.Context, day string) (domain.Checkpoint, error) {
	_, rc, err := a.store.Get(ctx, a.keyFor(day))
	if err != nil {
		return domain.Checkpoint{}, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	var cp domain.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return domain.Checkpoint{}, fmt.Errorf("decode checkpoint artifact for %s: %w", day, err)
	}
	return cp, nil
}

// ArchivedDays lists the days holding an archived artifact, ascending.
func (a *Archiver) ArchivedDays(ctx context.Context) ([]string, error) {
	infos, err := a.store.List(ctx, a.prefix+"/")
	if err != nil {
		return nil, err
	}
	days := make([]string, 0, len(infos))
	for _, info := range infos {
		name := strings.TrimPrefix(info.Key, a.prefix+"/")
		if day, ok := strings.CutSuffix(name, ".json"); ok && !strings.Contains(day, "/") {
			days = append(days, day)
		}
	}
	return days, nil
}

// ExportURL returns a time-limited download URL for the day's artifact when
// the backend supports pre-signing.
func (a *Archiver) ExportURL(ctx context.Context, day string, expiry time.Duration) (string, error) {
	return a.store.PresignURL(ctx, a.keyFor(day), SignedURLOptions{Method: "GET", Expiry: expiry})
}

func (a *Archiver) keyFor(day string) string {
	return path.Join(a.prefix, day+".json")
}
