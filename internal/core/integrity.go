package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/i2kashif/CopperCore-sub002/internal/audit"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// CheckpointArchiver persists checkpoint artifacts outside the primary
// store, typically to a blob backend. Archival is best-effort: the digest in
// the store stays authoritative when archiving fails.
type CheckpointArchiver interface {
	ArchiveCheckpoint(ctx context.Context, cp domain.Checkpoint) error
}

// History returns the commit-ordered audit records of one entity. A chain
// outside the session's factory scope reads as absent, like the entity
// itself.
func (s *Service) History(_ context.Context, session domain.Session, target domain.EntityType, targetID string) ([]domain.AuditRecord, error) {
	records := s.store.AuditHistory(target, targetID)
	if len(records) == 0 {
		return nil, domain.ErrNotFound{Entity: target, ID: targetID}
	}
	// Scope follows the entity. A deleted entity keeps the factory stamped
	// on its final record.
	if !s.policy.InScope(session.Principal, records[len(records)-1].FactoryID) {
		return nil, domain.ErrNotFound{Entity: target, ID: targetID}
	}
	return records, nil
}

// VerifyChain re-derives one entity's audit chain from genesis and reports
// every position. Tampering with a record flags its own position and every
// later one.
func (s *Service) VerifyChain(ctx context.Context, session domain.Session, target domain.EntityType, targetID string) ([]domain.VerificationResult, error) {
	records, err := s.History(ctx, session, target, targetID)
	if err != nil {
		return nil, err
	}
	return audit.VerifyChain(records), nil
}

// VerifyAudit walks every audit chain in the store and reports the outcome.
// Violations are evidence handed to the integrity reporter, never repaired;
// the pass itself succeeds unless the store cannot be read.
func (s *Service) VerifyAudit(ctx context.Context) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: s.clock.Now()}
	err := s.run(ctx, "verify_audit", func(ctx context.Context) (string, error) {
		heads := s.store.AuditHeads()
		report.Chains = len(heads)
		for _, head := range heads {
			records := s.store.AuditHistory(head.Target, head.TargetID)
			for _, res := range audit.VerifyChain(records) {
				if res.OK {
					continue
				}
				report.Violations = append(report.Violations, domain.ChainIntegrityViolation{
					Target:   head.Target,
					TargetID: head.TargetID,
					Position: res.Position,
					Detail:   verificationDetail(res),
				})
			}
		}
		s.reporter.Report(ctx, report)
		if !report.OK() {
			s.logger.Warn("audit verification found violations", "chains", report.Chains, "violations", len(report.Violations))
		}
		return "", nil
	})
	return report, err
}

// verificationDetail distinguishes a broken link from tampered content.
func verificationDetail(res domain.VerificationResult) string {
	if res.ActualPrevHash != res.ExpectedPrevHash {
		return fmt.Sprintf("previous hash link broken: stored %s, expected %s",
			truncateHash(res.ActualPrevHash), truncateHash(res.ExpectedPrevHash))
	}
	return "record content does not match its sealed hash"
}

func truncateHash(hash string) string {
	if hash == "" {
		return "<genesis>"
	}
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// RunCheckpoint seals the daily digest for the given UTC day (2006-01-02).
// An empty day targets the last fully elapsed day. The digest covers the
// head of every chain as of the end of that day.
func (s *Service) RunCheckpoint(ctx context.Context, day string) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.run(ctx, "run_checkpoint", func(ctx context.Context) (string, error) {
		if day == "" {
			day = audit.PreviousDay(s.clock.Now())
		}
		cutoff, err := audit.DayEnd(day)
		if err != nil {
			return "", err
		}
		heads := s.store.AuditHeadsAsOf(cutoff)
		cp = audit.NewCheckpoint(day, heads, s.clock.Now())
		if err := s.store.AppendCheckpoint(ctx, cp); err != nil {
			return "", err
		}
		if s.archiver != nil {
			if err := s.archiver.ArchiveCheckpoint(ctx, cp); err != nil {
				// The sealed checkpoint stays authoritative in the store.
				s.logger.Warn("checkpoint archive failed", "day", day, "error", err)
			}
		}
		s.logger.Info("checkpoint sealed", "day", day, "chains", cp.Meta.Count)
		return cp.ID, nil
	})
	return cp, err
}

// VerifyCheckpoint recomputes the digest for a sealed checkpoint day from
// the stored chains and compares it against the sealed value. An empty day
// targets the latest checkpoint.
func (s *Service) VerifyCheckpoint(ctx context.Context, day string) (IntegrityReport, error) {
	report := IntegrityReport{CheckedAt: s.clock.Now()}
	err := s.run(ctx, "verify_checkpoint", func(ctx context.Context) (string, error) {
		cp, ok := s.findCheckpoint(day)
		if !ok {
			if day == "" {
				return "", errors.New("no checkpoint sealed yet")
			}
			return "", fmt.Errorf("no checkpoint sealed for day %s", day)
		}
		cutoff, err := audit.DayEnd(cp.Day)
		if err != nil {
			return "", err
		}
		heads := s.store.AuditHeadsAsOf(cutoff)
		report.Day = cp.Day
		report.Chains = len(heads)
		if err := audit.VerifyCheckpoint(cp, heads); err != nil {
			var violation domain.ChainIntegrityViolation
			if !errors.As(err, &violation) {
				return "", err
			}
			report.Violations = append(report.Violations, violation)
		}
		s.reporter.Report(ctx, report)
		if !report.OK() {
			s.logger.Warn("checkpoint verification failed", "day", cp.Day)
		}
		return cp.ID, nil
	})
	return report, err
}

// Checkpoints lists the sealed checkpoints in day order.
func (s *Service) Checkpoints(_ context.Context) []domain.Checkpoint {
	return s.store.ListCheckpoints()
}

func (s *Service) findCheckpoint(day string) (domain.Checkpoint, bool) {
	if day == "" {
		return s.store.LatestCheckpoint()
	}
	for _, cp := range s.store.ListCheckpoints() {
		if cp.Day == day {
			return cp, true
		}
	}
	return domain.Checkpoint{}, false
}
