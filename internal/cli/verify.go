package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// auditReportView is the JSON shape of a full verification sweep.
type auditReportView struct {
	CheckedAt  time.Time       `json:"checked_at"`
	Chains     int             `json:"chains"`
	OK         bool            `json:"ok"`
	Violations []violationView `json:"violations,omitempty"`
}

type violationView struct {
	Target   domain.EntityType `json:"target"`
	TargetID string            `json:"target_id"`
	Position int               `json:"position"`
	Detail   string            `json:"detail"`
}

// chainReportView is the JSON shape of a single-chain verification.
type chainReportView struct {
	Target  domain.EntityType           `json:"target"`
	ID      string                      `json:"id"`
	Records int                         `json:"records"`
	OK      bool                        `json:"ok"`
	Results []domain.VerificationResult `json:"results"`
}

// NewVerifyCommand creates the verify command. Without flags it sweeps
// every chain; --target and --id narrow it to one entity's chain with
// per-record results.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var target, id string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify audit chain integrity",
		Long: `Re-derive the audit hash chains from genesis and compare every link
against the sealed values. Exits 1 when any position fails, so the
command doubles as a scriptable tamper check.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (target == "") != (id == "") {
				return NewExitError(ExitCommandError, "--target and --id must be used together")
			}
			if target != "" {
				return runVerifyChain(rootOpts, cmd, target, id)
			}
			return runVerifyAudit(rootOpts, cmd)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "entity type of a single chain (factory|user|work_order|sku)")
	cmd.Flags().StringVar(&id, "id", "", "entity id of a single chain")

	return cmd
}

func runVerifyAudit(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	env, err := newEnvironment(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		_ = f.Error("config", err.Error(), nil)
		return err
	}
	f.Verbosef("storage driver %s", env.Config.Storage.Driver)

	report, err := env.Service.VerifyAudit(cmd.Context())
	if err != nil {
		return fail(f, err)
	}

	view := auditReportView{
		CheckedAt: report.CheckedAt,
		Chains:    report.Chains,
		OK:        report.OK(),
	}
	for _, v := range report.Violations {
		view.Violations = append(view.Violations, violationView{
			Target:   v.Target,
			TargetID: v.TargetID,
			Position: v.Position,
			Detail:   v.Detail,
		})
	}

	if f.Format == "json" {
		if view.OK {
			return f.Success(view)
		}
		message := fmt.Sprintf("%d integrity violations", len(view.Violations))
		if err := f.Failure("integrity", message, view); err != nil {
			return err
		}
		return NewExitError(ExitFailure, message)
	}

	if view.OK {
		return f.Success(fmt.Sprintf("✓ audit chains intact (%d chains)", view.Chains))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ %d integrity violations across %d chains\n", len(view.Violations), view.Chains)
	for _, v := range view.Violations {
		fmt.Fprintf(&b, "  %s %s position %d: %s\n", v.Target, v.TargetID, v.Position, v.Detail)
	}
	fmt.Fprint(f.Writer, b.String())
	return NewExitError(ExitFailure, fmt.Sprintf("%d integrity violations", len(view.Violations)))
}

func runVerifyChain(opts *RootOptions, cmd *cobra.Command, rawTarget, id string) error {
	f := opts.formatter(cmd)
	target, err := parseTarget(rawTarget)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid target", err)
	}
	session, err := opts.Session()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid session", err)
	}
	env, err := newEnvironment(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		_ = f.Error("config", err.Error(), nil)
		return err
	}

	results, err := env.Service.VerifyChain(cmd.Context(), session, target, id)
	if err != nil {
		return fail(f, err)
	}

	view := chainReportView{Target: target, ID: id, Records: len(results), OK: true, Results: results}
	for _, res := range results {
		if !res.OK {
			view.OK = false
			break
		}
	}

	if f.Format == "json" {
		if view.OK {
			return f.Success(view)
		}
		message := fmt.Sprintf("chain broken for %s %s", target, id)
		if err := f.Failure("integrity", message, view); err != nil {
			return err
		}
		return NewExitError(ExitFailure, message)
	}

	if view.OK {
		return f.Success(fmt.Sprintf("✓ chain intact for %s %s (%d records)", target, id, view.Records))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ chain broken for %s %s\n", target, id)
	for _, res := range results {
		if res.OK {
			continue
		}
		fmt.Fprintf(&b, "  position %d: stored prev %s, expected %s\n",
			res.Position, printableHash(res.ActualPrevHash), printableHash(res.ExpectedPrevHash))
	}
	fmt.Fprint(f.Writer, b.String())
	return NewExitError(ExitFailure, fmt.Sprintf("chain broken for %s %s", target, id))
}

func printableHash(hash string) string {
	if hash == "" {
		return "<genesis>"
	}
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
