package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// checkpointView is the JSON shape of one sealed checkpoint.
type checkpointView struct {
	ID        string    `json:"id"`
	Day       string    `json:"day"`
	HeadHash  string    `json:"head_hash"`
	Chains    int       `json:"chains"`
	CreatedAt time.Time `json:"created_at"`
}

func viewCheckpoint(cp domain.Checkpoint) checkpointView {
	return checkpointView{
		ID:        cp.ID,
		Day:       cp.Day,
		HeadHash:  cp.HeadHash,
		Chains:    cp.Meta.Count,
		CreatedAt: cp.CreatedAt,
	}
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Seal, verify, list, and export daily audit digests",
	}

	cmd.AddCommand(newCheckpointRunCommand(rootOpts))
	cmd.AddCommand(newCheckpointVerifyCommand(rootOpts))
	cmd.AddCommand(newCheckpointListCommand(rootOpts))
	cmd.AddCommand(newCheckpointExportCommand(rootOpts))

	return cmd
}

func newCheckpointRunCommand(rootOpts *RootOptions) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Seal the daily digest over every audit chain head",
		Long: `Compute the digest over the head hash of every audit chain as of the
end of the given UTC day and seal it. The sealed checkpoint is also
archived to the configured blob backend.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointRun(rootOpts, cmd, day)
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "UTC day to seal, 2006-01-02 (default: last elapsed day)")

	return cmd
}

func runCheckpointRun(opts *RootOptions, cmd *cobra.Command, day string) error {
	f := opts.formatter(cmd)
	env, err := newEnvironment(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		_ = f.Error("config", err.Error(), nil)
		return err
	}

	cp, err := env.Service.RunCheckpoint(cmd.Context(), day)
	if err != nil {
		return fail(f, err)
	}

	if f.Format == "json" {
		return f.Success(viewCheckpoint(cp))
	}
	return f.Success(fmt.Sprintf("✓ checkpoint sealed for %s (%d chains, head %s)",
		cp.Day, cp.Meta.Count, printableHash(cp.HeadHash)))
}

func newCheckpointVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:           "verify",
		Short:         "Recompute a sealed digest and compare it",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointVerify(rootOpts, cmd, day)
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "sealed day to verify (default: latest checkpoint)")

	return cmd
}

func runCheckpointVerify(opts *RootOptions, cmd *cobra.Command, day string) error {
	f := opts.formatter(cmd)
	env, err := newEnvironment(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		_ = f.Error("config", err.Error(), nil)
		return err
	}

	report, err := env.Service.VerifyCheckpoint(cmd.Context(), day)
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
		message := fmt.Sprintf("checkpoint mismatch for %s", report.Day)
		if err := f.Failure("integrity", message, view); err != nil {
			return err
		}
		return NewExitError(ExitFailure, message)
	}

	if view.OK {
		return f.Success(fmt.Sprintf("✓ checkpoint %s matches (%d chains)", report.Day, view.Chains))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ checkpoint mismatch for %s\n", report.Day)
	for _, v := range view.Violations {
		fmt.Fprintf(&b, "  %s\n", v.Detail)
	}
	fmt.Fprint(f.Writer, b.String())
	return NewExitError(ExitFailure, fmt.Sprintf("checkpoint mismatch for %s", report.Day))
}

func newCheckpointListCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List sealed checkpoints in day order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointList(rootOpts, cmd)
		},
	}

	return cmd
}

func runCheckpointList(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	env, err := newEnvironment(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		_ = f.Error("config", err.Error(), nil)
		return err
	}

	checkpoints := env.Service.Checkpoints(cmd.Context())
	views := make([]checkpointView, 0, len(checkpoints))
	for _, cp := range checkpoints {
		views = append(views, viewCheckpoint(cp))
	}

	if f.Format == "json" {
		return f.Success(views)
	}
	if len(views) == 0 {
		return f.Success("no checkpoints sealed")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-7s %-14s %s\n", "DAY", "CHAINS", "HEAD", "SEALED")
	for _, v := range views {
		fmt.Fprintf(&b, "%-12s %-7d %-14s %s\n",
			v.Day, v.Chains, printableHash(v.HeadHash), v.CreatedAt.Format(time.RFC3339))
	}
	fmt.Fprint(f.Writer, b.String())
	return nil
}

func newCheckpointExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		day    string
		asURL  bool
		expiry time.Duration
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch an archived checkpoint artifact",
		Long: `Read a sealed checkpoint back from the blob archive. With --url the
command emits a time-limited download link instead of the artifact,
for handing the evidence to an external auditor.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpointExport(rootOpts, cmd, day, asURL, expiry)
		},
	}

	cmd.Flags().StringVar(&day, "day", "", "archived day to export (default: latest checkpoint)")
	cmd.Flags().BoolVar(&asURL, "url", false, "emit a signed download URL instead of the artifact")
	cmd.Flags().DurationVar(&expiry, "expiry", 15*time.Minute, "signed URL lifetime")

	return cmd
}

func runCheckpointExport(opts *RootOptions, cmd *cobra.Command, day string, asURL bool, expiry time.Duration) error {
	f := opts.formatter(cmd)
	env, err := newEnvironment(cmd.Context(), opts, cmd.ErrOrStderr())
	if err != nil {
		_ = f.Error("config", err.Error(), nil)
		return err
	}

	if day == "" {
		latest, ok := env.Store.LatestCheckpoint()
		if !ok {
			e := NewExitError(ExitCommandError, "no checkpoint sealed yet")
			_ = f.Error("not_found", e.Message, nil)
			return e
		}
		day = latest.Day
	}

	if asURL {
		url, err := env.Archiver.ExportURL(cmd.Context(), day, expiry)
		if err != nil {
			return fail(f, err)
		}
		if f.Format == "json" {
			return f.Success(map[string]string{"day": day, "url": url})
		}
		return f.Success(url)
	}

	cp, err := env.Archiver.FetchCheckpoint(cmd.Context(), day)
	if err != nil {
		return fail(f, err)
	}
	if f.Format == "json" {
		return f.Success(viewCheckpoint(cp))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "checkpoint %s\n", cp.ID)
	fmt.Fprintf(&b, "  day:     %s\n", cp.Day)
	fmt.Fprintf(&b, "  head:    %s\n", cp.HeadHash)
	fmt.Fprintf(&b, "  chains:  %d\n", cp.Meta.Count)
	fmt.Fprintf(&b, "  sealed:  %s\n", cp.CreatedAt.Format(time.RFC3339))
	fmt.Fprint(f.Writer, b.String())
	return nil
}
