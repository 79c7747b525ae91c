package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// NewHistoryCommand creates the history command, which prints the
// commit-ordered audit records of one entity.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var target, id string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the audit history of one entity",
		Long: `Print every audit record of one entity's chain in commit order,
including the tombstone if the entity was deleted. Records outside the
session's factory scope read as absent.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(rootOpts, cmd, target, id)
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "entity type (factory|user|work_order|sku)")
	cmd.Flags().StringVar(&id, "id", "", "entity id")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runHistory(opts *RootOptions, cmd *cobra.Command, rawTarget, id string) error {
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

	records, err := env.Service.History(cmd.Context(), session, target, id)
	if err != nil {
		return fail(f, err)
	}

	if f.Format == "json" {
		return f.Success(records)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %d records\n", target, id, len(records))
	for i, rec := range records {
		fmt.Fprintf(&b, "%3d  %-7s %-10s %-12s %s  %s\n",
			i, rec.Action, afterLabel(rec), rec.Actor,
			rec.TS.Format(time.RFC3339), printableHash(rec.Hash))
	}
	fmt.Fprint(f.Writer, b.String())
	return nil
}

// afterLabel summarizes a record's after-image for the text listing: the
// entity version, or the tombstone marker on the final record of a delete.
func afterLabel(rec domain.AuditRecord) string {
	var after struct {
		Version int  `json:"version"`
		Deleted bool `json:"_deleted"`
	}
	if raw := rec.After.Raw(); raw != nil {
		_ = json.Unmarshal(raw, &after)
	}
	if after.Deleted {
		return "tombstone"
	}
	return fmt.Sprintf("v%d", after.Version)
}
