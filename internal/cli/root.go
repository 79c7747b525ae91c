// Package cli implements the auditctl command tree. Every command loads the
// shared configuration, opens the persistent store and checkpoint archive,
// and runs one integrity operation under the session described by the
// global flags.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// RootOptions holds the flags shared by every subcommand.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"
	Verbose    bool

	// Session flags. The CLI trusts its caller; these name who the audit
	// records attribute mutations to and which factories reads cover.
	Actor     string
	Role      string
	Factories []string
}

// ValidFormats lists the accepted --format values.
var ValidFormats = []string{"text", "json"}

// NewRootCommand builds the auditctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "auditctl",
		Short: "Inspect and verify CopperCore audit chains",
		Long: `auditctl operates on the hash-chained audit log of a CopperCore
deployment: verifying chains, sealing and checking daily checkpoints,
reading record history, and serving the realtime change feed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !validFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if _, err := parseRole(opts.Role); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "directory containing config.yaml (default: working directory)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose diagnostics on stderr")
	cmd.PersistentFlags().StringVar(&opts.Actor, "actor", "root", "subject recorded on audit attribution")
	cmd.PersistentFlags().StringVar(&opts.Role, "role", string(domain.RoleAdmin), "session role (admin|manager|operator|viewer)")
	cmd.PersistentFlags().StringSliceVar(&opts.Factories, "factory", nil, "factory scope for non-admin roles (repeatable)")

	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewCheckpointCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(args []string) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return GetExitCode(err)
	}
	return ExitSuccess
}

// Session builds the authorization context from the session flags. The
// admin role acts globally; the remaining roles cover only the factories
// named by --factory, and an empty scope reads nothing.
func (o *RootOptions) Session() (domain.Session, error) {
	role, err := parseRole(o.Role)
	if err != nil {
		return domain.Session{}, err
	}
	principal := domain.Principal{
		Subject:    o.Actor,
		Role:       role,
		FactoryIDs: o.Factories,
		Global:     role == domain.RoleAdmin,
	}
	return domain.NewSession(principal, domain.Actor{}), nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *Formatter {
	return &Formatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func parseRole(value string) (domain.Role, error) {
	switch role := domain.Role(value); role {
	case domain.RoleAdmin, domain.RoleManager, domain.RoleOperator, domain.RoleViewer:
		return role, nil
	default:
		return "", fmt.Errorf("invalid role %q: must be admin, manager, operator, or viewer", value)
	}
}

func parseTarget(value string) (domain.EntityType, error) {
	switch target := domain.EntityType(value); target {
	case domain.EntityFactory, domain.EntityUser, domain.EntityWorkOrder, domain.EntitySKU:
		return target, nil
	default:
		return "", fmt.Errorf("invalid target %q: must be factory, user, work_order, or sku", value)
	}
}

func validFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
