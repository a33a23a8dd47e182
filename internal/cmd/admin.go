package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/config"
	"github.com/thegodfatherofaiautomation/autoecho-app/internal/store"
)

func newEntitlementsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entitlements [config-file]",
		Short: "List stored account tiers",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			st, err := openStoreFromConfig(cmd, args)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			records, err := st.ListTierRecords(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("list tier records: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ACCOUNT\tTIER\tEVENT\tUPDATED")
			for _, r := range records {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Account, r.Tier, r.EventID, r.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Int("limit", 100, "maximum rows")
	cmd.Flags().Int("offset", 0, "rows to skip")
	return cmd
}

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit [config-file]",
		Short: "Show recent audit events",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, _ := cmd.Flags().GetString("action")
			account, _ := cmd.Flags().GetString("account")
			limit, _ := cmd.Flags().GetInt("limit")

			st, err := openStoreFromConfig(cmd, args)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			events, err := st.ListAuditEvents(cmd.Context(), store.AuditFilter{Action: action, Account: account, Limit: limit})
			if err != nil {
				return fmt.Errorf("list audit events: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TIME\tACTION\tACCOUNT\tJOB\tEVENT\tDETAIL")
			for _, e := range events {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format(time.RFC3339), e.Action, e.Account, e.JobID, e.EventID, string(e.Detail))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("action", "", "filter by action, e.g. job.rejected or entitlement.applied")
	cmd.Flags().String("account", "", "filter by account")
	cmd.Flags().Int("limit", 50, "maximum rows")
	return cmd
}

// openStoreFromConfig opens the configured database directly, bypassing
// the Redis cache.
func openStoreFromConfig(cmd *cobra.Command, args []string) (store.Store, error) {
	cfg, err := config.Load(resolveConfigPath(cmd, args, defaultConfigPath))
	if err != nil {
		return nil, fmt.Errorf("error: %w", err)
	}
	st, err := store.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return st, nil
}
