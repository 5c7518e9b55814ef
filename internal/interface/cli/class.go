package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classpoints/classpoints-hub/internal/application/command"
	"github.com/classpoints/classpoints-hub/internal/application/query"
)

// ─── class ──────────────────────────────────────────────────────────────────

func newClassCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "class",
		Short: "Create and list classes",
	}
	cmd.AddCommand(newClassCreateCmd(s), newClassListCmd(s))
	return cmd
}

func newClassCreateCmd(s *session) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create CLASS_ID",
		Short: "Create an empty class",
		Long: `Create an empty class. Rewards listed in the catalogue file
(CLASSPOINTS_LEDGER_CATALOG_PATH) are added to the new class.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			deps := s.rt.CommandDeps()

			info, err := command.NewCreateClassHandler(deps).Handle(ctx, command.CreateClassCommand{
				ClassID: args[0],
				Name:    name,
			})
			if err != nil {
				return err
			}

			manage := command.NewManageRewardHandler(deps)
			for _, in := range s.rt.Catalog.Rewards {
				if _, err := manage.Handle(ctx, command.ManageRewardCommand{
					ClassID: info.ID,
					Action:  command.RewardAdd,
					Input:   in,
				}); err != nil {
					return fmt.Errorf("seed reward %q: %w", in.Name, err)
				}
			}

			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created class %s (%s)\n", info.ID, info.Name)
			if n := len(s.rt.Catalog.Rewards); n > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Added %d catalogue rewards\n", n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the id)")
	return cmd
}

func newClassListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classes, err := query.NewListClassesHandler(s.rt.QueryDeps()).Handle(cmd.Context())
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), classes)
			}

			tw := newTable(cmd.OutOrStdout())
			row(tw, "ID", "NAME", "CREATED")
			for _, c := range classes {
				row(tw, c.ID, c.Name, c.CreatedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
}
