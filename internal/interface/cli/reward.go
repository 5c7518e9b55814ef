package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classpoints/classpoints-hub/internal/application/command"
	"github.com/classpoints/classpoints-hub/internal/application/query"
	"github.com/classpoints/classpoints-hub/internal/domain/reward"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
)

// ─── reward ─────────────────────────────────────────────────────────────────

func newRewardCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reward",
		Aliases: []string{"rewards"},
		Short:   "Manage the reward catalogue and redeem rewards",
	}
	cmd.AddCommand(
		newRewardAddCmd(s),
		newRewardUpdateCmd(s),
		newRewardRemoveCmd(s),
		newRewardListCmd(s),
		newRewardRedeemCmd(s),
		newRewardExchangesCmd(s),
	)
	return cmd
}

func bindRewardInput(cmd *cobra.Command, in *reward.Input) {
	cmd.Flags().IntVar(&in.Cost, "cost", 0, "Currency needed for one exchange")
	cmd.Flags().IntVar(&in.Stock, "stock", 0, "Items available")
	cmd.Flags().StringVar(&in.Description, "description", "", "Free text shown in listings")
}

func (s *session) manageReward(cmd *cobra.Command, c command.ManageRewardCommand) error {
	res, err := command.NewManageRewardHandler(s.rt.CommandDeps()).Handle(cmd.Context(), c)
	if err != nil {
		return err
	}
	if s.jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), res.Reward)
	}
	switch c.Action {
	case command.RewardRemove:
		fmt.Fprintf(cmd.OutOrStdout(), "Removed reward %s\n", c.RewardID)
	default:
		r := res.Reward
		fmt.Fprintf(cmd.OutOrStdout(), "Saved reward %s %q (cost %d, stock %d)\n", r.ID, r.Name, r.Cost, r.Stock)
	}
	return nil
}

func newRewardAddCmd(s *session) *cobra.Command {
	var in reward.Input
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a reward",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			in.Name = args[0]
			return s.manageReward(cmd, command.ManageRewardCommand{
				ClassID: classID,
				Action:  command.RewardAdd,
				Input:   in,
			})
		},
	}
	bindRewardInput(cmd, &in)
	return cmd
}

func newRewardUpdateCmd(s *session) *cobra.Command {
	var (
		in   reward.Input
		name string
	)
	cmd := &cobra.Command{
		Use:   "update REWARD_ID",
		Short: "Change a reward; unset flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			current, err := s.findReward(cmd, classID, args[0])
			if err != nil {
				return err
			}

			merged := reward.Input{
				Name:        current.Name,
				Description: current.Description,
				Cost:        current.Cost,
				Stock:       current.Stock,
			}
			flags := cmd.Flags()
			if flags.Changed("name") {
				merged.Name = name
			}
			if flags.Changed("description") {
				merged.Description = in.Description
			}
			if flags.Changed("cost") {
				merged.Cost = in.Cost
			}
			if flags.Changed("stock") {
				merged.Stock = in.Stock
			}

			return s.manageReward(cmd, command.ManageRewardCommand{
				ClassID:  classID,
				Action:   command.RewardUpdate,
				RewardID: current.ID,
				Input:    merged,
			})
		},
	}
	bindRewardInput(cmd, &in)
	cmd.Flags().StringVar(&name, "name", "", "New name")
	return cmd
}

func newRewardRemoveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "remove REWARD_ID",
		Aliases: []string{"rm"},
		Short:   "Remove a reward; past exchanges are kept",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			return s.manageReward(cmd, command.ManageRewardCommand{
				ClassID:  classID,
				Action:   command.RewardRemove,
				RewardID: args[0],
			})
		},
	}
}

func (s *session) findReward(cmd *cobra.Command, classID, id string) (*reward.Reward, error) {
	res, err := query.NewRewardsHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.RewardsQuery{ClassID: classID})
	if err != nil {
		return nil, err
	}
	for i := range res.Rewards {
		if res.Rewards[i].ID == id {
			return &res.Rewards[i], nil
		}
	}
	return nil, fmt.Errorf("reward %s: %w", id, shared.ErrRewardNotFound)
}

func newRewardListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List rewards by cost",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			res, err := query.NewRewardsHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.RewardsQuery{ClassID: classID})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), res.Rewards)
			}

			tw := newTable(cmd.OutOrStdout())
			row(tw, "ID", "NAME", "COST", "STOCK", "EXCHANGED", "DESCRIPTION")
			for _, r := range res.Rewards {
				row(tw, r.ID, r.Name, r.Cost, r.Stock, r.ExchangeCount, dash(r.Description))
			}
			return tw.Flush()
		},
	}
}

func newRewardRedeemCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "redeem NUMBER REWARD_ID",
		Short: "Spend a student's currency on a reward",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			st, err := s.studentByNumber(cmd.Context(), classID, args[0])
			if err != nil {
				return err
			}

			res, err := command.NewRedeemRewardHandler(s.rt.CommandDeps()).Handle(cmd.Context(), command.RedeemRewardCommand{
				ClassID:   classID,
				StudentID: st.ID,
				RewardID:  args[1],
				Operator:  s.operator,
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), res.Exchange)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "#%d %s redeemed %s for %d (currency left %d)\n",
				res.Student.Number, res.Student.Name, res.Exchange.RewardName, res.Exchange.Cost, res.Student.Currency)
			return nil
		},
	}
}

func newRewardExchangesCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "exchanges",
		Short: "Exchange history, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			res, err := query.NewRewardsHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.RewardsQuery{ClassID: classID})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), res.Exchanges)
			}

			tw := newTable(cmd.OutOrStdout())
			row(tw, "TIME", "NO", "STUDENT", "REWARD", "COST", "OPERATOR")
			for _, x := range res.Exchanges {
				row(tw, s.clock(x.At), x.StudentNumber, x.StudentName, x.RewardName, x.Cost, x.Operator)
			}
			return tw.Flush()
		},
	}
}
