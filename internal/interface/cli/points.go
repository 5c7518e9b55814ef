package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classpoints/classpoints-hub/internal/application/command"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
)

// ─── points ─────────────────────────────────────────────────────────────────

// adjustFlags are shared by single and batch adjustments.
type adjustFlags struct {
	item      string
	category  string
	amount    int
	debit     bool
	direction string
	reason    string
}

func (f *adjustFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.item, "item", "", "Preset item id from the catalogue")
	fl.StringVar(&f.category, "category", "", "discipline, hygiene, academic or other")
	fl.IntVarP(&f.amount, "amount", "a", 0, "Points to add or remove")
	fl.BoolVar(&f.debit, "debit", false, "Remove points instead of adding them")
	fl.StringVar(&f.direction, "direction", "", "credit or debit (alternative to --debit)")
	fl.StringVarP(&f.reason, "reason", "r", "", "Reason recorded in the log")
	cmd.MarkFlagsMutuallyExclusive("item", "category")
	cmd.MarkFlagsMutuallyExclusive("debit", "direction")
}

func (f *adjustFlags) spec(operator string) (command.AdjustmentSpec, error) {
	spec := command.AdjustmentSpec{
		ItemID:   f.item,
		Amount:   f.amount,
		Reason:   f.reason,
		Operator: operator,
	}
	if f.item != "" {
		return spec, nil
	}

	cat, err := points.ParseCategory(f.category)
	if err != nil {
		return spec, err
	}
	spec.Category = cat

	spec.Direction = points.Credit
	switch {
	case f.debit:
		spec.Direction = points.Debit
	case f.direction != "":
		if spec.Direction, err = points.ParseDirection(f.direction); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

func newPointsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "points",
		Short: "Add or remove points",
	}
	cmd.AddCommand(newPointsAdjustCmd(s), newPointsBatchCmd(s))
	return cmd
}

func newPointsAdjustCmd(s *session) *cobra.Command {
	var f adjustFlags
	cmd := &cobra.Command{
		Use:   "adjust NUMBER",
		Short: "Adjust one student's balance",
		Long: `Adjust one student's balance in one category.

A debit never drives a balance below zero: only what is there is removed,
and a debit on an empty balance records nothing.`,
		Example: `  pointsctl -c 7a points adjust 12 --category academic -a 2 -r "quiz"
  pointsctl -c 7a points adjust 12 --category discipline -a 1 --debit
  pointsctl -c 7a points adjust 12 --item homework`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			spec, err := f.spec(s.operator)
			if err != nil {
				return err
			}
			st, err := s.studentByNumber(cmd.Context(), classID, args[0])
			if err != nil {
				return err
			}

			res, err := command.NewAdjustPointsHandler(s.rt.CommandDeps(), s.rt.Items).Handle(cmd.Context(), command.AdjustPointsCommand{
				ClassID:        classID,
				StudentID:      st.ID,
				AdjustmentSpec: spec,
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"student":        viewStudent(res.Student),
					"category":       res.Category,
					"direction":      res.Direction,
					"requested":      res.Requested,
					"effective":      res.Effective,
					"currency_delta": res.CurrencyDelta,
					"entry":          res.Entry,
				})
			}

			out := cmd.OutOrStdout()
			if !res.Applied() {
				fmt.Fprintf(out, "#%d %s has no %s points to remove; nothing recorded\n",
					res.Student.Number, res.Student.Name, res.Category)
				return nil
			}
			fmt.Fprintf(out, "#%d %s: %s %s (now %d, total %d, currency %d)\n",
				res.Student.Number, res.Student.Name, signed(res.Direction.Sign()*res.Effective),
				res.Category, res.Student.Balances.Get(res.Category),
				res.Student.Total(), res.Student.Currency)
			if res.Effective < res.Requested {
				fmt.Fprintf(out, "only %d of %d points were available\n", res.Effective, res.Requested)
			}
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}

func newPointsBatchCmd(s *session) *cobra.Command {
	var (
		f   adjustFlags
		all bool
	)
	cmd := &cobra.Command{
		Use:   "batch [NUMBER...]",
		Short: "Apply one adjustment to several students",
		Long: `Apply the same adjustment to each listed student, or to everyone with
--all. Each student is adjusted on their own; one failure does not undo
the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			if all == (len(args) > 0) {
				return fmt.Errorf("pass student numbers or --all, not both or neither")
			}
			spec, err := f.spec(s.operator)
			if err != nil {
				return err
			}
			ids, err := s.studentIDs(cmd.Context(), classID, args)
			if err != nil {
				return err
			}

			res, err := command.NewBatchAdjustPointsHandler(s.rt.CommandDeps(), s.rt.Items).Handle(cmd.Context(), command.BatchAdjustPointsCommand{
				ClassID:        classID,
				StudentIDs:     ids,
				AllStudents:    all,
				AdjustmentSpec: spec,
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				items := make([]map[string]any, len(res.Items))
				for i, item := range res.Items {
					items[i] = map[string]any{"student_id": item.StudentID, "effective": item.Effective}
					if item.Err != nil {
						items[i]["error"] = item.Err.Error()
					}
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"category":  res.Category,
					"direction": res.Direction,
					"requested": res.Requested,
					"applied":   res.Applied,
					"failed":    res.Failed,
					"items":     items,
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s: %d students, %d applied, %d failed\n",
				res.Direction, res.Category, res.Requested, res.Applied, res.Failed)
			for _, item := range res.Items {
				if item.Err != nil {
					fmt.Fprintf(out, "  %s: %v\n", item.StudentID, item.Err)
				}
			}
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "Adjust every student in the class")
	return cmd
}
