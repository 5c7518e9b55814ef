package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/classpoints/classpoints-hub/internal/application/query"
	"github.com/classpoints/classpoints-hub/internal/domain/points"
)

// ─── report ─────────────────────────────────────────────────────────────────

func newReportCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summaries, trends and rankings",
	}
	cmd.AddCommand(
		newReportCategoriesCmd(s),
		newReportGroupsCmd(s),
		newReportTrendCmd(s),
		newReportRankingCmd(s),
	)
	return cmd
}

func newReportCategoriesCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Per-category balances and activity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			sum, err := query.NewCategorySummaryHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.CategorySummaryQuery{ClassID: classID})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), sum)
			}

			tw := newTable(cmd.OutOrStdout())
			row(tw, "CATEGORY", "BALANCE", "ADDED", "SUBTRACTED")
			for _, l := range sum.Categories {
				row(tw, l.Category, l.Balance, l.Added, l.Subtracted)
			}
			row(tw, "total", sum.Total, sum.Added, sum.Subtracted)
			return tw.Flush()
		},
	}
}

func newReportGroupsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "groups",
		Short: "Totals and averages per group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			lines, err := query.NewGroupSummaryHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.GroupSummaryQuery{ClassID: classID})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), lines)
			}

			tw := newTable(cmd.OutOrStdout())
			header := append([]any{"GROUP", "STUDENTS", "TOTAL", "AVERAGE"}, categoryHeader()...)
			row(tw, header...)
			for _, l := range lines {
				cells := []any{l.Label, l.StudentCount, l.TotalPoints, fmt.Sprintf("%.2f", l.AveragePoints)}
				row(tw, append(cells, balanceCells(l.ByCategory)...)...)
			}
			return tw.Flush()
		},
	}
}

func newReportTrendCmd(s *session) *cobra.Command {
	var (
		from, to, category string
		week               bool
	)
	cmd := &cobra.Command{
		Use:   "trend",
		Short: "Net points per day",
		Long: `Show added, subtracted and net points per calendar day in the
configured time zone. The range defaults to the last seven days; --week
starts it on the Monday of the last day's week instead. Days without
entries are left out.`,
		Example: `  pointsctl -c 7a report trend --from 2024-09-01 --to 2024-09-30 --category academic
  pointsctl -c 7a report trend --week`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			q := query.DailyTrendQuery{ClassID: classID, From: from, To: to, ThisWeek: week}
			if category != "" {
				if q.Category, err = points.ParseCategory(category); err != nil {
					return err
				}
			}

			trend, err := query.NewDailyTrendHandler(s.rt.QueryDeps(), s.cfg.App.Zone).Handle(cmd.Context(), q)
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), trend)
			}
			if len(trend) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No activity in range")
				return nil
			}

			tw := newTable(cmd.OutOrStdout())
			row(tw, "DATE", "NET", "ADDED", "SUBTRACTED", "ENTRIES")
			for _, p := range trend {
				row(tw, p.Date, signed(p.Net), p.Added, p.Subtracted, p.Entries)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "Last day, YYYY-MM-DD (defaults to today)")
	cmd.Flags().StringVar(&category, "category", "", "Only this category")
	cmd.Flags().BoolVar(&week, "week", false, "Start on Monday of the week")
	cmd.MarkFlagsMutuallyExclusive("week", "from")
	return cmd
}

func newReportRankingCmd(s *session) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "ranking",
		Aliases: []string{"top"},
		Short:   "Students ordered by total points",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			entries, err := query.NewRankingHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.RankingQuery{
				ClassID: classID,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			tw := newTable(cmd.OutOrStdout())
			row(tw, "RANK", "NO", "NAME", "GROUP", "TOTAL")
			for _, e := range entries {
				rank := fmt.Sprint(e.Rank)
				if e.Podium {
					rank += "*"
				}
				row(tw, rank, e.Number, e.Name, dash(e.Group), e.Total)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the first N places")
	return cmd
}

// ─── draw ───────────────────────────────────────────────────────────────────

func newDrawCmd(s *session) *cobra.Command {
	var (
		count int
		group string
	)
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Pick students at random",
		Long: `Pick distinct students uniformly at random, optionally from one group.
Fewer are returned when the pool is smaller. Nothing is recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("count") {
				count = s.cfg.Ledger.DrawCount
			}

			picked, err := query.NewDrawStudentsHandler(s.rt.QueryDeps(), s.rt.Sampler, s.rt.Metrics).Handle(cmd.Context(), query.DrawStudentsQuery{
				ClassID: classID,
				Count:   count,
				Group:   group,
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				views := make([]studentView, len(picked))
				for i, st := range picked {
					views[i] = viewStudent(st)
				}
				return writeJSON(cmd.OutOrStdout(), views)
			}
			for _, st := range picked {
				fmt.Fprintf(cmd.OutOrStdout(), "#%d %s\n", st.Number, st.Name)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "How many students (defaults to CLASSPOINTS_LEDGER_DRAW_COUNT)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Draw only from this group")
	return cmd
}
