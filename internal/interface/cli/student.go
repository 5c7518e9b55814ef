package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/classpoints/classpoints-hub/internal/application/command"
	"github.com/classpoints/classpoints-hub/internal/application/query"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
	"github.com/classpoints/classpoints-hub/pkg/timeutil"
)

// ─── student ────────────────────────────────────────────────────────────────
// Students are addressed by their class number.

func newStudentCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "student",
		Aliases: []string{"students"},
		Short:   "Manage the students of a class",
	}
	cmd.AddCommand(
		newStudentAddCmd(s),
		newStudentEditCmd(s),
		newStudentDeleteCmd(s),
		newStudentListCmd(s),
		newStudentLogsCmd(s),
	)
	return cmd
}

func newStudentAddCmd(s *session) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "add NUMBER NAME",
		Short: "Add a student with zero balances",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			n, err := parseNumber(args[0])
			if err != nil {
				return err
			}

			res, err := command.NewSaveStudentHandler(s.rt.CommandDeps()).Handle(cmd.Context(), command.SaveStudentCommand{
				ClassID: classID,
				Profile: student.Profile{Number: n, Name: args[1], Group: group},
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), viewStudent(res.Student))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added #%d %s\n", res.Student.Number, res.Student.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "Group label")
	return cmd
}

func newStudentEditCmd(s *session) *cobra.Command {
	var (
		name   string
		group  string
		number int
	)
	cmd := &cobra.Command{
		Use:   "edit NUMBER",
		Short: "Change a student's name, group or number",
		Long: `Change a student's profile. Balances and history are kept.
Pass --group "" to clear the group.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			st, err := s.studentByNumber(cmd.Context(), classID, args[0])
			if err != nil {
				return err
			}

			profile := student.Profile{Number: st.Number, Name: st.Name, Group: st.Group}
			flags := cmd.Flags()
			if flags.Changed("name") {
				profile.Name = name
			}
			if flags.Changed("group") {
				profile.Group = group
			}
			if flags.Changed("number") {
				profile.Number = student.Number(number)
			}

			res, err := command.NewSaveStudentHandler(s.rt.CommandDeps()).Handle(cmd.Context(), command.SaveStudentCommand{
				ClassID:   classID,
				StudentID: st.ID,
				Profile:   profile,
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), viewStudent(res.Student))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated #%d %s\n", res.Student.Number, res.Student.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVarP(&group, "group", "g", "", "New group label")
	cmd.Flags().IntVar(&number, "number", 0, "New class number")
	return cmd
}

func newStudentDeleteCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:     "delete NUMBER",
		Aliases: []string{"rm"},
		Short:   "Remove a student and their log entries",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			st, err := s.studentByNumber(cmd.Context(), classID, args[0])
			if err != nil {
				return err
			}

			res, err := command.NewDeleteStudentHandler(s.rt.CommandDeps()).Handle(cmd.Context(), command.DeleteStudentCommand{
				ClassID:   classID,
				StudentID: st.ID,
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted #%d %s (%d log entries)\n", st.Number, st.Name, res.RemovedEntries)
			return nil
		},
	}
}

func newStudentListCmd(s *session) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List students by number",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			res, err := query.NewListStudentsHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.ListStudentsQuery{
				ClassID: classID,
				Group:   group,
			})
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				views := make([]studentView, len(res.Students))
				for i, st := range res.Students {
					views[i] = viewStudent(st)
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{"students": views, "groups": res.Groups})
			}
			return printStudents(cmd.OutOrStdout(), res.Students)
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "Only students of this group")
	return cmd
}

func newStudentLogsCmd(s *session) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs [NUMBER]",
		Short: "Show log entries, newest first",
		Long:  `Show the log of one student, or of the whole class when NUMBER is omitted.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			q := query.StudentLogsQuery{ClassID: classID, Limit: limit}
			names := map[string]string{}
			if len(args) == 1 {
				st, err := s.studentByNumber(cmd.Context(), classID, args[0])
				if err != nil {
					return err
				}
				q.StudentID = st.ID
				names[st.ID] = st.Name
			} else {
				list, err := query.NewListStudentsHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.ListStudentsQuery{ClassID: classID})
				if err != nil {
					return err
				}
				for _, st := range list.Students {
					names[st.ID] = st.Name
				}
			}

			entries, err := query.NewStudentLogsHandler(s.rt.QueryDeps()).Handle(cmd.Context(), q)
			if err != nil {
				return err
			}
			if s.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), entries)
			}

			now := time.Now()
			tw := newTable(cmd.OutOrStdout())
			row(tw, "TIME", "AGE", "STUDENT", "CATEGORY", "DELTA", "REASON", "OPERATOR")
			for _, e := range entries {
				row(tw, s.clock(e.CreatedAt), timeutil.FormatRelative(e.CreatedAt, now), dash(names[e.StudentID]),
					e.Category, signed(e.Delta), dash(e.Reason), e.Operator)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Show at most this many entries (0 for all)")
	return cmd
}
