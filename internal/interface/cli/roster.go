package cli

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/classpoints/classpoints-hub/internal/application/command"
	"github.com/classpoints/classpoints-hub/internal/application/query"
	"github.com/classpoints/classpoints-hub/internal/domain/importer"
	"github.com/classpoints/classpoints-hub/internal/domain/ledger"
	"github.com/classpoints/classpoints-hub/internal/infrastructure/rowsource"
)

// ─── import / export ────────────────────────────────────────────────────────

func newImportCmd(s *session) *cobra.Command {
	var (
		override  bool
		delimiter string
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import students from a CSV roster",
		Long: `Import students from a CSV file. Use "-" to read standard input.

Columns are number, name, group and either one column per category
(discipline, hygiene, academic, other) or a single total that is split
across the categories. A header row, when present, names the columns.

Existing numbers are skipped unless --override is given, in which case
their profile and balances are replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}

			var opts rowsource.Options
			if delimiter != "" {
				r, size := utf8.DecodeRuneInString(delimiter)
				if size != len(delimiter) {
					return fmt.Errorf("delimiter must be a single character, got %q", delimiter)
				}
				opts.Comma = r
			}

			in, closeIn, err := openInput(cmd, args[0])
			if err != nil {
				return err
			}
			defer closeIn()

			rows, err := rowsource.ReadCSV(in, opts)
			if err != nil {
				return err
			}

			policy := ledger.SkipExisting
			if override {
				policy = ledger.OverrideExisting
			}
			res, err := command.NewImportStudentsHandler(s.rt.CommandDeps()).Handle(cmd.Context(), command.ImportStudentsCommand{
				ClassID: classID,
				Rows:    rows,
				Policy:  policy,
			})
			if err != nil {
				return err
			}
			return printImport(cmd.OutOrStdout(), s.jsonOutput(), res.Result)
		},
	}
	cmd.Flags().BoolVar(&override, "override", false, "Replace students whose number already exists")
	cmd.Flags().StringVarP(&delimiter, "delimiter", "d", "", "Field delimiter (detected when empty)")
	return cmd
}

func printImport(w io.Writer, asJSON bool, res importer.Result) error {
	if asJSON {
		failures := make([]map[string]any, 0, res.Failed)
		for _, r := range res.Rows {
			if r.Outcome == importer.Failed {
				failures = append(failures, map[string]any{"line": r.Line, "number": r.Number, "error": r.Err.Error()})
			}
		}
		return writeJSON(w, map[string]any{
			"created":  res.Created,
			"updated":  res.Updated,
			"skipped":  res.Skipped,
			"failed":   res.Failed,
			"failures": failures,
		})
	}

	fmt.Fprintf(w, "Imported: %d created, %d updated, %d skipped, %d failed\n",
		res.Created, res.Updated, res.Skipped, res.Failed)
	for _, r := range res.Rows {
		if r.Outcome == importer.Failed {
			fmt.Fprintf(w, "  line %d: %v\n", r.Line, r.Err)
		}
	}
	return nil
}

func newExportCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Export the roster as CSV",
		Long: `Write number, name, group, the four category balances and the total
for every student, ordered by number. Without FILE the CSV goes to
standard output. The file can be imported again.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := s.class()
			if err != nil {
				return err
			}
			rows, err := query.NewExportRosterHandler(s.rt.QueryDeps()).Handle(cmd.Context(), query.ExportRosterQuery{ClassID: classID})
			if err != nil {
				return err
			}

			if len(args) == 0 || args[0] == "-" {
				return rowsource.WriteCSV(cmd.OutOrStdout(), rows)
			}

			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			if err := rowsource.WriteCSV(f, rows); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d students to %s\n", len(rows), args[0])
			return nil
		},
	}
}

func openInput(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}
