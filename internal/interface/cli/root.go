// Package cli implements pointsctl, the command-line front end of the
// classroom points ledger.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/classpoints/classpoints-hub/config"
	"github.com/classpoints/classpoints-hub/internal/app"
	"github.com/classpoints/classpoints-hub/internal/application/query"
	"github.com/classpoints/classpoints-hub/internal/domain/shared"
	"github.com/classpoints/classpoints-hub/internal/domain/student"
)

// Options configure one invocation.
type Options struct {
	// Environ replaces the process environment when non-nil.
	Environ map[string]string

	Out io.Writer
	Err io.Writer

	// Seed fixes the draw order. Zero seeds from crypto/rand.
	Seed int64
}

// session carries the flags and the runtime of one invocation.
type session struct {
	opts Options

	classID  string
	dbPath   string
	operator string
	output   string
	verbose  bool

	cfg *config.Config
	rt  *app.Runtime
}

// Execute runs pointsctl with args. The runtime is closed even when the
// command fails.
func Execute(ctx context.Context, args []string, opts Options) error {
	root, s := newRoot(opts)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := s.close(); err == nil {
		err = cerr
	}
	return err
}

// Exit codes returned by ExitCode.
const (
	ExitFailure  = 1
	ExitUsage    = 2
	ExitNotFound = 3
	ExitConflict = 4
)

// ExitCode maps an Execute error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case shared.IsInvalidArgument(err):
		return ExitUsage
	case shared.IsNotFound(err):
		return ExitNotFound
	case shared.IsAlreadyExists(err):
		return ExitConflict
	default:
		return ExitFailure
	}
}

func newRoot(opts Options) (*cobra.Command, *session) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Err == nil {
		opts.Err = os.Stderr
	}
	s := &session{opts: opts}

	root := &cobra.Command{
		Use:   "pointsctl",
		Short: "Classroom points ledger",
		Long: `pointsctl keeps per-category points for the students of a class,
records every adjustment in an append-only log and reports on it.

Configuration comes from CLASSPOINTS_* environment variables; flags
override the storage path, the class and the operator.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: s.open,
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Err)

	pf := root.PersistentFlags()
	pf.StringVarP(&s.classID, "class", "c", "", "Class id (defaults to CLASSPOINTS_CLASS)")
	pf.StringVar(&s.dbPath, "db", "", "SQLite database file (overrides CLASSPOINTS_STORAGE_PATH)")
	pf.StringVar(&s.operator, "operator", "", "Who performs the change (defaults to CLASSPOINTS_LEDGER_OPERATOR)")
	pf.StringVarP(&s.output, "output", "o", "table", "Output format: table or json")
	pf.BoolVarP(&s.verbose, "verbose", "v", false, "Log at the configured level instead of warnings only")

	root.AddCommand(
		newClassCmd(s),
		newStudentCmd(s),
		newPointsCmd(s),
		newImportCmd(s),
		newExportCmd(s),
		newReportCmd(s),
		newDrawCmd(s),
		newRewardCmd(s),
	)
	return root, s
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func (s *session) lookupEnv(key string) string {
	if s.opts.Environ != nil {
		return s.opts.Environ[key]
	}
	return os.Getenv(key)
}

func (s *session) open(cmd *cobra.Command, _ []string) error {
	var err error
	if s.opts.Environ != nil {
		s.cfg, err = config.LoadFrom(s.opts.Environ)
	} else {
		s.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if s.dbPath != "" {
		s.cfg.Storage.Driver = config.DriverSQLite
		s.cfg.Storage.Path = s.dbPath
	}
	if s.classID == "" {
		s.classID = s.lookupEnv(config.EnvPrefix + "CLASS")
	}
	if s.operator == "" {
		s.operator = s.cfg.Ledger.Operator
	}
	if !s.verbose {
		s.cfg.Observability.LogLevel = "warn"
		s.cfg.Observability.LogFormat = "text"
	}
	switch s.output {
	case "table", "json":
	default:
		return fmt.Errorf("unknown output format %q (want table or json)", s.output)
	}

	s.rt, err = app.Open(cmd.Context(), s.cfg, app.Options{
		LogOutput: s.opts.Err,
		Seed:      s.opts.Seed,
		RunID:     uuid.NewString(),
	})
	return err
}

func (s *session) close() error {
	if s.rt == nil {
		return nil
	}
	err := s.rt.Close()
	s.rt = nil
	return err
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (s *session) class() (string, error) {
	id := strings.TrimSpace(s.classID)
	if id == "" {
		return "", fmt.Errorf("no class selected: pass --class or set %sCLASS", config.EnvPrefix)
	}
	return id, nil
}

// studentByNumber resolves a class number to a student.
func (s *session) studentByNumber(ctx context.Context, classID, arg string) (*student.Student, error) {
	n, err := parseNumber(arg)
	if err != nil {
		return nil, err
	}
	return query.NewFindStudentHandler(s.rt.QueryDeps()).Handle(ctx, query.FindStudentQuery{
		ClassID: classID,
		Number:  n,
	})
}

// studentIDs resolves several class numbers at once.
func (s *session) studentIDs(ctx context.Context, classID string, args []string) ([]string, error) {
	ids := make([]string, 0, len(args))
	for _, a := range args {
		st, err := s.studentByNumber(ctx, classID, a)
		if err != nil {
			return nil, fmt.Errorf("student %s: %w", a, err)
		}
		ids = append(ids, st.ID)
	}
	return ids, nil
}

func (s *session) jsonOutput() bool {
	return s.output == "json"
}

// clock formats t in the configured zone.
func (s *session) clock(t time.Time) string {
	return s.cfg.App.Zone.FormatDateTime(t)
}
