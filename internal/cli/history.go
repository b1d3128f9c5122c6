package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/nullguard/internal/store"
	"github.com/roach88/nullguard/internal/weaver"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Assembly string
	Limit    int
	Session  string
	Member   string
}

// SessionDetail is one session with everything it recorded.
type SessionDetail struct {
	store.Session
	Time        string              `json:"time,omitempty"`
	Injections  []weaver.Injection  `json:"injections"`
	Diagnostics []weaver.Diagnostic `json:"diagnostics"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded weave sessions",
		Long: `Show the weave sessions recorded in a ledger.

Without --session or --member, lists the most recent sessions. --session
shows the guards and diagnostics of one session; --member shows every
guard ever injected into one member key.

Examples:
  nullguard history --db ./nullguard.db
  nullguard history --db ./nullguard.db --assembly Widgets --limit 5
  nullguard history --db ./nullguard.db --session 0192f0c4-...
  nullguard history --db ./nullguard.db --member "M:Samples.Widget.Echo(System.String)"`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite weave ledger (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Assembly, "assembly", "", "only sessions of this assembly")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of sessions to list (0 for all)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "show one session")
	cmd.Flags().StringVar(&opts.Member, "member", "", "show the guards of one member key")
	cmd.MarkFlagsMutuallyExclusive("session", "member")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	// The ledger is never created by a read.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.fail(ErrCodeNotFound, fmt.Sprintf("ledger not found: %s", opts.Database), nil)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return formatter.fail(ErrCodeLedger, fmt.Sprintf("failed to open ledger: %v", err), nil)
	}
	defer st.Close()

	switch {
	case opts.Session != "":
		return showSession(ctx, formatter, st, opts.Session)
	case opts.Member != "":
		return showMember(ctx, formatter, st, opts.Member)
	default:
		return listSessions(ctx, formatter, st, opts.Assembly, opts.Limit)
	}
}

// sessionTime extracts the creation time of a UUIDv7 session id.
func sessionTime(id string) string {
	u, err := uuid.Parse(id)
	if err != nil || u.Version() != 7 {
		return ""
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec).UTC().Format(time.RFC3339)
}

func sessionStatus(s store.Session) string {
	if s.HasErrors {
		return "errors"
	}
	return "ok"
}

func listSessions(ctx context.Context, formatter *OutputFormatter, st *store.Store, assembly string, limit int) error {
	sessions, err := st.Sessions(ctx, assembly, limit)
	if err != nil {
		return formatter.fail(ErrCodeLedger, err.Error(), nil)
	}

	if formatter.Format == "json" {
		return formatter.Success(sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(formatter.Writer, "No sessions recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSESSION\tTIME\tASSEMBLY\tMODE\tGUARDS\tDIAGNOSTICS\tSTATUS")
	for _, s := range sessions {
		when := sessionTime(s.ID)
		if when == "" {
			when = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			s.Seq, s.ID, when, s.Assembly, s.Mode, s.Injections, s.Diagnostics, sessionStatus(s))
	}
	return tw.Flush()
}

func showSession(ctx context.Context, formatter *OutputFormatter, st *store.Store, id string) error {
	sess, err := st.ReadSession(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return formatter.fail(ErrCodeNotFound, fmt.Sprintf("session not found: %s", id), nil)
	}
	if err != nil {
		return formatter.fail(ErrCodeLedger, err.Error(), nil)
	}
	detail := SessionDetail{Session: sess, Time: sessionTime(sess.ID)}
	if detail.Injections, err = st.ReadInjections(ctx, id); err != nil {
		return formatter.fail(ErrCodeLedger, err.Error(), nil)
	}
	if detail.Diagnostics, err = st.ReadDiagnostics(ctx, id); err != nil {
		return formatter.fail(ErrCodeLedger, err.Error(), nil)
	}

	if formatter.Format == "json" {
		return formatter.Success(detail)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Session %s (%s)\n", sess.ID, sessionStatus(sess))
	if detail.Time != "" {
		fmt.Fprintf(w, "  time:     %s\n", detail.Time)
	}
	fmt.Fprintf(w, "  assembly: %s\n", sess.Assembly)
	if sess.Path != "" {
		fmt.Fprintf(w, "  path:     %s\n", sess.Path)
	}
	fmt.Fprintf(w, "  mode:     %s\n", sess.Mode)
	fmt.Fprintf(w, "  input:    %s\n", sess.InputHash)
	fmt.Fprintf(w, "  output:   %s\n", sess.ContentHash)
	fmt.Fprintf(w, "\nGuards (%d):\n", len(detail.Injections))
	for _, inj := range detail.Injections {
		fmt.Fprintf(w, "  %3d  %-12s %s\n", inj.Seq, inj.Kind, describeInjection(inj))
	}
	if len(detail.Diagnostics) > 0 {
		fmt.Fprintf(w, "\nDiagnostics (%d):\n", len(detail.Diagnostics))
		for _, d := range detail.Diagnostics {
			fmt.Fprintf(w, "  %3d  %-8s %s\n", d.Seq, d.Severity, describeDiagnostic(d))
		}
	}
	return nil
}

func showMember(ctx context.Context, formatter *OutputFormatter, st *store.Store, member string) error {
	history, err := st.MemberHistory(ctx, member)
	if err != nil {
		return formatter.fail(ErrCodeLedger, err.Error(), nil)
	}

	if formatter.Format == "json" {
		return formatter.Success(history)
	}
	if len(history) == 0 {
		fmt.Fprintf(formatter.Writer, "No guards recorded for %s.\n", member)
		return nil
	}

	fmt.Fprintf(formatter.Writer, "Guards on %s:\n", member)
	for _, mi := range history {
		target := ""
		if mi.Target != "" {
			target = " (" + mi.Target + ")"
		}
		fmt.Fprintf(formatter.Writer, "  %s  %s  %s%s\n", mi.SessionID, mi.Assembly, mi.Kind, target)
	}
	return nil
}
