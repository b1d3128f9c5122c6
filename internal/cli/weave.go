package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nullguard/internal/compiler"
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/store"
	"github.com/roach88/nullguard/internal/weaver"
)

// WeaveOptions holds flags for the weave command.
type WeaveOptions struct {
	*RootOptions
	PolicyFile  string
	Validate    string
	DebugAssert bool
	Defines     []string
	Exclude     string
	Mode        string
	References  []string
	Database    string
	Output      string
}

// NewWeaveCommand creates the weave command.
func NewWeaveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WeaveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "weave <assembly>",
		Short: "Inject null guards into an assembly",
		Long: `Inject null guards into the assembly described at <assembly>.

<assembly> is a .cue file or a directory holding a CUE package with a
top-level "assembly" field. External annotations are read from
<assembly>.ExternalAnnotations.xml when present.

The policy starts from --policy (or the defaults) and is overridden by
the individual flags. With --db, the session is recorded in the ledger
and an assembly that is itself the output of a recorded weave is refused.

Exit codes:
  0 - Woven without declaration errors
  1 - Declaration errors reported (the woven output must not be used)
  2 - Command error (bad paths, invalid policy, ledger failure, aborted weave)

Examples:
  nullguard weave ./widgets.cue
  nullguard weave ./widgets.cue --mode explicit --validate Arguments,ReturnValues
  nullguard weave ./widgets.cue --db ./nullguard.db --out ./widgets.il`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWeave(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PolicyFile, "policy", "", "path to a YAML policy file")
	cmd.Flags().StringVar(&opts.Validate, "validate", "", "validation flags, e.g. AllPublic or Arguments,ReturnValues")
	cmd.Flags().BoolVar(&opts.DebugAssert, "debug-assert", true, "add Debug.Assert duplicates when DEBUG is defined")
	cmd.Flags().StringSliceVar(&opts.Defines, "define", nil, "conditional compilation symbols")
	cmd.Flags().StringVar(&opts.Exclude, "exclude", "", "regular expression of type names to skip")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "nullability mode (auto|implicit|explicit|nullable-reference-types)")
	cmd.Flags().StringSliceVar(&opts.References, "ref", nil, "reference assemblies for base types and interfaces")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite weave ledger")
	cmd.Flags().StringVarP(&opts.Output, "out", "o", "", "write the woven listing to this file")

	return cmd
}

// resolvePolicy loads the policy file, if any, and applies the flags the
// user set explicitly.
func resolvePolicy(opts *WeaveOptions, cmd *cobra.Command) (*config.Policy, error) {
	policy := config.DefaultPolicy()
	if opts.PolicyFile != "" {
		p, err := config.LoadPolicy(opts.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy = p
	}

	flags := cmd.Flags()
	if flags.Changed("validate") {
		v, err := config.ParseValidationFlags(opts.Validate)
		if err != nil {
			return nil, err
		}
		policy.ValidationFlags = v
	}
	if flags.Changed("debug-assert") {
		policy.IncludeDebugAssertion = opts.DebugAssert
	}
	if flags.Changed("define") {
		policy.DefineConstants = opts.Defines
	}
	if flags.Changed("exclude") {
		policy.ExcludeNamePattern = opts.Exclude
	}
	if flags.Changed("mode") {
		policy.Mode = config.Mode(opts.Mode)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// validateAssembly turns structural errors into a command failure.
func validateAssembly(formatter *OutputFormatter, asm *ir.Assembly) error {
	errs := compiler.Validate(asm)
	if len(errs) == 0 {
		return nil
	}
	return formatter.fail(ErrCodeInvalid,
		fmt.Sprintf("assembly %s is invalid: %s", asm.Name, errs[0].Error()), errs)
}

func runWeave(opts *WeaveOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd)

	policy, err := resolvePolicy(opts, cmd)
	if err != nil {
		return formatter.fail(ErrCodePolicy, err.Error(), nil)
	}

	asm, u, err := LoadUniverse(path, opts.References)
	if err != nil {
		return formatter.fail(loadErrorCode(err), err.Error(), nil)
	}
	if err := validateAssembly(formatter, asm); err != nil {
		return err
	}
	formatter.VerboseLog("Loaded %s (%d type(s)) from %s", asm.Name, len(asm.AllTypes()), path)

	var st *store.Store
	if opts.Database != "" {
		st, err = store.Open(opts.Database)
		if err != nil {
			return formatter.fail(ErrCodeLedger, fmt.Sprintf("failed to open ledger: %v", err), nil)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing ledger", "error", closeErr)
			}
		}()

		inputHash, err := ir.ContentHash(asm)
		if err != nil {
			return formatter.fail(ErrCodeGeneric, err.Error(), nil)
		}
		sessionID, found, err := st.WovenBy(ctx, inputHash)
		if err != nil {
			return formatter.fail(ErrCodeLedger, fmt.Sprintf("failed to query ledger: %v", err), nil)
		}
		if found {
			return formatter.fail(ErrCodeAlreadyWoven,
				fmt.Sprintf("%s is the output of weave session %s", asm.Name, sessionID), nil)
		}
	}

	w := weaver.New(policy,
		weaver.WithLogger(logger),
		weaver.WithDiagnosticSink(func(d weaver.Diagnostic) {
			formatter.VerboseLog("%s: %s", d.Severity, describeDiagnostic(d))
		}),
	)
	report, err := w.Weave(ctx, u, asm)
	if err != nil {
		return formatter.fail(ErrCodeWeaveFailed, err.Error(), nil)
	}

	if st != nil {
		if err := st.RecordReport(ctx, path, report); err != nil {
			return formatter.fail(ErrCodeLedger, fmt.Sprintf("failed to record session: %v", err), nil)
		}
		formatter.VerboseLog("Recorded session %s in %s", report.SessionID, opts.Database)
	}

	if opts.Output != "" && !report.HasErrors() {
		if err := os.WriteFile(opts.Output, []byte(ir.Disassemble(asm)), 0o644); err != nil {
			return formatter.fail(ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputReport(formatter, report)
}

// outputReport prints a weave report. Declaration errors exit with 1.
func outputReport(formatter *OutputFormatter, report *weaver.Report) error {
	errCount := 0
	for _, d := range report.Diagnostics {
		if d.Severity == weaver.SeverityError {
			errCount++
		}
	}

	if formatter.Format == "json" {
		formatter.Session = report.SessionID
		if errCount > 0 {
			if err := formatter.Failure(ErrCodeDeclaration,
				fmt.Sprintf("%d declaration error(s)", errCount), report); err != nil {
				return err
			}
			return NewExitError(ExitFailure, fmt.Sprintf("%d declaration error(s)", errCount))
		}
		return formatter.Success(report)
	}

	w := formatter.Writer
	mark := "✓"
	if errCount > 0 {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s Wove %s (%s): %d guard(s) injected\n",
		mark, report.Assembly, report.Mode, len(report.Injections))
	fmt.Fprintf(w, "  session: %s\n", report.SessionID)

	var counts []string
	for _, kind := range guardKinds {
		if n := report.Count(kind); n > 0 {
			counts = append(counts, fmt.Sprintf("%s=%d", kind, n))
		}
	}
	if len(counts) > 0 {
		fmt.Fprintf(w, "  guards: %s\n", strings.Join(counts, " "))
	}
	if formatter.Verbose {
		for _, inj := range report.Injections {
			fmt.Fprintf(w, "  + %s %s\n", inj.Kind, describeInjection(inj))
		}
	}
	for _, d := range report.Diagnostics {
		fmt.Fprintf(w, "  %s: %s\n", d.Severity, describeDiagnostic(d))
	}

	if errCount > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d declaration error(s)", errCount))
	}
	return nil
}

var guardKinds = []weaver.GuardKind{
	weaver.GuardArgument,
	weaver.GuardReturn,
	weaver.GuardOut,
	weaver.GuardAsyncResult,
	weaver.GuardGetter,
	weaver.GuardSetter,
}

func describeInjection(inj weaver.Injection) string {
	if inj.Target != "" {
		return fmt.Sprintf("%s (%s) at %s", inj.Member, inj.Target, ir.Label(inj.Index))
	}
	return fmt.Sprintf("%s at %s", inj.Member, ir.Label(inj.Index))
}

func describeDiagnostic(d weaver.Diagnostic) string {
	if d.Member == "" {
		return d.Message
	}
	return d.Member + ": " + d.Message
}
