package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/nullguard/internal/compiler"
	"github.com/roach88/nullguard/internal/config"
	"github.com/roach88/nullguard/internal/nullability"
)

// CheckResult holds the outcome of checking one assembly description.
type CheckResult struct {
	Assembly string                     `json:"assembly"`
	Types    int                        `json:"types"`
	Methods  int                        `json:"methods"`
	Mode     config.Mode                `json:"mode"`
	Valid    bool                       `json:"valid"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <assembly>",
		Short: "Compile and validate an assembly description without weaving",
		Long: `Compile the CUE assembly description at <assembly> and run the
structural checks the weaver relies on: unique names, argument and local
slots in range, branch targets inside their body and accessor shapes.

Also prints the nullability mode that auto detection would pick.

Exit codes:
  0 - Assembly is valid
  1 - Structural errors found
  2 - Command error (not found, does not compile)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheck(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	asm, err := LoadAssembly(path)
	if err != nil {
		return formatter.fail(loadErrorCode(err), err.Error(), nil)
	}

	result := CheckResult{
		Assembly: asm.Name,
		Mode:     nullability.Detect(asm),
	}
	for _, t := range asm.AllTypes() {
		result.Types++
		result.Methods += len(t.Methods)
		formatter.VerboseLog("Checking type: %s", t.FullName())
	}
	result.Errors = compiler.Validate(asm)
	result.Valid = len(result.Errors) == 0

	if result.Valid {
		if formatter.Format == "json" {
			return formatter.Success(result)
		}
		fmt.Fprintf(formatter.Writer, "✓ %s is valid: %d type(s), %d method(s), mode %s\n",
			result.Assembly, result.Types, result.Methods, result.Mode)
		return nil
	}

	msg := fmt.Sprintf("validation failed with %d error(s)", len(result.Errors))
	if formatter.Format == "json" {
		if err := formatter.Failure(result.Errors[0].Code, result.Errors[0].Message, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintf(formatter.Writer, "✗ %s: validation failed\n\n", result.Assembly)
	for _, e := range result.Errors {
		fmt.Fprintf(formatter.Writer, "  %s\n", e.Error())
	}
	return NewExitError(ExitFailure, msg)
}
