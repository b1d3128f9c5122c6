package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nullguard/internal/ir"
	"github.com/roach88/nullguard/internal/weaver"
)

// DisasmOptions holds flags for the disasm command.
type DisasmOptions struct {
	*WeaveOptions
	Weave  bool   // weave before printing
	Method string // Type::Method filter
}

// DisasmResult is the JSON payload of the disasm command.
type DisasmResult struct {
	Assembly string         `json:"assembly"`
	Woven    bool           `json:"woven"`
	Methods  []MethodString `json:"methods"`
}

// MethodString is one disassembled method.
type MethodString struct {
	Name    string   `json:"name"`
	Listing []string `json:"listing"`
}

// NewDisasmCommand creates the disasm command.
func NewDisasmCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DisasmOptions{WeaveOptions: &WeaveOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "disasm <assembly>",
		Short: "Print the instruction listing of an assembly",
		Long: `Print the instruction listing of every method in <assembly>.

With --weave the assembly is woven first (using --policy, --mode and
--validate as the weave command does, but without touching a ledger), so
the listing shows the injected guards.

Examples:
  nullguard disasm ./widgets.cue
  nullguard disasm ./widgets.cue --weave --method Samples.Widget::Echo`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisasm(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Weave, "weave", false, "weave before printing")
	cmd.Flags().StringVar(&opts.Method, "method", "", "only print Type::Method")
	cmd.Flags().StringVar(&opts.PolicyFile, "policy", "", "path to a YAML policy file")
	cmd.Flags().StringVar(&opts.Validate, "validate", "", "validation flags")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "nullability mode")
	cmd.Flags().StringSliceVar(&opts.References, "ref", nil, "reference assemblies")

	return cmd
}

func runDisasm(opts *DisasmOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd)

	asm, u, err := LoadUniverse(path, opts.References)
	if err != nil {
		return formatter.fail(loadErrorCode(err), err.Error(), nil)
	}
	if err := validateAssembly(formatter, asm); err != nil {
		return err
	}

	if opts.Weave {
		policy, err := resolvePolicy(opts.WeaveOptions, cmd)
		if err != nil {
			return formatter.fail(ErrCodePolicy, err.Error(), nil)
		}
		w := weaver.New(policy, weaver.WithLogger(newLogger(opts.RootOptions, cmd)))
		report, err := w.Weave(ctx, u, asm)
		if err != nil {
			return formatter.fail(ErrCodeWeaveFailed, err.Error(), nil)
		}
		formatter.VerboseLog("Injected %d guard(s)", len(report.Injections))
	}

	methods, err := selectMethods(asm, opts.Method)
	if err != nil {
		return formatter.fail(ErrCodeNotFound, err.Error(), nil)
	}

	if formatter.Format == "json" {
		result := DisasmResult{Assembly: asm.Name, Woven: opts.Weave, Methods: []MethodString{}}
		for _, m := range methods {
			listing := []string{}
			if m.HasBody() {
				listing = ir.ListBody(m.Body)
			}
			result.Methods = append(result.Methods, MethodString{
				Name:    m.FullName(),
				Listing: listing,
			})
		}
		return formatter.Success(result)
	}

	for _, m := range methods {
		fmt.Fprint(formatter.Writer, ir.DisassembleMethod(m))
	}
	return nil
}

// selectMethods returns every method of asm, or the one named by filter.
func selectMethods(asm *ir.Assembly, filter string) ([]*ir.MethodDef, error) {
	if filter == "" {
		var all []*ir.MethodDef
		for _, t := range asm.AllTypes() {
			all = append(all, t.Methods...)
		}
		return all, nil
	}

	typeName, methodName, ok := strings.Cut(filter, "::")
	if !ok {
		return nil, fmt.Errorf("method %q must be Type::Method", filter)
	}
	t := asm.FindType(typeName)
	if t == nil {
		return nil, fmt.Errorf("type %s not found", typeName)
	}
	var found []*ir.MethodDef
	for _, m := range t.Methods {
		if m.Name == methodName {
			found = append(found, m)
		}
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("method %s not found", filter)
	}
	return found, nil
}
