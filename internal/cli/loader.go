package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/nullguard/internal/compiler"
	"github.com/roach88/nullguard/internal/ir"
)

// LoadError represents an error that occurred while loading an assembly
// description.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadAssembly compiles one assembly description. path is either a .cue
// file whose top-level "assembly" field describes the assembly, or a
// directory holding a CUE package that defines it. The assembly path is
// set to path so its external annotations sidecar is found next to it.
func LoadAssembly(path string) (*ir.Assembly, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("assembly not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing assembly: %v", err)}
	}
	if !info.IsDir() {
		return loadFile(path)
	}
	return loadDir(path)
}

func loadFile(path string) (*ir.Assembly, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}
	}
	asm, err := compiler.CompileSource(path, src)
	if err != nil {
		return nil, convertCompileError(err, path)
	}
	return asm, nil
}

func loadDir(dir string) (*ir.Assembly, error) {
	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	av := value.LookupPath(cue.ParsePath("assembly"))
	if !av.Exists() {
		return nil, &LoadError{Code: ErrCodeCompile, Message: fmt.Sprintf("no assembly defined in %s", dir)}
	}
	asm, err := compiler.CompileAssembly(av)
	if err != nil {
		return nil, convertCompileError(err, dir)
	}
	asm.Path = filepath.Clean(dir)
	return asm, nil
}

// LoadUniverse loads the assembly at path together with the reference
// assemblies its base types and interfaces may live in.
func LoadUniverse(path string, refs []string) (*ir.Assembly, *ir.Universe, error) {
	asm, err := LoadAssembly(path)
	if err != nil {
		return nil, nil, err
	}
	u := ir.NewUniverse(asm)
	for _, ref := range refs {
		r, err := LoadAssembly(ref)
		if err != nil {
			return nil, nil, err
		}
		u.Add(r)
	}
	return asm, u, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// convertCompileError converts a compiler error to a LoadError with position info.
func convertCompileError(err error, source string) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeCompile,
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeCompile,
		Message: fmt.Sprintf("%s: %v", source, err),
	}
}

// loadErrorCode returns the code of a LoadError, or ErrCodeGeneric.
func loadErrorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	return ErrCodeGeneric
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	ErrCodeCompile      = "E008" // Assembly description does not compile
	ErrCodeInvalid      = "E009" // Compiled assembly fails structural validation
	ErrCodePolicy       = "E010" // Policy file or flag is invalid
	ErrCodeLedger       = "E011" // Ledger could not be opened, read or written
	ErrCodeAlreadyWoven = "E012" // Input is the output of an earlier weave
	ErrCodeDeclaration  = "E013" // Weave reported declaration errors
	ErrCodeWeaveFailed  = "E014" // Weave aborted while rewriting a member
)
