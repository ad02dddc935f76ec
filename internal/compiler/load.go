package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/registry"
)

// Load error codes (E001-E009).
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeEntity      = "E008" // Entity failed to compile
	ErrCodeRule        = "E009" // Rule failed to compile
)

// LoadError represents an error that occurred while loading a specs
// directory.
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

// Bundle is the compiled content of a specs directory.
type Bundle struct {
	Types     []*registry.TypeDescriptor
	Rules     []model.AutomationRule
	Value     cue.Value // The raw CUE value for additional processing
	FileCount int       // Number of CUE files found
}

// Register adds every entity type in the bundle to reg.
func (b *Bundle) Register(reg *registry.Registry) error {
	for _, td := range b.Types {
		if err := reg.Register(td); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir loads the CUE package in dir and compiles its top-level
// `entity` and `rule` structs. It collects every compile error rather than
// stopping at the first; the returned bundle holds whatever compiled.
// Setup failures (missing directory, no files, CUE build errors) return a
// nil bundle.
func LoadDir(dir string) (*Bundle, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing specs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	bundle, errs := Extract(value)
	bundle.FileCount = len(cueFiles)
	return bundle, errs
}

// Extract compiles the `entity` and `rule` structs of an already built
// CUE value.
func Extract(value cue.Value) (*Bundle, []error) {
	var errs []error
	bundle := &Bundle{Value: value}

	eachField(value, "entity", &errs, func(v cue.Value) {
		td, err := CompileEntity(v)
		if err != nil {
			errs = append(errs, convertCompileError(err, ErrCodeEntity, "entity."+label(v)))
			return
		}
		bundle.Types = append(bundle.Types, td)
	})
	eachField(value, "rule", &errs, func(v cue.Value) {
		rule, err := CompileRule(v)
		if err != nil {
			errs = append(errs, convertCompileError(err, ErrCodeRule, "rule."+label(v)))
			return
		}
		bundle.Rules = append(bundle.Rules, *rule)
	})

	if len(bundle.Types) == 0 && len(bundle.Rules) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no entities or rules found in specs"})
	}
	return bundle, errs
}

func eachField(value cue.Value, section string, errs *[]error, fn func(cue.Value)) {
	v := value.LookupPath(cue.ParsePath(section))
	if !v.Exists() {
		return
	}
	iter, err := v.Fields()
	if err != nil {
		*errs = append(*errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", section, err)})
		return
	}
	for iter.Next() {
		fn(iter.Value())
	}
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

// convertCompileError converts a compiler error to a LoadError with
// position info.
func convertCompileError(err error, code, context string) *LoadError {
	var compileErr *CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    code,
			Message: fmt.Sprintf("%s: %s: %s", context, compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{
		Code:    code,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}
