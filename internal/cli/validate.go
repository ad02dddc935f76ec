package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/bizflow/internal/capture"
	"github.com/roach88/bizflow/internal/compiler"
	"github.com/roach88/bizflow/internal/registry"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                        `json:"valid"`
	Types    int                         `json:"types"`
	Rules    int                         `json:"rules"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <specs-dir>",
		Short: "Validate entity types and automation rules",
		Long: `Compile the CUE entity types and automation rules in a directory and
check them against each other: watched types exist, trigger fields are
declared, condition paths resolve and action targets are registered.

Nothing is written to the database. Rule cycles are reported as warnings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, specsDir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(err)
	}
	result, err := ValidateSpecsDir(specsDir, cfg.Automation.TaskType)
	if err != nil {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return &ExitError{Code: ExitCommandError, Message: loadErr.Code, Err: err, Reported: true}
		}
		return formatter.Fail(err)
	}
	formatter.VerboseLog("Compiled %d type(s) and %d rule(s) from %s", result.Types, result.Rules, specsDir)

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}

	return formatter.Emit(result, func(w io.Writer) {
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "warning: %s\n", warn.Message)
		}
		fmt.Fprintf(w, "✓ All specs valid (%d types, %d rules)\n", result.Types, result.Rules)
	})
}

// ValidateSpecsDir compiles and validates a specs directory. The returned
// error reports a directory that could not be loaded at all; compile and
// schema problems are collected in the result.
func ValidateSpecsDir(specsDir, taskType string) (*ValidationResult, error) {
	bundle, loadErrs := compiler.LoadDir(specsDir)
	if bundle == nil {
		return nil, errors.Join(loadErrs...)
	}

	result := &ValidationResult{Types: len(bundle.Types), Rules: len(bundle.Rules)}
	for _, err := range loadErrs {
		result.Errors = append(result.Errors, loadValidationError(err))
	}

	reg := registry.New()
	if err := reg.Register(capture.SessionDescriptor()); err != nil {
		return nil, err
	}
	for _, td := range bundle.Types {
		if err := reg.Register(td); err != nil {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "entity." + td.ID,
				Message: err.Error(),
				Code:    compiler.ErrDuplicateName,
			})
		}
	}
	for _, td := range bundle.Types {
		result.Errors = append(result.Errors, compiler.Validate(td, reg)...)
	}
	result.Errors = append(result.Errors, compiler.ValidateRules(bundle.Rules, reg)...)
	result.Warnings = compiler.AnalyzeCycles(bundle.Rules, taskType)
	result.Valid = len(result.Errors) == 0
	return result, nil
}

func loadValidationError(err error) compiler.ValidationError {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		ve := compiler.ValidationError{Field: "load", Message: loadErr.Message, Code: loadErr.Code}
		if loadErr.Pos.IsValid() {
			ve.Line = loadErr.Pos.Line()
		}
		return ve
	}
	return compiler.ValidationError{Field: "load", Message: err.Error(), Code: compiler.ErrCodeGeneric}
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, result *ValidationResult) error {
	errs := result.Errors
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("validation failed with %d error(s)", len(errs)), Reported: true}
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("validation failed with %d error(s)", len(errs)), Reported: true}
}
