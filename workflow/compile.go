package workflow

import (
	"errors"
	"fmt"
	"time"
)

type RawWorkflow struct {
	Name     string
	Contents []byte
}

type RawPipeline = []RawWorkflow

// Compiler turns a repository's workflow files into the set of
// workflows that should run for a given trigger, collecting
// diagnostics along the way. A compiled workflow carries a resolved
// timeout and validated steps.
type Compiler struct {
	Trigger Trigger

	// applied to workflows that declare no timeout of their own;
	// zero means the package default
	DefaultTimeout time.Duration

	Diagnostics Diagnostics
}

type Diagnostics struct {
	Errors   []Error
	Warnings []Warning
}

func (d *Diagnostics) IsEmpty() bool {
	return len(d.Errors) == 0 && len(d.Warnings) == 0
}

func (d *Diagnostics) Combine(o Diagnostics) {
	d.Errors = append(d.Errors, o.Errors...)
	d.Warnings = append(d.Warnings, o.Warnings...)
}

func (d *Diagnostics) AddWarning(path string, kind WarningKind, reason string) {
	d.Warnings = append(d.Warnings, Warning{path, kind, reason})
}

func (d *Diagnostics) AddError(path string, err error) {
	d.Errors = append(d.Errors, Error{path, err})
}

func (d Diagnostics) IsErr() bool {
	return len(d.Errors) != 0
}

type Error struct {
	Path  string
	Error error
}

func (e Error) String() string {
	return fmt.Sprintf("error: %s: %s", e.Path, e.Error.Error())
}

type Warning struct {
	Path   string
	Type   WarningKind
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("warning: %s: %s: %s", w.Path, w.Type, w.Reason)
}

var (
	ErrNoSteps        = errors.New("workflow has no steps")
	ErrStepNoAction   = errors.New("step declares neither command nor uses")
	ErrStepTwoActions = errors.New("step declares both command and uses")
	ErrInvalidTimeout = errors.New("invalid timeout")
)

type WarningKind string

var (
	WorkflowSkipped      WarningKind = "workflow skipped"
	InvalidConfiguration WarningKind = "invalid configuration"
)

// DefaultTimeout bounds workflows that do not declare their own.
const DefaultTimeout = 30 * time.Minute

type CompiledWorkflow struct {
	Workflow
	ResolvedTimeout time.Duration
}

type CompiledPipeline struct {
	Trigger   Trigger
	Workflows []CompiledWorkflow
}

func (compiler *Compiler) Parse(p RawPipeline) Pipeline {
	var pp Pipeline

	for _, w := range p {
		wf, err := FromFile(w.Name, w.Contents)
		if err != nil {
			compiler.Diagnostics.AddError(w.Name, err)
			continue
		}

		pp = append(pp, wf)
	}

	return pp
}

// Compile converts parsed workflow files into the runnable pipeline
// for this compiler's trigger. Workflows whose constraints do not
// match are skipped with a warning; invalid workflows produce errors
// and no run.
func (compiler *Compiler) Compile(p Pipeline) CompiledPipeline {
	cp := CompiledPipeline{
		Trigger: compiler.Trigger,
	}

	for _, wf := range p {
		cw := compiler.compileWorkflow(wf)

		if cw == nil {
			continue
		}

		cp.Workflows = append(cp.Workflows, *cw)
	}

	return cp
}

func (compiler *Compiler) compileWorkflow(w Workflow) *CompiledWorkflow {
	if !w.Match(compiler.Trigger) {
		compiler.Diagnostics.AddWarning(
			w.Name,
			WorkflowSkipped,
			fmt.Sprintf("did not match trigger %s", compiler.Trigger.Kind),
		)
		return nil
	}

	compiler.analyzeCloneOptions(w)

	if len(w.Steps) == 0 {
		compiler.Diagnostics.AddError(w.Name, ErrNoSteps)
		return nil
	}

	for _, s := range w.Steps {
		switch {
		case s.Command == "" && s.Uses == "":
			compiler.Diagnostics.AddError(w.Name, fmt.Errorf("%w: %q", ErrStepNoAction, s.Name))
			return nil
		case s.Command != "" && s.Uses != "":
			compiler.Diagnostics.AddError(w.Name, fmt.Errorf("%w: %q", ErrStepTwoActions, s.Name))
			return nil
		}
	}

	timeout := DefaultTimeout
	if compiler.DefaultTimeout > 0 {
		timeout = compiler.DefaultTimeout
	}
	if w.Timeout != "" {
		d, err := time.ParseDuration(w.Timeout)
		if err != nil || d <= 0 {
			compiler.Diagnostics.AddError(w.Name, fmt.Errorf("%w: %q", ErrInvalidTimeout, w.Timeout))
			return nil
		}
		timeout = d
	}

	return &CompiledWorkflow{
		Workflow:        w,
		ResolvedTimeout: timeout,
	}
}

func (compiler *Compiler) analyzeCloneOptions(w Workflow) {
	if w.CloneOpts.Skip && w.CloneOpts.IncludeSubmodules {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.submodules`",
		)
	}

	if w.CloneOpts.Skip && w.CloneOpts.Depth > 0 {
		compiler.Diagnostics.AddWarning(
			w.Name,
			InvalidConfiguration,
			"cannot apply `clone.skip` and `clone.depth`",
		)
	}
}
