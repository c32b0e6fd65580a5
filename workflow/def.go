package workflow

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// - a repository event results in the trigger of a "Pipeline"
// - a repo could carry several workflow files
//   * .treadle/workflows/test.yml
//   * .treadle/workflows/lint.yml
// - a pipeline therefore consists of several workflows
// - each workflow consists of execution steps, these execute serially

type (
	Pipeline []Workflow

	// structural representation of a single workflow file
	Workflow struct {
		Name            string            `yaml:"-"` // name of the workflow file
		When            []Constraint      `yaml:"when"`
		Dependencies    Dependencies      `yaml:"dependencies"`
		Environment     map[string]string `yaml:"environment"`
		Timeout         string            `yaml:"timeout"`
		ContinueOnError bool              `yaml:"continue_on_error"`
		CloneOpts       CloneOpts         `yaml:"clone"`
		Steps           []Step            `yaml:"steps"`
	}

	Constraint struct {
		Event  StringList `yaml:"event"`
		Branch StringList `yaml:"branch"` // optional, applied on push and pull_request events
	}

	Dependencies map[string][]string

	CloneOpts struct {
		Skip              bool `yaml:"skip"`
		Depth             int  `yaml:"depth"`
		IncludeSubmodules bool `yaml:"submodules"`
	}

	// A step runs either a shell command in the workflow image, or a
	// published action: an image reference of the form ident@version,
	// parameterized by the `with` map.
	Step struct {
		Name            string            `yaml:"name"`
		Command         string            `yaml:"command"`
		Uses            string            `yaml:"uses"`
		With            map[string]string `yaml:"with"`
		Environment     map[string]string `yaml:"environment"`
		ContinueOnError bool              `yaml:"continue_on_error"`
	}

	StringList []string
)

func FromFile(name string, contents []byte) (Workflow, error) {
	var wf Workflow

	err := yaml.Unmarshal(contents, &wf)
	if err != nil {
		return wf, err
	}

	wf.Name = name

	return wf, nil
}

// if any of the constraints on a workflow is true, return true
func (w *Workflow) Match(trigger Trigger) bool {
	// manual triggers always run the workflow
	if trigger.Manual != nil {
		return true
	}

	for _, c := range w.When {
		if c.Match(trigger) {
			return true
		}
	}

	// no constraints, always run this workflow
	if len(w.When) == 0 {
		return true
	}

	return false
}

func (c *Constraint) Match(trigger Trigger) bool {
	match := true

	if trigger.Manual != nil {
		return true
	}

	match = match && c.MatchEvent(trigger.Kind)

	if trigger.PullRequest != nil {
		match = match && c.MatchBranch(trigger.PullRequest.TargetBranch)
	}

	if trigger.Push != nil {
		match = match && c.MatchRef(trigger.Push.Ref)
	}

	return match
}

func (c *Constraint) MatchBranch(branch string) bool {
	if len(c.Branch) == 0 {
		return true
	}
	return slices.Contains(c.Branch, branch)
}

func (c *Constraint) MatchRef(ref string) bool {
	if len(c.Branch) == 0 {
		return true
	}
	branch, ok := strings.CutPrefix(ref, "refs/heads/")
	if !ok {
		return false
	}
	return slices.Contains(c.Branch, branch)
}

func (c *Constraint) MatchEvent(event string) bool {
	return slices.Contains(c.Event, event)
}

// Custom unmarshaller for StringList
func (s *StringList) UnmarshalYAML(unmarshal func(any) error) error {
	var stringType string
	if err := unmarshal(&stringType); err == nil {
		*s = []string{stringType}
		return nil
	}

	var sliceType []any
	if err := unmarshal(&sliceType); err == nil {
		if sliceType == nil {
			*s = nil
			return nil
		}

		parts := make([]string, len(sliceType))
		for k, v := range sliceType {
			if sv, ok := v.(string); ok {
				parts[k] = sv
			} else {
				return fmt.Errorf("cannot unmarshal '%v' of type %T into a string value", v, v)
			}
		}

		*s = parts
		return nil
	}

	return errors.New("failed to unmarshal StringOrSlice")
}
