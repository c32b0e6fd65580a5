package docker

import (
	"fmt"
	"path"
	"strings"

	"treadle.sh/core/treadle/models"
	"treadle.sh/core/workflow"
)

// cloneStep generates the git commands that bring the triggering
// revision into the workspace. The workspace volume is mounted at the
// container working directory, so the commands run in place.
//
// Returns nil when clone.skip is set.
func cloneStep(cw workflow.CompiledWorkflow, t workflow.Trigger, dev bool) *Step {
	if cw.CloneOpts.Skip {
		return nil
	}

	sha, err := commitSha(t)
	if err != nil {
		return &Step{
			kind:    models.StepKindSystem,
			name:    "Clone repository into workspace (error)",
			command: fmt.Sprintf("echo 'Failed to get clone info: %s' && exit 1", err.Error()),
		}
	}

	fetchArgs := []string{fmt.Sprintf("--depth=%d", cloneDepth(cw.CloneOpts))}
	if cw.CloneOpts.IncludeSubmodules {
		fetchArgs = append(fetchArgs, "--recurse-submodules=yes")
	}
	fetchArgs = append(fetchArgs, "origin")
	if sha != "" {
		fetchArgs = append(fetchArgs, sha)
	}

	commands := []string{
		"git init",
		fmt.Sprintf("git remote add origin %s", repoURL(t, dev)),
		fmt.Sprintf("git fetch %s", strings.Join(fetchArgs, " ")),
		"git checkout FETCH_HEAD",
	}

	return &Step{
		kind:    models.StepKindSystem,
		name:    "Clone repository into workspace",
		command: strings.Join(commands, "\n"),
	}
}

func cloneDepth(opts workflow.CloneOpts) int {
	if opts.Depth > 0 {
		return opts.Depth
	}
	return 1
}

func commitSha(t workflow.Trigger) (string, error) {
	switch t.Kind {
	case workflow.TriggerKindPush:
		if t.Push == nil {
			return "", fmt.Errorf("push trigger metadata is nil")
		}
		return t.Push.NewSha, nil

	case workflow.TriggerKindPullRequest:
		if t.PullRequest == nil {
			return "", fmt.Errorf("pull request trigger metadata is nil")
		}
		return t.PullRequest.SourceSha, nil

	case workflow.TriggerKindManual:
		// manual triggers fetch the default branch head
		return "", nil

	default:
		return "", fmt.Errorf("unknown trigger kind: %s", t.Kind)
	}
}

func repoURL(t workflow.Trigger, dev bool) string {
	if t.Repo == nil {
		return ""
	}

	scheme := "https://"
	host := t.Repo.Host
	if dev {
		scheme = "http://"
		// inside the container, localhost is the container itself
		host = strings.ReplaceAll(host, "localhost", "host.docker.internal")
	}

	return fmt.Sprintf("%s%s/%s/%s", scheme, host, t.Repo.Owner, t.Repo.Name)
}

// workflowImage resolves a nixery-style image path from the declared
// dependencies, always including a base tool set.
func workflowImage(deps workflow.Dependencies, imageBase string) string {
	var packages string
	for registry, ds := range deps {
		if registry == "nixpkgs" {
			packages = path.Join(ds...)
		}
	}

	packages = path.Join(packages, "bash", "git", "coreutils")

	return path.Join(imageBase, packages)
}

// usesImage maps an action reference "ident@version" to an image
// reference "ident:version". A bare ident runs its latest tag.
func usesImage(ref string) string {
	if ident, version, ok := strings.Cut(ref, "@"); ok {
		return ident + ":" + version
	}
	return ref
}
