package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"treadle.sh/core/treadle/config"
	"treadle.sh/core/treadle/engine"
	"treadle.sh/core/treadle/engines/docker"
	"treadle.sh/core/treadle/models"
	"treadle.sh/core/workflow"
)

func execCommand() *cli.Command {
	return &cli.Command{
		Name:      "exec",
		Usage:     "compile and run workflow files locally, without a server",
		ArgsUsage: "<workflow file> ...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "repo",
				Usage: "owner/name the run pretends to belong to",
				Value: "local/workspace",
			},
			&cli.StringFlag{
				Name:  "image-base",
				Usage: "base registry for workflow images",
				Value: "nixery.dev",
			},
			&cli.StringFlag{
				Name:  "log-dir",
				Usage: "directory for run logs",
				Value: os.TempDir(),
			},
		},
		Action: runExec,
	}
}

func runExec(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return errors.New("at least one workflow file is required")
	}

	var raw workflow.RawPipeline
	for _, f := range files {
		contents, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("reading %s: %w", f, err)
		}
		raw = append(raw, workflow.RawWorkflow{
			Name:     filepath.Base(f),
			Contents: contents,
		})
	}

	owner, name, ok := strings.Cut(cmd.String("repo"), "/")
	if !ok {
		return errors.New("repo must be owner/name")
	}

	trigger := workflow.Trigger{
		Kind: workflow.TriggerKindManual,
		Repo: &workflow.TriggerRepo{
			Owner:         owner,
			Name:          name,
			DefaultBranch: "main",
		},
		Manual: &workflow.ManualTrigger{},
	}

	compiler := workflow.Compiler{Trigger: trigger}
	compiled := compiler.Compile(compiler.Parse(raw))

	for _, e := range compiler.Diagnostics.Errors {
		fmt.Fprintln(os.Stderr, e.String())
	}
	for _, w := range compiler.Diagnostics.Warnings {
		fmt.Fprintln(os.Stderr, w.String())
	}
	if compiler.Diagnostics.IsErr() {
		return errors.New("workflow compilation failed")
	}
	if len(compiled.Workflows) == 0 {
		return errors.New("no workflows to run")
	}

	cfg := &config.Config{
		Server: config.Server{Dev: true},
		Runs: config.Runs{
			ImageBase: cmd.String("image-base"),
			LogDir:    cmd.String("log-dir"),
		},
	}

	eng, err := docker.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", err)
	}

	failed := false
	for _, cw := range compiled.Workflows {
		conclusion, err := execWorkflow(ctx, eng, cfg, cw, trigger)
		if err != nil {
			return err
		}
		if conclusion == models.ConclusionFailure {
			failed = true
		}
	}

	if failed {
		return errors.New("one or more workflows failed")
	}
	return nil
}

func execWorkflow(ctx context.Context, eng *docker.Engine, cfg *config.Config, cw workflow.CompiledWorkflow, trigger workflow.Trigger) (models.Conclusion, error) {
	wid := models.WorkflowId{
		RunId: models.RunId{
			Repo: trigger.Repo.Path(),
			Rkey: uuid.NewString(),
		},
		Name: cw.Name,
	}

	wf, err := eng.InitWorkflow(cw, trigger)
	if err != nil {
		return models.ConclusionFailure, fmt.Errorf("initializing workflow %s: %w", cw.Name, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, wf.Timeout)
	defer cancel()
	defer eng.DestroyWorkflow(context.WithoutCancel(ctx), wid)

	wfLogger, err := models.NewWorkflowLogger(cfg.Runs.LogDir, wid)
	if err != nil {
		return models.ConclusionFailure, err
	}
	defer wfLogger.Close()

	started := time.Now()
	fmt.Printf("=== %s\n", cw.Name)

	result := &models.RunResult{}
	if err := eng.SetupWorkflow(runCtx, wid, wf); err != nil {
		fmt.Printf("    provisioning failed: %v\n", err)
		return result.Conclusion(wf.ContinueOnError), nil
	}
	result.Provisioned = true

	for idx, step := range wf.Steps {
		stepStart := time.Now()
		err := eng.RunStep(runCtx, wid, wf, idx, nil, wfLogger)
		elapsed := humanize.RelTime(stepStart, time.Now(), "", "")

		if err == nil {
			result.RecordSuccess(step.Name())
			fmt.Printf("  ✓ %s (%s)\n", step.Name(), elapsed)
			continue
		}

		if errors.Is(err, engine.ErrTimedOut) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			fmt.Printf("  ✗ %s timed out\n", step.Name())
			break
		}

		code := int64(-1)
		var exitErr *engine.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.Code
		}

		tolerated := step.ContinueOnError()
		result.RecordFailure(step.Name(), code, tolerated)
		if tolerated {
			fmt.Printf("  ! %s failed with exit code %d, continuing (%s)\n", step.Name(), code, elapsed)
			continue
		}

		fmt.Printf("  ✗ %s failed with exit code %d (%s)\n", step.Name(), code, elapsed)
		break
	}

	conclusion := result.Conclusion(wf.ContinueOnError)
	fmt.Printf("=== %s: %s, took %s\n", cw.Name, conclusion, humanize.RelTime(started, time.Now(), "", ""))
	fmt.Printf("    log: %s\n", models.LogFilePath(cfg.Runs.LogDir, wid))

	return conclusion, nil
}
