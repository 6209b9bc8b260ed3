package queue

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/octoreflex/remediation-agent/internal/runbook"
)

// ShellRunner is the production StepRunner: it dispatches by step kind,
// invoking the resolved action string as a child process under the
// platform's native shell for
// query/service-control/shell-invoke/file-op/registry-op/reboot steps.
// ShellRunner never does its own interpretation of the action string.
// Neither queue admission nor the Executor checks the action against
// the permitted-cmdlet set (TranslateAction) or escapes substituted
// parameter values (EscapeShellArg) before it reaches the shell.
type ShellRunner struct{}

// NewShellRunner creates a ShellRunner.
func NewShellRunner() *ShellRunner { return &ShellRunner{} }

// Run executes one step, bounded by ctx's deadline (set per-step by
// the Executor, default 60s or the step's own Timeout).
func (r *ShellRunner) Run(ctx context.Context, step runbook.Step, resolvedAction string) (string, error) {
	switch step.Kind {
	case runbook.StepSleep:
		return r.runSleep(ctx, step)
	case runbook.StepUserPrompt:
		// No GUI collaborator is wired in this agent; a user-prompt step
		// always resolves as a prompt timeout, letting allow_failure
		// decide whether the playbook continues.
		return "", fmt.Errorf("step %q: user-prompt: no UI session attached", step.Name)
	case runbook.StepQuery:
		if out, handled, err := r.runNativeQuery(step); handled {
			return out, err
		}
		fallthrough
	default:
		name, args := shellCommand(resolvedAction)
		cmd := exec.CommandContext(ctx, name, args...)
		configureProcessGroup(cmd)

		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out

		// A PowerShell or shell invocation may itself spawn children
		// (e.g. Dism.exe); WaitDelay plus a group-kill Cancel tears down
		// the whole process tree on a step timeout, not just the shell.
		cmd.WaitDelay = 2 * time.Second
		cmd.Cancel = func() error { return killProcessGroup(cmd) }

		if err := cmd.Run(); err != nil {
			return out.String(), fmt.Errorf("step %q: %w", step.Name, err)
		}
		return out.String(), nil
	}
}

// runNativeQuery attempts to resolve a query step without spawning a
// subprocess, for the two step shapes the runbook catalog uses most: a
// service status check and a volume free-space check. handled is false
// when the step's parameters don't match either shape or the native
// call failed, telling Run to fall through to the shell-invoked action.
func (r *ShellRunner) runNativeQuery(step runbook.Step) (out string, handled bool, err error) {
	if name, ok := step.Parameters["service_name"]; ok {
		running, queried := nativeServiceStatus(name)
		if !queried {
			return "", false, nil
		}
		if !running {
			return "", true, fmt.Errorf("step %q: service %q not running", step.Name, name)
		}
		return "service " + name + " running", true, nil
	}
	if drive, ok := step.Parameters["drive_letter"]; ok {
		free, queried := nativeDiskFree(drive)
		if !queried {
			return "", false, nil
		}
		return fmt.Sprintf("drive %s: %.1f%% free", drive, free), true, nil
	}
	return "", false, nil
}

func (r *ShellRunner) runSleep(ctx context.Context, step runbook.Step) (string, error) {
	seconds := 0
	if s, ok := step.Parameters["seconds"]; ok {
		if n, err := strconv.Atoi(s); err == nil {
			seconds = n
		}
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// shellCommand wraps a resolved action string for the host platform's
// shell so a single pre-built command line is executed as one unit,
// matching how PowerShell/cmdlet invocations are expressed in the
// runbook catalog.
func shellCommand(action string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "powershell.exe", []string{"-NoProfile", "-NonInteractive", "-Command", action}
	}
	return "/bin/sh", []string{"-c", action}
}
