package runbook

import "time"

// Builtins returns the set of runbooks bundled with the agent at startup,
// classified via Classify before being handed to the caller's registry.
// Content mirrors the concrete remediation actions used in practice for
// Windows service and disk-pressure incidents (systemctl/sc.exe-style
// service control, disk cleanup via the component store, process
// de-prioritization and crash-loop recovery).
func Builtins() []*Runbook {
	rbs := []*Runbook{
		serviceStartGeneric(),
		diskCleanupWindowsUpdate(),
		highCPUProcessNice(),
		serviceRestartLoop(),
	}
	for _, rb := range rbs {
		Classify(rb)
	}
	return rbs
}

// serviceStartGeneric restarts a stopped Windows service. Class A: plain
// service control, no policy/registry/network touch points.
func serviceStartGeneric() *Runbook {
	return &Runbook{
		ID:   "service_start_generic",
		Name: "Restart a stopped service",
		Steps: []Step{
			{
				Name:    "query-status",
				Kind:    StepQuery,
				Action:  "Get-Service -Name {{service_name}}",
				Timeout: 10 * time.Second,
			},
			{
				Name:       "start-service",
				Kind:       StepServiceControl,
				Action:     "Start-Service -Name {{service_name}}",
				Parameters: map[string]string{"service_name": "{{service_name}}"},
				Timeout:    30 * time.Second,
			},
			{
				Name:    "verify-running",
				Kind:    StepQuery,
				Action:  "Get-Service -Name {{service_name}}",
				Timeout: 10 * time.Second,
			},
		},
		Verification: []VerificationDescriptor{
			{StepName: "verify-running", Target: "{{service_name}}"},
		},
		EstimatedDuration: time.Minute,
		UserImpact:        ImpactServiceRestart,
		MatchSignalKeys:   []string{"services-service_status"},
	}
}

// diskCleanupWindowsUpdate frees disk space consumed by the Windows
// Update component store and superseded update packages. Class B:
// involves a scheduled-task-adjacent cleanup operation and an explicit
// approval requirement, since it touches system update state.
func diskCleanupWindowsUpdate() *Runbook {
	return &Runbook{
		ID:   "disk_cleanup_windows_update",
		Name: "Clean up Windows Update component store",
		Steps: []Step{
			{
				Name:    "query-free-space",
				Kind:    StepQuery,
				Action:  "Get-PSDrive {{drive_letter}}",
				Timeout: 10 * time.Second,
			},
			{
				Name:             "stop-update-service",
				Kind:             StepServiceControl,
				Action:           "Stop-Service -Name wuauserv",
				RequiresApproval: true,
				Timeout:          30 * time.Second,
			},
			{
				Name:              "run-dism-cleanup",
				Kind:              StepShellInvoke,
				Action:            "Dism.exe /Online /Cleanup-Image /StartComponentCleanup",
				RequiresApproval:  true,
				RollbackOnFailure: true,
				Timeout:           20 * time.Minute,
			},
			{
				Name:    "start-update-service",
				Kind:    StepServiceControl,
				Action:  "Start-Service -Name wuauserv",
				Timeout: 30 * time.Second,
			},
			{
				Name:    "verify-free-space",
				Kind:    StepQuery,
				Action:  "Get-PSDrive {{drive_letter}}",
				Timeout: 10 * time.Second,
			},
		},
		Verification: []VerificationDescriptor{
			{StepName: "verify-free-space", Target: "{{drive_letter}}"},
		},
		Rollback: []Step{
			{Name: "rollback-start-service", Kind: StepServiceControl, Action: "Start-Service -Name wuauserv", Timeout: 30 * time.Second},
		},
		EstimatedDuration: 25 * time.Minute,
		UserImpact:        ImpactTransient,
		MatchSignalKeys:   []string{"storage-disk_free"},
	}
}

// highCPUProcessNice lowers the scheduling priority of a runaway process.
// Class A: a plain shell invocation against the narrow permitted-cmdlet
// whitelist, nothing destructive.
func highCPUProcessNice() *Runbook {
	return &Runbook{
		ID:   "high_cpu_process_nice",
		Name: "De-prioritize a runaway process",
		Steps: []Step{
			{
				Name:    "query-top-consumer",
				Kind:    StepQuery,
				Action:  "Get-Process {{process_name}}",
				Timeout: 10 * time.Second,
			},
			{
				Name:       "renice-process",
				Kind:       StepShellInvoke,
				Action:     "renice-process {{process_name}}",
				Parameters: map[string]string{"process_name": "{{process_name}}"},
				Timeout:    10 * time.Second,
			},
			{
				Name:    "verify-cpu-dropped",
				Kind:    StepQuery,
				Action:  "Get-Process {{process_name}}",
				Timeout: 10 * time.Second,
			},
		},
		Verification: []VerificationDescriptor{
			{StepName: "verify-cpu-dropped", Target: "{{process_name}}"},
		},
		EstimatedDuration: 2 * time.Minute,
		UserImpact:        ImpactNone,
		MatchSignalKeys:   []string{"metric-cpu_usage", "process-cpu_usage"},
	}
}

// serviceRestartLoop breaks a crash-restart loop by stopping, clearing
// stale lock state, then starting a service with a verification step.
func serviceRestartLoop() *Runbook {
	return &Runbook{
		ID:   "service_restart_loop_break",
		Name: "Break a service crash-restart loop",
		Steps: []Step{
			{Name: "stop-service", Kind: StepServiceControl, Action: "Stop-Service -Name {{service_name}}", Timeout: 30 * time.Second},
			{Name: "clear-lock-file", Kind: StepFileOp, Action: "remove-lock-file", Parameters: map[string]string{"path": "{{lock_path}}"}, AllowFailure: true, Timeout: 5 * time.Second},
			{Name: "start-service", Kind: StepServiceControl, Action: "Start-Service -Name {{service_name}}", Timeout: 30 * time.Second},
			{Name: "verify-stable", Kind: StepSleep, Action: "sleep", Parameters: map[string]string{"seconds": "30"}, Timeout: 35 * time.Second},
			{Name: "verify-running", Kind: StepQuery, Action: "Get-Service -Name {{service_name}}", Timeout: 10 * time.Second},
		},
		Verification: []VerificationDescriptor{
			{StepName: "verify-running", Target: "{{service_name}}"},
		},
		EstimatedDuration: 90 * time.Second,
		UserImpact:        ImpactServiceRestart,
		MatchSignalKeys:   []string{"flap-state_flap"},
	}
}
