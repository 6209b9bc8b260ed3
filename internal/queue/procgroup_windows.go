//go:build windows

package queue

import "os/exec"

// configureProcessGroup is a no-op on Windows; CREATE_NEW_PROCESS_GROUP
// would be needed to send console control events to the whole tree, but
// powershell.exe invocations here are not interactive console sessions.
func configureProcessGroup(cmd *exec.Cmd) {}

// killProcessGroup falls back to killing the direct child; Windows has
// no POSIX process-group-wide signal equivalent for this case.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
