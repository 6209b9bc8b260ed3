//go:build windows

package queue

import (
	"strings"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc/mgr"
)

// nativeServiceStatus queries the Service Control Manager directly
// instead of shelling out to Get-Service, avoiding a PowerShell spawn
// for the common verify-running / pre-check query steps. ok is false
// when the service name can't be resolved, signaling the caller to
// fall back to the shell-invoked action.
func nativeServiceStatus(serviceName string) (running bool, ok bool) {
	serviceName = strings.TrimSpace(serviceName)
	if serviceName == "" {
		return false, false
	}

	m, err := mgr.Connect()
	if err != nil {
		return false, false
	}
	defer m.Disconnect()

	svc, err := m.OpenService(serviceName)
	if err != nil {
		return false, false
	}
	defer svc.Close()

	status, err := svc.Query()
	if err != nil {
		return false, false
	}
	return status.State == windows.SERVICE_RUNNING, true
}

// nativeDiskFree returns the free-space percentage of the volume rooted
// at driveLetter (e.g. "C:") via GetDiskFreeSpaceEx, instead of parsing
// Get-PSDrive output.
func nativeDiskFree(driveLetter string) (freePercent float64, ok bool) {
	driveLetter = strings.TrimSpace(strings.TrimSuffix(driveLetter, "\\"))
	if driveLetter == "" {
		return 0, false
	}
	root := driveLetter + `\`

	var freeBytesAvailable, totalBytes, totalFreeBytes uint64
	rootPtr, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return 0, false
	}
	if err := windows.GetDiskFreeSpaceEx(rootPtr, &freeBytesAvailable, &totalBytes, &totalFreeBytes); err != nil {
		return 0, false
	}
	if totalBytes == 0 {
		return 0, false
	}
	return float64(totalFreeBytes) / float64(totalBytes) * 100.0, true
}
