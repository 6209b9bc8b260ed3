package queue

import (
	"fmt"
	"strconv"
	"strings"
)

// ProtectedResources is the curated denylist of critical OS components,
// keyed by lowercase name without extension, as IsProtected looks them
// up. IsProtected is not called when a task is admitted or executed, so
// a runbook that targets one of these components is not blocked.
var ProtectedResources = map[string]bool{
	"winlogon":      true,
	"csrss":         true,
	"services":      true,
	"lsass":         true,
	"smss":          true,
	"system":        true,
	"wininit":       true,
}

// IsProtected reports whether a process/service name is on the
// protected-resource denylist.
func IsProtected(name string) bool {
	return ProtectedResources[strings.ToLower(stripExt(name))]
}

func stripExt(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i]
	}
	return name
}

// permittedCmdlets is the whitelist of shell-invocation verbs the queue
// executor will run. Anything not matching this set (after translation)
// is rejected outright.
var permittedCmdlets = map[string]bool{
	"get-service": true, "start-service": true, "stop-service": true, "restart-service": true,
	"get-process": true, "stop-process": true,
	"get-psdrive": true,
	"dism.exe":    true,
	"renice-process": true, "remove-lock-file": true,
	"sleep": true,
}

// plainEnglishTranslation converts a small whitelist of plain-English
// actions into their canonical permitted-cmdlet form.
var plainEnglishTranslation = map[string]string{
	"restart the service":   "restart-service",
	"check service status":  "get-service",
	"list top processes":    "get-process",
	"kill the process":      "stop-process",
	"free disk space":       "dism.exe",
}

// TranslateAction resolves a step's Action string to its canonical
// cmdlet verb: first checking the plain-English translation table, then
// treating the first whitespace-delimited token of Action as already
// canonical.
func TranslateAction(action string) (string, error) {
	norm := strings.ToLower(strings.TrimSpace(action))
	if canonical, ok := plainEnglishTranslation[norm]; ok {
		return canonical, nil
	}
	fields := strings.Fields(norm)
	if len(fields) == 0 {
		return "", fmt.Errorf("safety: empty action")
	}
	verb := fields[0]
	if !permittedCmdlets[verb] {
		return "", fmt.Errorf("safety: %q is not a permitted cmdlet", verb)
	}
	return verb, nil
}

// shellMeta is the set of shell metacharacters escaped before any
// string is substituted into a shell-invocation context.
const shellMeta = "&|;<>$`\\\"'\n"

// EscapeShellArg escapes shell metacharacters in s by backslash-
// prefixing them, so a substituted value cannot break out of its
// argument position.
func EscapeShellArg(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(shellMeta, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ParseRangedInt parses s as an integer and validates it falls within
// [min, max] inclusive, used for parameters like reboot delay (0-3600
// seconds).
func ParseRangedInt(s string, min, max int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("safety: %q is not an integer: %w", s, err)
	}
	if n < min || n > max {
		return 0, fmt.Errorf("safety: %d out of allowed range [%d, %d]", n, min, max)
	}
	return n, nil
}

// IsIgnoreInstruction heuristically detects a playbook whose name or
// description matches a curated "this is an instruction to ignore,
// not to execute" pattern, e.g. one the server sends to close out a
// false positive without running any steps.
func IsIgnoreInstruction(name, description string) bool {
	haystack := strings.ToLower(name + " " + description)
	for _, pattern := range []string{"ignore this", "no action needed", "false positive", "suppress only", "do not execute"} {
		if strings.Contains(haystack, pattern) {
			return true
		}
	}
	return false
}
