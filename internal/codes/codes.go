package codes

// ErrorCodes maps exit codes of the native build tools (sh, configure, make)
// to their descriptions
var ErrorCodes = map[int]string{
	0:   "Success",
	1:   "General failure",
	2:   "Make target failed or misuse of shell builtin",
	77:  "Test skipped",
	99:  "Hard test error",
	126: "Command found but not executable",
	127: "Command not found",
	128: "Invalid exit argument",
	129: "Terminated by SIGHUP",
	130: "Interrupted (SIGINT)",
	134: "Aborted (SIGABRT)",
	137: "Killed (SIGKILL)",
	139: "Segmentation fault (SIGSEGV)",
	143: "Terminated (SIGTERM)",
}

// IsSignal returns true if the exit code encodes termination by a signal
func IsSignal(code int) bool {
	return code > 128 && code < 160
}

// GetErrorMessage returns the error message for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}

	if code < 0 {
		return "Process did not exit normally"
	}

	return "Unknown error"
}
