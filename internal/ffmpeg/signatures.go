package ffmpeg

import "strings"

// Signature is a case-insensitive substring that marks a diagnostic line
// as unrecoverable for the current process.
type Signature struct {
	Name    string // metric label
	Pattern string // lower case
}

// FatalSignatures lists the failures after which the relay cannot make
// progress without being relaunched.
var FatalSignatures = []Signature{
	{Name: "connection_refused", Pattern: "connection refused"},
	{Name: "connection_reset", Pattern: "connection reset"},
	{Name: "no_such_file", Pattern: "no such file or directory"},
	{Name: "io_error", Pattern: "input/output error"},
	{Name: "http_404", Pattern: "server returned 404"},
	{Name: "http_403", Pattern: "server returned 403"},
	{Name: "rtmp_connect", Pattern: "rtmp_connect_stream"},
	{Name: "invalid_data", Pattern: "invalid data found"},
	{Name: "connection_timeout", Pattern: "connection timed out"},
	{Name: "end_of_file", Pattern: "end of file"},
}

// MatchFatal returns the first fatal signature contained in line.
func MatchFatal(line string) (Signature, bool) {
	lower := strings.ToLower(line)
	for _, sig := range FatalSignatures {
		if strings.Contains(lower, sig.Pattern) {
			return sig, true
		}
	}
	return Signature{}, false
}

// IsErrorLine reports whether line mentions an error in any case.
func IsErrorLine(line string) bool {
	return strings.Contains(strings.ToLower(line), "error")
}

// ProgressValue returns the first whitespace-delimited token following
// "key=" in a progress line. ffmpeg pads values, so "fps= 25" yields "25".
func ProgressValue(line, key string) (string, bool) {
	_, rest, ok := strings.Cut(line, key+"=")
	if !ok {
		return "", false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", false
	}
	return fields[0], true
}
