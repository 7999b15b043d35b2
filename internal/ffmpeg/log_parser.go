package ffmpeg

import "strings"

// ParseLogLevel splits the level prefix emitted by -loglevel level+info.
// Lines look like "[error] message" or "[tcp @ 0x55d1] [error] message";
// the component prefix is kept in msg. Unprefixed lines are info.
func ParseLogLevel(line string) (level, msg string) {
	head, rest, ok := cutBracket(line)
	if !ok {
		return "info", line
	}
	if isLogLevel(head) {
		return head, rest
	}

	next, tail, ok := cutBracket(rest)
	if ok && isLogLevel(next) {
		return next, line[:len(line)-len(rest)] + tail
	}
	return "info", line
}

// cutBracket splits "[x] rest" into x and rest.
func cutBracket(s string) (inner, rest string, ok bool) {
	if len(s) < 3 || s[0] != '[' {
		return "", s, false
	}
	end := strings.Index(s, "] ")
	if end == -1 {
		return "", s, false
	}
	return s[1:end], s[end+2:], true
}

func isLogLevel(s string) bool {
	switch s {
	case "quiet", "panic", "fatal", "error", "warning", "info", "verbose", "debug", "trace":
		return true
	}
	return false
}
