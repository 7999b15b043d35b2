package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultBinary is the executable used when RelayParams.Binary is empty.
const DefaultBinary = "ffmpeg"

// KeyframeInterval is the GOP size passed with -g.
const KeyframeInterval = 60

// RedactedKey replaces the stream key wherever a command is logged.
const RedactedKey = "[STREAM_KEY_REDACTED]"

// DestinationKind selects the upstream endpoint template.
type DestinationKind string

// Known destinations. Anything else is treated as a custom endpoint.
const (
	DestinationYouTube   DestinationKind = "youtube"
	DestinationFacebook  DestinationKind = "facebook"
	DestinationInstagram DestinationKind = "instagram"
	DestinationCustom    DestinationKind = "custom"
)

var destinationTemplates = map[DestinationKind]string{
	DestinationYouTube:   "rtmp://a.rtmp.youtube.com/live2/%s",
	DestinationFacebook:  "rtmps://live-api-s.facebook.com:443/rtmp/%s",
	DestinationInstagram: "rtmps://live-upload.instagram.com:443/rtmp/%s",
}

// ParseDestination maps a user supplied destination to a kind and, for
// custom destinations, the endpoint. A known kind name selects its
// template; any other non-empty value is taken as a custom endpoint.
func ParseDestination(s string) (DestinationKind, string) {
	s = strings.TrimSpace(s)
	kind := DestinationKind(strings.ToLower(s))
	if _, ok := destinationTemplates[kind]; ok {
		return kind, ""
	}
	if kind == DestinationCustom {
		return DestinationCustom, ""
	}
	return DestinationCustom, s
}

// RelayParams describes one relay invocation.
type RelayParams struct {
	Binary      string
	Input       string
	Destination DestinationKind
	Endpoint    string // custom destinations only
	StreamKey   string
}

// Validate checks that p can produce a command.
func (p RelayParams) Validate() error {
	if strings.TrimSpace(p.Input) == "" {
		return errors.New("input is required")
	}
	if p.Destination == "" {
		return errors.New("destination is required")
	}
	if _, ok := destinationTemplates[p.Destination]; !ok && strings.TrimSpace(p.Endpoint) == "" {
		return fmt.Errorf("destination %q requires an endpoint", p.Destination)
	}
	return nil
}

// TargetURL returns the output URL, stream key included.
func (p RelayParams) TargetURL() string {
	if tmpl, ok := destinationTemplates[p.Destination]; ok {
		return fmt.Sprintf(tmpl, p.StreamKey)
	}
	return strings.TrimRight(p.Endpoint, "/") + "/" + p.StreamKey
}

// Invocation is a built command line. Its String form is safe to log.
type Invocation struct {
	Args   []string
	secret string
}

// BuildRelayCommand builds the ffmpeg invocation that copies p.Input to
// the destination without re-encoding.
func BuildRelayCommand(p RelayParams) (Invocation, error) {
	if err := p.Validate(); err != nil {
		return Invocation{}, err
	}
	binary := p.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	args := []string{
		binary,
		"-hide_banner",
		"-loglevel", "level+info",
		"-re",
		"-i", p.Input,
		"-c:v", "copy",
		"-c:a", "copy",
		"-g", fmt.Sprint(KeyframeInterval),
		"-f", "flv",
		p.TargetURL(),
	}
	return Invocation{Args: args, secret: p.StreamKey}, nil
}

// commandLine joins Args with shell quoting. It contains the stream key.
func (inv Invocation) commandLine() string {
	quoted := make([]string, len(inv.Args))
	for i, a := range inv.Args {
		quoted[i] = quoteArg(a)
	}
	return strings.Join(quoted, " ")
}

// String returns the command line with the stream key redacted.
func (inv Invocation) String() string {
	return Redact(inv.commandLine(), inv.secret)
}

// Redact replaces every occurrence of secret in s.
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, RedactedKey)
}

func quoteArg(a string) string {
	if a != "" && !strings.ContainsAny(a, " \t\"'\\") {
		return a
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range a {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}
