package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/relaynode/internal/ffmpeg"
)

// CreateCommandCmd creates the command command, which prints the ffmpeg
// invocation a relay would run. The stream key is always redacted.
func CreateCommandCmd() *cobra.Command {
	var p ffmpeg.RelayParams
	var destination string

	cmd := &cobra.Command{
		Use:   "command",
		Short: "Print the ffmpeg invocation for a relay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kind, endpoint := ffmpeg.ParseDestination(destination)
			p.Destination = kind
			if p.Endpoint == "" {
				p.Endpoint = endpoint
			}
			if p.StreamKey == "" {
				p.StreamKey = os.Getenv(StreamKeyEnv)
			}

			inv, err := ffmpeg.BuildRelayCommand(p)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), inv.String())
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&p.Input, "input", "", "Input locator")
	flags.StringVar(&destination, "destination", "youtube", "youtube, facebook, instagram, or an rtmp(s) endpoint")
	flags.StringVar(&p.Endpoint, "endpoint", "", "Endpoint for a custom destination")
	flags.StringVar(&p.StreamKey, "key", "", "Destination stream key, shown redacted")
	flags.StringVar(&p.Binary, "ffmpeg-binary", "ffmpeg", "ffmpeg executable")

	return cmd
}
