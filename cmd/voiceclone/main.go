// Command voiceclone is a command-line client for a running voiceclone-service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/book-expert/voiceclone-service/internal/client"
	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
)

// Flag names.
const (
	flagServer  = "server"
	flagTimeout = "timeout"
)

// cliEnv supplies flag defaults from the environment.
type cliEnv struct {
	Server  string        `env:"VOICECLONE_SERVER"  envDefault:"http://localhost:8080"`
	Timeout time.Duration `env:"VOICECLONE_TIMEOUT" envDefault:"6m"`
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	server  string
	timeout time.Duration
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.server, o.timeout)
}

func newRootCommand() (*cobra.Command, error) {
	defaults, err := env.ParseAs[cliEnv]()
	if err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "voiceclone",
		Short:         "Clone voices and synthesize speech through a voiceclone-service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.server, flagServer, defaults.Server, "Base URL of the voiceclone-service")
	cmd.PersistentFlags().DurationVar(&opts.timeout, flagTimeout, defaults.Timeout, "Per-request timeout")

	cmd.AddCommand(
		newHealthCommand(opts),
		newVoicesCommand(opts),
		newSayCommand(opts),
		newCloneCommand(opts),
		newChatCommand(opts),
	)

	return cmd, nil
}

func main() {
	cmd, err := newRootCommand()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	err = cmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
