package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	authclient "github.com/goliatone/go-auth-client"
)

type globalOptions struct {
	envFiles []string
	logLevel string
	timeout  time.Duration
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the campauth command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "campauth",
		Short: "Camp session client",
		Long: `campauth drives the camp session stack from the command line.

Every command signs in (or signs up), waits for the session to settle against
the backend API and prints the resulting session state as JSON. Sessions are
not persisted between invocations.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before reading the environment")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override CAMP_LOG_LEVEL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall command timeout")

	root.AddCommand(
		newSignUpCommand(opts),
		newSignInCommand(opts),
		newUpdateProfileCommand(opts),
		newTokenCommand(opts),
	)

	return root
}

func (o *globalOptions) config() (authclient.Config, error) {
	cfg, err := authclient.LoadConfig(o.envFiles...)
	if err != nil {
		return authclient.Config{}, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return authclient.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if o.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.timeout)
}
