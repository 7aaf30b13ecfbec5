// Command gemlive runs a voice agent against the Gemini Live API using the
// local microphone, speaker and (optionally) camera, and serves its state to
// renderers over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	// Device drivers for mediadevices.
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
)

type rootFlags struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "gemlive",
		Short:         "Realtime voice agent for the Gemini Live API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flags.envFile == "" {
				return nil
			}
			if err := godotenv.Load(flags.envFile); err != nil && cmd.Flags().Changed("env-file") {
				return fmt.Errorf("load env file: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "gemlive.yaml", "config file path")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(newRunCmd(flags), newToolsCmd(), newConfigCmd(flags))
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "gemlive:", err)
		stop()
		os.Exit(1)
	}
}
