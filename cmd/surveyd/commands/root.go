package commands

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagVerbose bool
	flagServer  string
)

var rootCmd = &cobra.Command{
	Use:   "surveyd",
	Short: "Automated voice survey daemon and operator CLI",
	Long: `surveyd runs automated multilingual voice surveys over the telephone.

The daemon (surveyd serve) places calls through a telephony gateway,
plays survey questions, records the answers, and drives each recording
through transcription, language detection, translation, and speech
synthesis. The other commands talk to a running daemon:

  surveyd call +15550100        place one survey call
  surveyd status                list sessions
  surveyd status <session-id>   show one session with its answers
  surveyd abort <session-id>    cancel a running session`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "f", "", "configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "http://localhost:8080", "address of a running surveyd")
}

func initLogging() {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
