package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	reconfigure bool
	secure      bool
	logLevel    string
)

// rootCmd represents the base command; running it starts the tunnel.
var rootCmd = &cobra.Command{
	Use:   "livetunnel [directory]",
	Short: "Tunnel your local files to your own webserver",
	Long: `livetunnel opens an SSH session to your server, sets up a reverse
port forward, and serves a local directory through it so the content is
reachable on the remote port. It runs until interrupted or until the
connection dies, then tears everything down in order.`,
	Args: cobra.MaximumNArgs(1),
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed connections)
	SilenceUsage: true,
	RunE:         runTunnel,
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "livetunnel version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.Flags().BoolVar(&reconfigure, "reconfigure", false, "Re-run the setup assistant")
	rootCmd.Flags().BoolVarP(&secure, "secure", "s", false, "Require a username and password for the hosted site")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}
