package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
                 _       _
   ___  ___   ___| | ____| |
  / __|/ _ \ / __| |/ / _' |
  \__ \ (_) | (__|   < (_| |
  |___/\___/ \___|_|\_\__,_|
`

func main() {
	rootCmd := &cobra.Command{
		Use:   "sockd",
		Short: "Concurrent TCP server scaffold",
		Long: `sockd serves TCP clients over IPv4 or IPv6, one goroutine per
connection, and shuts down gracefully: on SIGINT or SIGTERM it stops
admitting clients, waits for the connected ones to disconnect and only
then releases the listening socket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		startCmd(),
		initCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Print(banner)
}
