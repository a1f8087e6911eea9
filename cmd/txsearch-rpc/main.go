package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	supportlog "github.com/stellar/go/support/log"

	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/config"
	"github.com/stellar/txsearch-rpc/cmd/txsearch-rpc/internal/daemon"
)

func main() {
	var flags config.Flags

	rootCmd := &cobra.Command{
		Use:   "txsearch-rpc",
		Short: "Start the transaction search RPC server",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.Read(flags.ConfigPath)
			if err == nil {
				err = flags.Apply(cfg)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				os.Exit(1)
			}
			logger := supportlog.New()
			daemon.MustNew(cfg, logger).Run()
		},
	}
	flags.Register(rootCmd.PersistentFlags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		Run: func(_ *cobra.Command, _ []string) {
			if config.CommitHash == "" {
				fmt.Printf("txsearch-rpc dev\n")
			} else {
				fmt.Printf("txsearch-rpc %s (%s)\n", config.Version, config.CommitHash)
			}
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
