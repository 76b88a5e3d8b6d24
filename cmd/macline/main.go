package main

import (
	"fmt"
	"os"

	"macline/cmd/macline/ledgercmd"
	"macline/cmd/macline/ui"
	"macline/internal/logging"
	"macline/internal/support/buildinfo"

	"github.com/spf13/cobra"
)

func main() {
	var (
		debug   bool
		cfgPath string
	)
	if err := logging.Configure("warn"); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "macline",
		Short:         "Provision hardware addresses into target boards",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureColor()
			level := "warn"
			if debug {
				level = "debug"
			}
			return logging.Configure(level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file path (default: XDG config dir)")

	root.AddCommand(provisionCmd(&cfgPath))
	root.AddCommand(ledgercmd.Cmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
