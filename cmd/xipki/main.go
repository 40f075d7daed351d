// Command xipki runs the CA issuance core and the OCSP status engine.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Build-time variables.
var (
	version = "dev"
	commit  = "none"
)

// Global flags.
var (
	confPath string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "xipki",
	Short: "XiPKI - X.509 Certification Authority and OCSP responder",
	Long: `XiPKI runs a policy-driven X.509 Certification Authority and an OCSP
status responder backed by the same issuance and revocation store.

Examples:
  # Start the CA system and the API server
  xipki serve --conf ca-conf.yaml

  # Take over the cluster lock of a crashed master
  xipki unlock --conf ca-conf.yaml

  # Export the full configuration as a zip archive
  xipki export --conf ca-conf.yaml --out ca-conf.zip`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&confPath, "conf", "ca-conf.yaml", "Path to the CA manager configuration")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
