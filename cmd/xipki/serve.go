package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/frestoinc/xipki/internal/api"
	"github.com/frestoinc/xipki/internal/mgmt"
	"github.com/frestoinc/xipki/internal/ocspstore"
)

var (
	serveAddr         string
	serveOcsp         bool
	serveOcspInterval time.Duration
	serveOcspSnapshot string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the CA system and the API server",
	Long: `Start the CA manager (taking the cluster lock when configured as
master), the OCSP status engine, and the HTTP API.

Examples:
  xipki serve --conf ca-conf.yaml --addr :8443
  xipki serve --conf ca-conf.yaml --ocsp=false`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8443", "API listen address")
	serveCmd.Flags().BoolVar(&serveOcsp, "ocsp", true, "Serve the OCSP status engine")
	serveCmd.Flags().DurationVar(&serveOcspInterval, "ocsp-refresh", 5*time.Minute, "OCSP issuer refresh interval")
	serveCmd.Flags().StringVar(&serveOcspSnapshot, "ocsp-snapshot", "", "OCSP issuer warm-start snapshot file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	manager := mgmt.NewManager(confPath)
	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Shutdown()

	var ocsp *ocspstore.Store
	if serveOcsp {
		ocsp = ocspstore.NewStore(ocspstore.Config{
			Name:                 "ca-db",
			UpdateInterval:       serveOcspInterval,
			UnknownCertBehaviour: ocspstore.UnknownAsUnknown,
			SnapshotPath:         serveOcspSnapshot,
		}, manager.Store())
		if err := ocsp.Init(); err != nil {
			return err
		}
		defer ocsp.Close()
	}

	cfg := api.DefaultConfig()
	cfg.Addr = serveAddr
	server := api.New(cfg, manager, ocsp)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logrus.WithField("signal", sig.String()).Info("shutting down")
		return server.Shutdown(context.Background())
	}
}
