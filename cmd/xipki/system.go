package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frestoinc/xipki/internal/certstore"
	"github.com/frestoinc/xipki/internal/mgmt"
)

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Forcibly clear the cluster master lock",
	Long: `Wipe the LOCK system event so a new master can start.

This is destructive: run it only when the previous master is known to be
down. A running master will not notice until its next restart.`,
	RunE: runUnlock,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("xipki %s (%s)\n", version, commit)
	},
}

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full configuration as a zip archive",
	RunE:  runExport,
}

var importIn string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a configuration archive and restart the CA system",
	RunE:  runImport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "ca-conf.zip", "Output archive path")
	importCmd.Flags().StringVar(&importIn, "in", "", "Input archive path (required)")
	_ = importCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(unlockCmd, versionCmd, exportCmd, importCmd)
}

func runUnlock(_ *cobra.Command, _ []string) error {
	conf, err := mgmt.LoadConf(confPath)
	if err != nil {
		return err
	}

	store, err := certstore.Open(conf.Resolve(conf.StorePath))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.DeleteSystemEvent(certstore.EventLock); err != nil {
		return err
	}
	fmt.Println("cluster lock cleared")
	return nil
}

func runExport(_ *cobra.Command, _ []string) error {
	manager := mgmt.NewManager(confPath)
	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Shutdown()

	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if err := manager.ExportConf(f); err != nil {
		return err
	}
	fmt.Printf("configuration exported to %s\n", exportOut)
	return nil
}

func runImport(_ *cobra.Command, _ []string) error {
	data, err := os.ReadFile(importIn)
	if err != nil {
		return err
	}

	manager := mgmt.NewManager(confPath)
	if err := manager.Start(); err != nil {
		return err
	}
	defer manager.Shutdown()

	summary, err := manager.ImportConf(data)
	if err != nil {
		return err
	}
	fmt.Printf("imported; started: %v, failed: %v\n", summary.Started, summary.Failed)
	return nil
}
