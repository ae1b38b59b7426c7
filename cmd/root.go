// Package cmd implements the fetchd CLI: a `run` subcommand that hosts
// the Manager Facade plus its HTTP control surface as a headless
// daemon, and a set of client subcommands (ls, pause, resume, retry,
// rm, status) that drive a running instance over that control API.
package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ingestlab/fetchd/internal/config"
	"github.com/ingestlab/fetchd/internal/control"
	"github.com/ingestlab/fetchd/internal/logging"
	"github.com/ingestlab/fetchd/internal/manifest"
	"github.com/ingestlab/fetchd/internal/manager"
	"github.com/ingestlab/fetchd/internal/metrics"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "fetchd",
	Short:   "A resumable, concurrent download engine for multi-part dataset archives",
	Long:    `fetchd downloads the parts of a dataset manifest concurrently, resuming interrupted transfers and persisting progress across restarts.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the fetchd daemon",
	Long:  `Load a manifest (if given), start the admission loop, and serve the control API until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		isMaster, err := AcquireLock()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error acquiring lock: %v\n", err)
			os.Exit(1)
		}
		if !isMaster {
			fmt.Fprintln(os.Stderr, "Error: fetchd is already running. Use 'fetchd ls' to inspect it.")
			os.Exit(1)
		}
		defer ReleaseLock()

		cleanup, err := logging.Configure(config.LogsDir(), true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		settings, err := config.LoadSettings()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
			os.Exit(1)
		}

		downloadsDir, _ := cmd.Flags().GetString("downloads-dir")
		if downloadsDir == "" {
			downloadsDir = settings.General.DownloadsDir
		}
		portFlag, _ := cmd.Flags().GetInt("port")

		mtr := metrics.New()
		m, err := manager.New(manager.Config{
			DownloadsDir:  downloadsDir,
			StateDir:      config.StateDir(),
			MaxConcurrent: settings.Connections.MaxConcurrentDownloads,
			Runtime:       settings.ToRuntimeConfig(),
			Metrics:       mtr,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error constructing manager: %v\n", err)
			os.Exit(1)
		}

		manifestPath, _ := cmd.Flags().GetString("manifest")
		if manifestPath != "" {
			mf, err := manifest.Load(manifestPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
				os.Exit(1)
			}
			if err := m.LoadManifest(mf.Entries, mf.DatasetName); err != nil {
				fmt.Fprintf(os.Stderr, "Error applying manifest: %v\n", err)
				os.Exit(1)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go m.Run(ctx)
		m.Start()

		port, listener := bindPort(portFlag)
		if listener == nil {
			fmt.Fprintln(os.Stderr, "Error: could not bind control server port")
			os.Exit(1)
		}
		writeActivePort(port)
		defer removeActivePort()

		srv := &http.Server{Handler: control.New(m, mtr)}
		go func() {
			if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "control server error: %v\n", err)
			}
		}()

		fmt.Printf("fetchd %s running, control API on port %d. Press Ctrl+C to exit.\n", Version, port)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		srv.Close()
		m.Stop()
	},
}

func bindPort(requested int) (int, net.Listener) {
	if requested > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", requested))
		if err != nil {
			return 0, nil
		}
		return requested, ln
	}
	for port := 8733; port < 8733+100; port++ {
		if ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port)); err == nil {
			return port, ln
		}
	}
	return 0, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("manifest", "", "Path to a JSON or YAML manifest to load at startup")
	runCmd.Flags().String("downloads-dir", "", "Override the configured downloads directory")
	runCmd.Flags().Int("port", 0, "Control API port (0 auto-discovers)")
}

// Execute runs the root command; main() calls this.
func Execute() error {
	return rootCmd.Execute()
}
