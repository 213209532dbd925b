package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errRunHalted marks a run stopped by a failing item; the cause is already logged.
var errRunHalted = errors.New("run halted")

type cliState struct {
	settings *Settings
	log      *zap.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		if !errors.Is(err, errRunHalted) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	state := &cliState{}

	root := &cobra.Command{
		Use:           "viggle",
		Short:         "Run Viggle operations with a logged-in browser session",
		Version:       buildVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			settings, err := LoadSettings()
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			log, err := setupLogging(settings)
			if err != nil {
				return err
			}
			state.settings = settings
			state.log = log
			log.Debug("starting", zap.String("version", buildVersion), zap.String("command", cmd.Name()))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.log != nil {
				_ = state.log.Sync()
			}
		},
	}

	root.AddCommand(newRunCommand(state), newServeCommand(state), newOperationsCommand())
	return root
}

func newRunCommand(state *cliState) *cobra.Command {
	var (
		workflowPath   string
		outputPath     string
		transport      string
		continueOnFail bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process a workflow document and write one record per item",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := LoadWorkflow(workflowPath)
			if err != nil {
				return err
			}
			if transport != "" {
				doc.Transport = transport
			}
			if cmd.Flags().Changed("continue-on-fail") {
				doc.ContinueOnFail = continueOnFail
			}

			runner, err := NewRunner(state.settings, state.log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			records, runErr := runner.Run(ctx, doc)
			if err := writeRecords(cmd.OutOrStdout(), outputPath, records); err != nil {
				return err
			}
			if runErr != nil {
				state.log.Error("run halted", zap.Error(runErr))
				return errRunHalted
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&workflowPath, "workflow", "w", "", "workflow document (JSON)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write records here instead of stdout")
	cmd.Flags().StringVarP(&transport, "transport", "t", "", "override transport: direct, browser or auto")
	cmd.Flags().BoolVar(&continueOnFail, "continue-on-fail", false, "record failing items and keep going")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

func writeRecords(stdout io.Writer, path string, records []OutputRecord) error {
	if records == nil {
		records = []OutputRecord{}
	}
	out := stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

func newServeCommand(state *cliState) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the node over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = state.settings.ServeAddr
			}
			runner, err := NewRunner(state.settings, state.log)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           NewServer(runner, state.log),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				state.log.Info("listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default VIGGLE_SERVE_ADDR)")
	return cmd
}

func newOperationsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "Print the node schema",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(NodeSchema)
		},
	}
}
