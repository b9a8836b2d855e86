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

	"github.com/google/uuid"
	"github.com/otcheredev/ris-study-ingest/internal/config"
	"github.com/otcheredev/ris-study-ingest/internal/database"
	"github.com/otcheredev/ris-study-ingest/pkg/logger"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:           "ris-study-ingest",
		Short:         "DICOM study ingestion and viewer configuration service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if err := loaded.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			logger.Init(loaded.Log.Level, loaded.Log.Format)
			cfg = loaded
			return nil
		},
	}

	current := func() *config.Config { return cfg }
	rootCmd.AddCommand(
		serveCmd(current),
		migrateCmd(current),
		ingestCmd(current),
		viewerConfigCmd(current),
		deleteCmd(current),
		pingCmd(current),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func serveCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cfg())
		},
	}
}

func runServer(cfg *config.Config) error {
	log.Info().Msg("Starting study ingestion service")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if a.db != nil {
		if err := database.Migrate(a.db); err != nil {
			return err
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}

func migrateCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the study tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			if c.Store.Driver != "postgres" {
				return fmt.Errorf("migrate needs STORE_DRIVER=postgres, got %q", c.Store.Driver)
			}
			db, err := database.Connect(database.Config{
				Host:     c.Database.Host,
				Port:     c.Database.Port,
				User:     c.Database.User,
				Password: c.Database.Password,
				DBName:   c.Database.DBName,
				SSLMode:  c.Database.SSLMode,
				LogLevel: c.Database.LogLevel,
			})
			if err != nil {
				return err
			}
			defer database.Close(db)
			return database.Migrate(db)
		},
	}
}

func ingestCmd(cfg func() *config.Config) *cobra.Command {
	var patient string

	cmd := &cobra.Command{
		Use:   "ingest --patient <uuid> <file>...",
		Short: "Ingest Part 10 files of one study for a patient",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, err := uuid.Parse(patient)
			if err != nil {
				return fmt.Errorf("invalid --patient %q: %w", patient, err)
			}

			files := make([]io.ReadSeeker, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				files = append(files, f)
			}

			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.service.IngestBatch(cmd.Context(), patientID, files)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&patient, "patient", "", "patient id (uuid)")
	cmd.MarkFlagRequired("patient")
	return cmd
}

func viewerConfigCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "viewer-config <studyUID>",
		Short: "Print the viewer configuration of a study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			vc, err := a.service.ViewerConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), vc)
		},
	}
}

func deleteCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <studyUID>",
		Short: "Delete a study locally and from the PACS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.service.DeleteStudy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if result.Warning != "" {
				log.Warn().Str("study_uid", result.StudyInstanceUID).Msg(result.Warning)
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func pingCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check the PACS connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.service.TestConnection(cmd.Context())
			if status != nil {
				printJSON(cmd.OutOrStdout(), status)
			}
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
