package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mahirjain10/brainscan-workers/internal/dispatch"
	"github.com/mahirjain10/brainscan-workers/internal/queue"
	"github.com/mahirjain10/brainscan-workers/internal/utils"
)

// CLI flags
var (
	userFlag       string
	customNameFlag string
)

var rootCmd = &cobra.Command{
	Use:   "brainscan",
	Short: "Brain CT/MRI validation and tumor classification workers",
	Long: `brainscan runs the queue workers that validate uploaded scans with a vision
model and classify accepted scans with an ensemble of tumor models.

Configuration is read from the environment. APP_ENV selects the .env file.

Examples:
  brainscan worker
  brainscan dispatch --user u1 ./scan.png
  brainscan status 3f0c5a9e-...`,
	SilenceUsage: true,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume dispatch messages until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <file>",
	Short: "Stage a scan and queue it for processing",
	Args:  cobra.ExactArgs(1),
	RunE:  runDispatch,
}

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print the status record of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	dispatchCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User id that owns the upload")
	dispatchCmd.Flags().StringVar(&customNameFlag, "name", "", "Display filename stored on the image")
	_ = dispatchCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(workerCmd, dispatchCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize application")
		return err
	}
	defer app.Close()

	consumer, server, err := app.NewWorker(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize worker")
		return err
	}
	defer consumer.Close()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Status API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Status API stopped")
		}
	}()

	log.Info().Msg("Application initialized successfully")
	err = consumer.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("Status API shutdown")
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to start application")
		return err
	}
	log.Info().Msg("Worker stopped")
	return nil
}

func runDispatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	ch, err := app.connectRabbitMQ()
	if err != nil {
		return err
	}
	defer ch.Close()
	if _, err := queue.NewQueue(ch, app.config.DispatchQueue); err != nil {
		return err
	}

	dispatcher := dispatch.NewDispatcher(app.area, app.store, queue.NewPublisher(ch), app.config.DispatchQueue)
	jobID, err := dispatcher.Submit(ctx, dispatch.Upload{
		Filename:       filepath.Base(path),
		CustomFilename: customNameFlag,
		UserID:         userFlag,
		Data:           data,
	})
	if err != nil {
		return err
	}
	fmt.Println(jobID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := NewApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	job, err := app.store.GetJob(ctx, args[0])
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", args[0])
	}
	out, err := utils.SerializeJSON(job.StatusRecord())
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
