package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/photo-grouper/internal/config"
	"github.com/kozaktomas/photo-grouper/internal/database"
	"github.com/kozaktomas/photo-grouper/internal/database/postgres"
	"github.com/kozaktomas/photo-grouper/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Photo Grouper HTTP API.
Clients post batches of records with precomputed feature vectors to
/api/v1/groups and get the group assignments back. Saved runs are kept in
PostgreSQL when DATABASE_URL is set, in memory otherwise.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on (default WEB_PORT)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to (default WEB_HOST)")
}

// openRunStore returns the PostgreSQL run repository when configured, an
// in-memory store otherwise. The returned close func is never nil.
func openRunStore(ctx context.Context, cfg *config.Config) (database.RunStore, bool, func(), error) {
	if cfg.Database.URL == "" {
		fmt.Printf("DATABASE_URL not set, runs are kept in memory\n")
		return database.NewMemoryRunStore(), false, func() {}, nil
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := postgres.Open(ctx, &cfg.Database)
	if err != nil {
		return nil, false, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	fmt.Printf("Using PostgreSQL run storage\n")
	return postgres.NewRunRepository(pool), true, func() { pool.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cmd.Flags().Changed("port") {
		cfg.Web.Port = mustGetInt(cmd, "port")
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = mustGetString(cmd, "host")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runs, persistent, closeStore, err := openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	server := web.NewServer(cfg, runs, persistent)

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Photo Grouper API on http://%s\n", server.Addr())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
