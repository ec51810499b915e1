package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/redeliver/internal/infra/redis"
	"github.com/vietddude/redeliver/internal/infra/storage"
	"github.com/vietddude/redeliver/internal/infra/storage/postgres"
	"github.com/vietddude/redeliver/internal/infra/storage/sqlstore"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the timeouts waiting in the relay store",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of due timeouts to list")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	var store storage.TimeoutStore
	switch cfg.Timeouts.Store {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()
		store = postgres.NewTimeoutRepo(db)
	case "redis":
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()
		store = redisclient.NewTimeoutStore(client)
	case "sqlite":
		s, err := sqlstore.OpenSQLite(ctx, sqlstore.SQLiteConfig{Path: cfg.Timeouts.SQLitePath})
		if err != nil {
			slog.Error("Failed to open SQLite database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = s.Close()
		}()
		store = s
	case "mysql":
		s, err := sqlstore.OpenMySQL(ctx, cfg.MySQL)
		if err != nil {
			slog.Error("Failed to connect to MySQL", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = s.Close()
		}()
		store = s
	default:
		slog.Error("Timeout store keeps no state outside the endpoint process", "store", cfg.Timeouts.Store)
		os.Exit(1)
	}

	pending, err := store.Count(ctx)
	if err != nil {
		slog.Error("Failed to count timeouts", "error", err)
		os.Exit(1)
	}
	now := time.Now()
	due, err := store.GetDue(ctx, now, statusLimit)
	if err != nil {
		slog.Error("Failed to query due timeouts", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Store: %s  Pending: %d  Due: %d\n\n", cfg.Timeouts.Store, pending, len(due))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tDESTINATION\tDUE\tOVERDUE")
	for _, e := range due {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.ID, e.Destination, e.Time.Format(time.RFC3339), now.Sub(e.Time).Truncate(time.Millisecond))
	}
	_ = w.Flush()
}
