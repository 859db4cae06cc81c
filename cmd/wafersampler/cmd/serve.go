package cmd

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fabworks/wafersampler/internal/config"
	"github.com/fabworks/wafersampler/internal/server"
	"github.com/fabworks/wafersampler/pkg/repo"
)

var serveDBPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the sampling engine's HTTP server. Storage is in-memory by
default; pass --db (or set DB_PATH) for a crash-consistent SQLite store.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveDBPath, "db", "", "SQLite database path (default: in-memory)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if serveDBPath != "" {
		cfg.DBPath = serveDBPath
	}

	var store *repo.Store
	if cfg.DBPath != "" {
		db, err := repo.OpenSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		store = repo.NewSQLiteStore(db)
		log.Printf("storage: sqlite at %s", cfg.DBPath)
	} else {
		store = repo.NewMemoryStore()
		log.Printf("storage: in-memory")
	}

	app := server.New(cfg, store).App()
	log.Printf("listening on :%s", cfg.Port)
	return app.Listen(":" + cfg.Port)
}
