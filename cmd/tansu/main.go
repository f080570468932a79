// Command tansu runs the multi-tenant garment tracking server and its
// administration commands.
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erazemk/tansu/internal/config"
	"github.com/erazemk/tansu/internal/db"
)

// cli carries state shared by the subcommands.
type cli struct {
	envFile  string
	dbPath   string
	logPath  string
	logLevel string

	cfg      config.Config
	closeLog func()
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "tansu",
		Short:        "Multi-tenant garment tracking server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return c.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.closeLog != nil {
				c.closeLog()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.envFile, "env-file", "e", ".env", "dotenv file with TANSU_* settings")
	root.PersistentFlags().StringVarP(&c.dbPath, "db", "d", "", "SQLite database path (overrides TANSU_DB)")
	root.PersistentFlags().StringVarP(&c.logPath, "log", "l", "", "log file path (overrides TANSU_LOG)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides TANSU_LOG_LEVEL)")

	root.AddCommand(newServeCmd(c), newTenantCmd(c), newIdentityCmd(c))
	return root
}

// load resolves the configuration: defaults, then the env file and TANSU_*
// variables, then explicit flags.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.envFile)
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}
	if c.logPath != "" {
		cfg.LogPath = c.logPath
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	c.cfg = cfg

	level, _ := cfg.Level()
	closeLog, err := setupLogger(cfg.LogPath, level, cfg.Production())
	if err != nil {
		return err
	}
	c.closeLog = closeLog
	return nil
}

// openDB opens the configured database and brings its schema up to date.
func (c *cli) openDB() (*sql.DB, error) {
	database, err := db.Open(c.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return database, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
