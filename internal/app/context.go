package app

import (
	"database/sql"
	"fmt"

	"orgdesk/internal/config"
	"orgdesk/internal/db"
	"orgdesk/internal/engine"
	"orgdesk/internal/migrate"
)

// Open prepares the workspace: ensures the data directory, opens the
// database, applies pending migrations, loads the optional YAML config, and
// returns a ready engine. The caller owns the returned *sql.DB.
func Open(workspace, orgName string) (*sql.DB, engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace, orgName)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("load config: %w", err)
	}
	return conn, engine.New(conn, cfg), nil
}
