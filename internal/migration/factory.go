package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/config"
)

// NewMigratorFromConfig creates a migrator for the catalog database
func NewMigratorFromConfig(cfg *config.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig creates a migrator from database configuration.
// For SQLite the Name field holds the database file path.
func NewMigratorFromDatabaseConfig(dbCfg config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(dbCfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	var dbURL string
	switch dbType {
	case DatabaseTypePostgres:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, dbCfg.SSLMode)
	case DatabaseTypeMySQL:
		dbURL = BuildDatabaseURL(dbType, dbCfg.Host, dbCfg.Port, dbCfg.Name, dbCfg.User, dbCfg.Password, "")
	case DatabaseTypeSQLite:
		dbURL = BuildDatabaseURL(dbType, "", 0, dbCfg.Name, "", "", "")
	}

	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
		Logger:       logger,
	})
}

// NewMigratorFromURL creates a migrator from a database URL
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{
		DatabaseType: dt,
		DatabaseURL:  dbURL,
		TableName:    "schema_migrations",
		Logger:       logger,
	})
}
