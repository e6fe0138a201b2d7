package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/catalogflow/config"
	"github.com/BaSui01/catalogflow/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// migrateFlags migrate 命令的连接参数
type migrateFlags struct {
	configPath string
	dbType     string
	dbURL      string
}

// runMigrate 解析连接参数并把子命令交给 migration.CLI
func runMigrate(args []string) {
	cmdArgs, flagArgs := splitMigrateArgs(args)
	if len(cmdArgs) == 0 || cmdArgs[0] == "help" {
		fmt.Print(migration.Usage)
		if len(cmdArgs) == 0 {
			os.Exit(1)
		}
		return
	}

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	var mf migrateFlags
	fs.StringVar(&mf.configPath, "config", "", "Path to config file")
	fs.StringVar(&mf.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.StringVar(&mf.dbURL, "db-url", "", "Database connection URL")
	fs.Parse(flagArgs)

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	migrator, err := createMigrator(mf, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create migrator: %v\n", err)
		os.Exit(1)
	}
	defer migrator.Close()

	cli := migration.NewCLI(migrator)
	if err := cli.Run(context.Background(), cmdArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
}

// createMigrator 优先使用 --db-type/--db-url，否则从配置文件读取数据库配置
func createMigrator(mf migrateFlags, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if mf.dbType != "" && mf.dbURL != "" {
		return migration.NewMigratorFromURL(mf.dbType, mf.dbURL, logger)
	}

	loader := config.NewLoader()
	if mf.configPath != "" {
		loader = loader.WithConfigPath(mf.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if mf.dbType != "" {
		cfg.Database.Driver = mf.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// splitMigrateArgs 将参数拆分为子命令参数和 flag 参数，
// 使 "migrate steps -1 --config x" 与 "migrate --config x steps -1" 等价
func splitMigrateArgs(args []string) (cmdArgs, flagArgs []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !isFlag(arg) {
			cmdArgs = append(cmdArgs, arg)
			continue
		}
		flagArgs = append(flagArgs, arg)
		if !strings.Contains(arg, "=") && i+1 < len(args) {
			i++
			flagArgs = append(flagArgs, args[i])
		}
	}
	return cmdArgs, flagArgs
}

// isFlag 判断参数是否为 flag，负数视为位置参数
func isFlag(arg string) bool {
	if !strings.HasPrefix(arg, "-") || arg == "-" {
		return false
	}
	_, err := strconv.Atoi(arg)
	return err != nil
}
