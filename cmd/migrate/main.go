package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/seranking/paygate/internal/pkg/env"
)

const (
	connectAttempts = 5
	connectBackoff  = 5 * time.Second
)

func main() {
	env.SetupEnvFile()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]

	// multiStatements lets one migration file carry several DDL statements.
	// The mysql driver takes a session advisory lock, so concurrent migrator
	// instances serialize instead of racing.
	dbURL := fmt.Sprintf("mysql://%s:%s@tcp(%s:%s)/%s?multiStatements=true",
		env.GetEnv("DB_USER", "paygate"),
		env.GetEnv("DB_PASSWORD", "paygate"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "paygate_db"),
	)

	log.Printf("migrate_connect user=%s host=%s:%s db=%s",
		env.GetEnv("DB_USER", "paygate"),
		env.GetEnv("DB_HOST", "db"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "paygate_db"),
	)

	m, err := connect(dbURL)
	if err != nil {
		log.Fatalf("failed to initialize migrations: %v", err)
	}
	defer func() {
		if sourceErr, dbErr := m.Close(); sourceErr != nil || dbErr != nil {
			log.Printf("failed to close migration resources: %v, %v", sourceErr, dbErr)
		}
	}()

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("failed to apply migrations: %v", err)
		} else if err == migrate.ErrNoChange {
			log.Println("no changes: database is already up to date")
		} else {
			log.Println("migrations applied")
		}

	case "down":
		if err := m.Steps(-1); err != nil {
			log.Fatalf("failed to roll back last migration: %v", err)
		}
		log.Println("last migration rolled back")

	case "goto":
		if len(os.Args) < 3 {
			log.Fatalf("goto requires a version number")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			log.Fatalf("invalid version number: %v", err)
		}
		if err := m.Migrate(uint(version)); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("failed to migrate to version %d: %v", version, err)
		}
		log.Printf("migrated to version %d", version)

	case "status":
		version, dirty, err := m.Version()
		if err != nil && err != migrate.ErrNilVersion {
			log.Fatalf("failed to read migration version: %v", err)
		}
		if err == migrate.ErrNilVersion {
			log.Println("no migrations applied yet")
			return
		}
		log.Printf("version=%d dirty=%t", version, dirty)

	default:
		printUsage()
		os.Exit(1)
	}
}

// connect retries with fixed backoff so the migrator survives a database that
// is still starting, then fails hard.
func connect(dbURL string) (*migrate.Migrate, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		m, err := migrate.New("file://migrations", dbURL)
		if err == nil {
			return m, nil
		}
		lastErr = err
		log.Printf("migrate_connect_retry attempt=%d error=%v", attempt, err)
		time.Sleep(connectBackoff)
	}
	return nil, lastErr
}

func printUsage() {
	fmt.Println("usage: migrate <command>")
	fmt.Println()
	fmt.Println("commands:")
	fmt.Println("  up       apply all pending migrations")
	fmt.Println("  down     roll back the last migration")
	fmt.Println("  goto N   migrate to version N")
	fmt.Println("  status   print current version")
}
