package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/hashit-app/hashit/internal/config"
)

func main() {
	var configPath string
	var migrationsPath string
	var down bool
	flag.StringVar(&configPath, "config", "", "path to config file (or use CONFIG_PATH env)")
	flag.StringVar(&migrationsPath, "migrations", "migrations", "path to migrations directory")
	flag.BoolVar(&down, "down", false, "roll the schema back instead of forward")
	flag.Parse()

	if configPath == "" {
		configPath = os.Getenv("CONFIG_PATH")
	}
	if configPath == "" {
		configPath = "config/local.yaml"
	}

	cfg := config.LoadConfig(configPath)
	if cfg.Storage.Kind != "sqlite" {
		log.Fatalf("migrations only apply to the sqlite store, configured kind is %q", cfg.Storage.Kind)
	}

	m, err := migrate.New(
		"file://"+migrationsPath,
		fmt.Sprintf("sqlite3://%s", cfg.Storage.Path),
	)
	if err != nil {
		log.Fatalf("failed to init migrator: %v", err)
	}

	if down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("schema already up to date")
			return
		}
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("schema migrated successfully")
}
