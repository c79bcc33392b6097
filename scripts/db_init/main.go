package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	dbfs "github.com/garnizeh/cftrack/db"
	"github.com/garnizeh/cftrack/internal/config"
	"github.com/garnizeh/cftrack/internal/db"
	"github.com/garnizeh/cftrack/internal/repository/sqlite"
	"github.com/garnizeh/cftrack/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	rosterPath := flag.String("roster", "", "Optional YAML list of students to upsert")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	database, err := db.New(ctx, cfg.DatabasePath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DB init error: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.Migrate(ctx, database, dbfs.Migrations); err != nil {
		fmt.Fprintf(os.Stderr, "Migration runner error: %v\n", err)
		os.Exit(1)
	}

	if *rosterPath != "" {
		n, err := loadRoster(ctx, sqlite.New(database, nil), *rosterPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Roster error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Upserted %d students.\n", n)
	}

	fmt.Println("Database initialized successfully.")
}

// loadRoster reads entries like:
//
//	- handle: tourist
//	  name: Gennady
//	  email: g@example.com
//	  auto_reminder: true
func loadRoster(ctx context.Context, repo *sqlite.SQLiteRepo, path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var students []models.Student
	if err := yaml.Unmarshal(b, &students); err != nil {
		return 0, fmt.Errorf("decode roster: %w", err)
	}
	for i := range students {
		if _, err := repo.UpsertStudent(ctx, &students[i]); err != nil {
			return i, err
		}
	}
	return len(students), nil
}
