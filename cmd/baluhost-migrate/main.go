package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/baluhost/baluhost/pkg/store"
)

var (
	dbPath     = flag.String("db", "/srv/baluhost/baluhost.db", "Path to the BaluHost database")
	statusOnly = flag.Bool("status", false, "Show applied migrations without making changes")
	backupPath = flag.String("backup", "", "Write a backup before migrating (default: <db>.backup)")
	noBackup   = flag.Bool("no-backup", false, "Skip the pre-migration backup")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("BaluHost Database Migration Tool")
	log.Println("================================")

	if _, err := os.Stat(*dbPath); os.IsNotExist(err) && *statusOnly {
		log.Fatalf("Database not found at %s", *dbPath)
	}
	log.Printf("Database: %s", *dbPath)

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *statusOnly {
		printStatus(ctx, st)
		return
	}

	if !*noBackup {
		backupFile := *backupPath
		if backupFile == "" {
			backupFile = *dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := st.Backup(ctx, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("✓ Migrations applied successfully")
	printStatus(ctx, st)
}

func printStatus(ctx context.Context, st *store.SQLiteStore) {
	states, err := st.MigrationStatus(ctx)
	if err != nil {
		log.Fatalf("Failed to read migration status: %v", err)
	}
	if len(states) == 0 {
		log.Println("No migrations applied yet")
		return
	}
	log.Println("Applied migrations:")
	for _, s := range states {
		log.Printf("  %3d %-30s applied %s", s.Seq, s.Name, s.AppliedAt.Format(time.RFC3339))
	}
}
