package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"fulfillment-engine/internal/db"

	"github.com/joho/godotenv"
)

// Applies every .sql file in migrations/ in lexical order. Files are plain
// DDL with IF NOT EXISTS guards, so re-running is safe.
func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	pool, err := db.NewPool(ctx)
	if err != nil {
		fmt.Printf("Failed to connect to DB: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil || len(files) == 0 {
		fmt.Printf("No migration files found in %s\n", dir)
		os.Exit(1)
	}
	sort.Strings(files)

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			fmt.Printf("Failed to read %s: %v\n", file, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(sqlBytes)); err != nil {
			fmt.Printf("Migration %s failed: %v\n", file, err)
			os.Exit(1)
		}
		fmt.Printf("Applied %s\n", file)
	}
	fmt.Println("Migrations successful.")
}
