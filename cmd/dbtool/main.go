package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"fleet-route-service/internal/adapters/cache"
	"fleet-route-service/internal/platform/db"
)

// dbtool maintains the Postgres distance cache: schema creation and a
// quick look at how full and how stale it is.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	initSchema := flag.Bool("init", false, "create the distance_cache table when missing")
	stats := flag.Bool("stats", false, "print row counts")
	flag.Parse()
	if !*initSchema && !*stats {
		flag.Usage()
		os.Exit(2)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if strings.TrimSpace(databaseURL) == "" {
		log.Fatal("DATABASE_URL is required")
	}

	conn, err := db.Open(databaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	distanceCache := cache.NewSQLDistanceCache(conn)
	ctx := context.Background()

	if *initSchema {
		log.Println("Initializing distance cache schema...")
		if err := distanceCache.InitSchema(ctx); err != nil {
			log.Fatalf("schema initialization failed: %v", err)
		}
		log.Println("Schema ready.")
	}

	if *stats {
		total, expired, err := distanceCache.Stats(ctx)
		if err != nil {
			log.Fatalf("stats failed: %v", err)
		}
		log.Printf("distance_cache: %d rows (%d expired)", total, expired)
	}
}
