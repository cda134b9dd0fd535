package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fleet-route-service/internal/adapters/cache"
	"fleet-route-service/internal/adapters/distance"
	"fleet-route-service/internal/config"
	"fleet-route-service/internal/domain"
	"fleet-route-service/internal/optimizer"
	"fleet-route-service/internal/platform/db"
	"fleet-route-service/internal/platform/obs"
	"fleet-route-service/internal/ports"
	"fleet-route-service/internal/runctx"
)

// main is the application composition root.
// It wires concrete adapters (Postgres or Redis cache, Maps provider)
// behind ports and runs one optimisation: EngineParameters JSON in,
// AssignmentResult JSON out.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	var (
		configDir = flag.String("config", ".", "directory holding optimizer.yaml")
		inPath    = flag.String("in", "-", "EngineParameters JSON file, - for stdin")
		outPath   = flag.String("out", "-", "AssignmentResult JSON file, - for stdout")
	)
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := obs.NewLogger(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	distanceCache, closeCache, err := openDistanceCache(logger)
	if err != nil {
		log.Fatal(err)
	}
	defer closeCache()

	provider, err := openProvider(logger)
	if err != nil {
		log.Fatal(err)
	}

	sctx, err := runctx.New(cfg, logger, distanceCache, runctx.NewZapEventHandler(logger))
	if err != nil {
		log.Fatal(err)
	}

	params, err := readParams(*inPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		2*time.Duration(cfg.Improvement.RunTimeLimitSeconds)*time.Second)
	defer cancel()

	started := time.Now()
	result, err := optimizer.New(provider, sctx).Solve(ctx, params)
	if err != nil {
		log.Fatal(err)
	}
	logger.Info("optimisation finished",
		zap.Bool("good", result.Good),
		zap.Int("tours", len(result.DriverTours)),
		zap.Int("skipped_orders", len(result.SkippedOrders)),
		zap.Duration("took", time.Since(started)))

	if err := writeResult(*outPath, result); err != nil {
		log.Fatal(err)
	}
}

// openDistanceCache prefers Redis, then Postgres, then process memory.
func openDistanceCache(logger *zap.Logger) (ports.DistanceCache, func(), error) {
	if addr := os.Getenv("REDIS_ADDR"); strings.TrimSpace(addr) != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("verify redis connection to %q: %w", addr, err)
		}
		logger.Info("distance cache: redis", zap.String("addr", addr))
		return cache.NewRedisDistanceCache(client), func() { client.Close() }, nil
	}

	if databaseURL := os.Getenv("DATABASE_URL"); strings.TrimSpace(databaseURL) != "" {
		conn, err := db.Open(databaseURL)
		if err != nil {
			return nil, nil, err
		}
		sqlCache := cache.NewSQLDistanceCache(conn)
		if err := sqlCache.InitSchema(context.Background()); err != nil {
			conn.Close()
			return nil, nil, err
		}
		logger.Info("distance cache: postgres")
		return sqlCache, func() { conn.Close() }, nil
	}

	logger.Warn("distance cache: in-memory only, results are not persisted")
	return cache.NewMemoryDistanceCache(), func() {}, nil
}

func openProvider(logger *zap.Logger) (ports.DistanceProvider, error) {
	apiKey := os.Getenv("MAPS_API_KEY")
	if strings.TrimSpace(apiKey) != "" {
		return distance.NewMapsDistanceProvider(apiKey)
	}
	if os.Getenv("USE_MOCK_PROVIDER") == "1" {
		logger.Warn("distance provider: mock (straight-line estimates)")
		return distance.NewMockDistanceProvider(), nil
	}
	return nil, fmt.Errorf("MAPS_API_KEY is required (or set USE_MOCK_PROVIDER=1)")
}

func readParams(path string) (*domain.EngineParameters, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read engine parameters: %w", err)
	}
	return domain.FromEngineParametersJSON(data)
}

func writeResult(path string, result *domain.AssignmentResult) error {
	data, err := result.ToJSON()
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = os.Stdout.Write(data)
	} else {
		err = os.WriteFile(path, data, 0o644)
	}
	if err != nil {
		return fmt.Errorf("write assignment result: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
