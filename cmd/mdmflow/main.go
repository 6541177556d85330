// Command mdmflow is the composition root: it wires the lock manager,
// row store, config cache, allocator, orchestrator, scheduler, and HTTP
// API together from environment configuration and serves the public
// surface described in spec.md §6. Grounded on control_plane/main.go's
// env-driven wiring and its leader-election-gated scheduler startup,
// generalized to mdmflow's single-process-per-shard model (spec.md
// §4.8's ShardIndex/ShardCount replace FluxForge's leader election,
// since every shard here is expected to run concurrently rather than
// stand by idle).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/itskum47/mdmflow/internal/allocator"
	"github.com/itskum47/mdmflow/internal/api"
	"github.com/itskum47/mdmflow/internal/attachmentstore"
	"github.com/itskum47/mdmflow/internal/authn"
	"github.com/itskum47/mdmflow/internal/configcache"
	"github.com/itskum47/mdmflow/internal/holiday"
	"github.com/itskum47/mdmflow/internal/lockmanager"
	"github.com/itskum47/mdmflow/internal/notify"
	"github.com/itskum47/mdmflow/internal/requestfsm"
	"github.com/itskum47/mdmflow/internal/rowstore"
	"github.com/itskum47/mdmflow/internal/scheduler"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", redisAddr).Msg("failed to connect to Redis")
	}
	log.Info().Str("addr", redisAddr).Msg("connected to Redis")

	var durable rowstore.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := rowstore.NewPostgresStore(ctx, dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Postgres")
		}
		durable = pg
		log.Info().Msg("using Postgres as the durable row store")
	} else {
		durable = rowstore.NewMemoryStore()
		log.Warn().Msg("DATABASE_URL unset; using in-memory row store (not durable across restarts)")
	}

	rowCache := rowstore.NewRedisStore(redisClient, "mdmflow:rows")
	rowTTL := envDuration("ROW_CACHE_TTL", 60*time.Second)
	store := rowstore.NewCachedStore(durable, rowCache, rowTTL)

	locks := lockmanager.New(lockmanager.NewRedisBackend(redisClient))
	janitor := lockmanager.NewJanitor(lockmanager.NewRedisBackend(redisClient), "row:*", 60*time.Second)
	janitor.Start(ctx)

	cc := configcache.New(configcache.NewRowStoreSource(store))

	rr := allocator.NewRoundRobinCursor(redisClient, envDuration("ALLOCATION_CURSOR_TTL", time.Minute))
	alloc := allocator.New(cc, store, rr, envOr("DEFAULT_AGENT", ""))
	workload := allocator.NewWorkloadCounter(locks, store)
	reqnum := allocator.NewRequestNumberCounter(locks, store)

	calendar := holiday.NewStaticCalendar(nil)
	attachments := attachmentstore.NewLogStore()

	fsmCfg := requestfsm.DefaultConfig()
	fsm := requestfsm.New(store, locks, cc, alloc, workload, reqnum, notify.NewLogNotifier(), calendar, attachments, fsmCfg)

	masters := masterTables(envOr("MASTER_TABLES", "BOM"))
	assignees := assigneeTables(envOr("ASSIGNEE_TABLES", ""))

	schedCfg := scheduler.DefaultConfig()
	schedCfg.ShardIndex = envInt("POD_INDEX", 0)
	schedCfg.ShardCount = envInt("POD_COUNT", 1)
	if v := envInt("SCHEDULER_MAX_CONCURRENCY", 0); v > 0 {
		schedCfg.MaxConcurrency = v
	}
	if v := envInt("CIRCUIT_BREAKER_QUEUE_THRESHOLD", 0); v > 0 {
		schedCfg.CircuitBreakerQueueThreshold = v
	}

	sched := scheduler.New(store, fsm, masters, assignees, schedCfg)
	sched.Start(ctx)
	defer sched.Stop()

	var issuer *authn.Issuer
	if secret := os.Getenv("AUTH_SECRET"); secret != "" {
		var err error
		issuer, err = authn.New(secret)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid AUTH_SECRET")
		}
	} else {
		log.Warn().Msg("AUTH_SECRET unset; /admin/mode is disabled")
	}

	idem := api.NewIdempotencyStore(rowCache)
	a := api.New(store, fsm, reqnum, workload, idem)
	router := api.NewRouter(a, sched, issuer)

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	addr := envOr("LISTEN_ADDR", ":8080")
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("error during HTTP server shutdown")
		}
	}()

	log.Info().Str("addr", addr).Int("shard", schedCfg.ShardIndex).Int("shard_count", schedCfg.ShardCount).
		Strs("master_tables", tableNames(masters)).Msg("mdmflow listening")

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server failed")
	}
}

func masterTables(csv string) []scheduler.MasterTable {
	var out []scheduler.MasterTable
	for _, name := range splitCSV(csv) {
		out = append(out, scheduler.MasterTable{Table: name, TableAbbreviation: name})
	}
	return out
}

func assigneeTables(csv string) []scheduler.AssigneeTable {
	var out []scheduler.AssigneeTable
	for _, name := range splitCSV(csv) {
		out = append(out, scheduler.AssigneeTable{Table: name})
	}
	return out
}

func tableNames(masters []scheduler.MasterTable) []string {
	names := make([]string, len(masters))
	for i, m := range masters {
		names[i] = m.Table
	}
	return names
}

func splitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer env var, using fallback")
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration env var, using fallback")
		return fallback
	}
	return d
}
