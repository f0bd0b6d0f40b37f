/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the HR leave and balance server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Open the SQLite store
  3. Replay persisted workflow policies into the registry
  4. Wire the ledger, state machine and HTTP handler
  5. Start the rollover scheduler and the HTTP server

CONFIGURATION:
  Flags win over environment variables:
    -port / PORT            HTTP server port (default: 8080)
    -db   / DATABASE_PATH   SQLite database path (default: hrms.db,
                            ":memory:" for in-memory)
    -log-level / LOG_LEVEL  debug, info, warn, error (default: info)
    -rollover-interval      Scheduler check interval (default: 1h)
    -directory / DIRECTORY_PATH
                            JSON file seeding the identity directory

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM: stop the scheduler, stop accepting connections, wait
  for active requests (30s timeout), close the database, exit.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cristian75IT/kronos-hrms-sub005/api"
	"github.com/cristian75IT/kronos-hrms-sub005/leave"
	"github.com/cristian75IT/kronos-hrms-sub005/ledger"
	"github.com/cristian75IT/kronos-hrms-sub005/store/sqlite"
	"github.com/cristian75IT/kronos-hrms-sub005/workflow"
)

func main() {
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "hrms.db"), "SQLite database path")
	logLevel := flag.String("log-level", envStr("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	rolloverInterval := flag.Duration("rollover-interval", time.Hour, "rollover scheduler check interval")
	directoryPath := flag.String("directory", envStr("DIRECTORY_PATH", ""), "JSON file with employees and role grants")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(*logLevel),
	}))
	slog.SetDefault(logger)

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Error("failed to open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	directory := api.NewStaticDirectory()
	if *directoryPath != "" {
		if err := loadDirectory(directory, *directoryPath); err != nil {
			logger.Error("failed to load directory", "path", *directoryPath, "error", err)
			os.Exit(1)
		}
	}
	registry := workflow.NewRegistry(directory)

	// Replay persisted policies so in-flight versions survive restarts.
	cfgs, err := store.ListWorkflowConfigs(context.Background())
	if err != nil {
		logger.Error("failed to load workflow configs", "error", err)
		os.Exit(1)
	}
	for _, cfg := range cfgs {
		registry.Register(cfg)
	}
	logger.Info("workflow policies loaded", "count", len(cfgs))

	bl := ledger.New(store.LedgerStore())
	bus := leave.NewBus()
	machine := leave.NewStateMachine(store, bl, registry, bus)

	handler := &api.Handler{
		Machine:  machine,
		Ledger:   bl,
		Registry: registry,
		Identity: directory,
		Configs:  store,
	}
	router := api.NewRouter(handler, logger)

	scheduler := api.NewRolloverScheduler(store, bl, logger)
	scheduler.CheckInterval = *rolloverInterval
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// loadDirectory seeds the identity directory from a JSON file:
//
//	{
//	  "employees": [{"employee_id": "emp-1", "role_ids": ["manager"], "department": "engineering"}],
//	  "roles": {"manager": ["mgr-1"], "": ["mgr-1", "hr-1"]}
//	}
//
// The "" role key is the general approval-permission pool.
func loadDirectory(d *api.StaticDirectory, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file struct {
		Employees []struct {
			EmployeeID string   `json:"employee_id"`
			RoleIDs    []string `json:"role_ids"`
			Department string   `json:"department"`
		} `json:"employees"`
		Roles map[string][]string `json:"roles"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		return err
	}
	for _, e := range file.Employees {
		d.AddEmployee(workflow.EmployeeContext{
			EmployeeID: e.EmployeeID,
			RoleIDs:    e.RoleIDs,
			Department: e.Department,
		})
	}
	for roleID, members := range file.Roles {
		for _, userID := range members {
			d.GrantRole(roleID, userID)
		}
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
