// Sentinel agent process - wires the Thought/Task Store, Secrets Pipeline,
// DMA Runner, Action Selector, Guardrail Stack, Handler Dispatch, Audit
// Chain, Graph Memory, Adaptation Controller, and the cooperative
// scheduler behind an HTTP control plane.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/wisebound/sentinel/pkg/adaptation"
	"github.com/wisebound/sentinel/pkg/api"
	"github.com/wisebound/sentinel/pkg/audit"
	"github.com/wisebound/sentinel/pkg/auth"
	"github.com/wisebound/sentinel/pkg/config"
	"github.com/wisebound/sentinel/pkg/dma"
	"github.com/wisebound/sentinel/pkg/graph"
	"github.com/wisebound/sentinel/pkg/guardrail"
	"github.com/wisebound/sentinel/pkg/handler"
	"github.com/wisebound/sentinel/pkg/llm"
	"github.com/wisebound/sentinel/pkg/pipeline"
	"github.com/wisebound/sentinel/pkg/resource"
	"github.com/wisebound/sentinel/pkg/scheduler"
	"github.com/wisebound/sentinel/pkg/secrets"
	"github.com/wisebound/sentinel/pkg/selector"
	"github.com/wisebound/sentinel/pkg/store"
	"github.com/wisebound/sentinel/pkg/tool"
	transportfake "github.com/wisebound/sentinel/pkg/transport/fake"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// dbEnv is the set of fields every one of the six per-store Postgres
// configs share (spec.md §6.3: each store lives in its own database).
type dbEnv struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// loadDBEnv reads HOST/PORT/USER/PASSWORD/SSLMODE for prefix (e.g.
// "STORE", "SECRETS", "AUDIT") plus a database name that defaults to
// defaultDB, falling back to shared SENTINEL_DB_* values when the
// prefixed ones are absent.
func loadDBEnv(prefix, defaultDB string) dbEnv {
	fallback := func(suffix, def string) string {
		if v := os.Getenv(prefix + "_DB_" + suffix); v != "" {
			return v
		}
		return getEnv("SENTINEL_DB_"+suffix, def)
	}
	return dbEnv{
		Host:     fallback("HOST", "localhost"),
		Port:     getEnvInt(prefix+"_DB_PORT", getEnvInt("SENTINEL_DB_PORT", 5432)),
		User:     fallback("USER", "sentinel"),
		Password: fallback("PASSWORD", "sentinel"),
		Database: fallback("NAME", defaultDB),
		SSLMode:  fallback("SSLMODE", "disable"),
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	log.Printf("starting sentinel")
	log.Printf("config directory: %s", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}
	slog.Info("configuration loaded", "agent_name", cfg.Profile.AgentName, "domain_dma_kind", cfg.Profile.DomainDMA.Kind)

	coreDB := loadDBEnv("STORE", "sentinel_core")
	thoughtStore, err := store.NewStore(ctx, store.Config{
		Host: coreDB.Host, Port: coreDB.Port, User: coreDB.User,
		Password: coreDB.Password, Database: coreDB.Database, SSLMode: coreDB.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to open thought/task store: %v", err)
	}
	slog.Info("thought/task store connected")

	secretsDB := loadDBEnv("SECRETS", "sentinel_secrets")
	secretsStore, err := secrets.NewStore(ctx, secrets.Config{
		Host: secretsDB.Host, Port: secretsDB.Port, User: secretsDB.User,
		Password: secretsDB.Password, Database: secretsDB.Database, SSLMode: secretsDB.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to open secrets store: %v", err)
	}
	slog.Info("secrets store connected")

	auditDB := loadDBEnv("AUDIT", "sentinel_audit")
	auditStore, err := audit.NewPostgresStore(ctx, audit.Config{
		Host: auditDB.Host, Port: auditDB.Port, User: auditDB.User,
		Password: auditDB.Password, Database: auditDB.Database, SSLMode: auditDB.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to open audit store: %v", err)
	}
	slog.Info("audit store connected")

	graphDB := loadDBEnv("GRAPH", "sentinel_graph")
	graphStore, err := graph.NewStore(ctx, graph.Config{
		Host: graphDB.Host, Port: graphDB.Port, User: graphDB.User,
		Password: graphDB.Password, Database: graphDB.Database, SSLMode: graphDB.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to open graph store: %v", err)
	}
	slog.Info("graph store connected")

	authDB := loadDBEnv("AUTH", "sentinel_auth")
	authRepo, err := auth.NewPostgresRepository(ctx, auth.Config{
		Host: authDB.Host, Port: authDB.Port, User: authDB.User,
		Password: authDB.Password, Database: authDB.Database, SSLMode: authDB.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to open auth store: %v", err)
	}
	slog.Info("auth store connected")

	adaptDB := loadDBEnv("ADAPTATION", "sentinel_adaptation")
	adaptationRepo, err := adaptation.NewPostgresRepository(ctx, adaptation.Config{
		Host: adaptDB.Host, Port: adaptDB.Port, User: adaptDB.User,
		Password: adaptDB.Password, Database: adaptDB.Database, SSLMode: adaptDB.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to open adaptation store: %v", err)
	}
	slog.Info("adaptation store connected")

	masterKey := []byte(getEnv("SENTINEL_SECRETS_MASTER_KEY", "0123456789abcdef0123456789abcdef"))
	secretsSvc := secrets.NewService(secretsStore, masterKey, secrets.Options{KeyVersion: 1})

	auditChain := audit.New(auditStore)
	keyring := audit.NewKeyring(auditStore)
	if key, err := auditStore.ActiveSigningKey(ctx); err != nil {
		log.Fatalf("failed to read audit signing key: %v", err)
	} else if key == nil {
		if _, err := keyring.Rotate(ctx); err != nil {
			log.Fatalf("failed to mint initial audit signing key: %v", err)
		}
		slog.Info("minted initial audit signing key")
	}

	graphMemory := graph.New(graphStore)
	consolidator := graph.NewConsolidator(graphMemory)
	consolidator.Start(ctx)
	defer consolidator.Stop()

	adaptationWeights := adaptation.FieldWeights{
		"guardrails.entropy_threshold":       1.0,
		"guardrails.coherence_threshold":     1.0,
		"guardrails.optimization_veto_ratio": 0.5,
		"ponder_cap":                         0.5,
	}
	adaptationCtl := adaptation.NewController(adaptationRepo, cfg.Runtime.AdaptationCeiling, adaptationWeights)
	adaptationVector := adaptation.Vector{
		"guardrails.entropy_threshold":       cfg.Runtime.Guardrails.EntropyThreshold,
		"guardrails.coherence_threshold":     cfg.Runtime.Guardrails.CoherenceThreshold,
		"guardrails.optimization_veto_ratio": cfg.Runtime.Guardrails.OptimizationVetoRatio,
	}
	adaptationCadence := time.Duration(cfg.Runtime.AdaptationCadenceHours) * time.Hour
	adaptationDriver := adaptation.NewDriver(adaptationCtl, auditStore, graphMemory, auditChain,
		adaptationVector, adaptationCadence, adaptation.DefaultSettlePeriod, adaptation.DefaultWindowSize)
	adaptationDriver.Start(ctx)
	defer adaptationDriver.Stop()

	llmBaseURL := getEnv("SENTINEL_LLM_BASE_URL", "http://localhost:11434")
	llmModel := getEnv("SENTINEL_LLM_MODEL", "llama3")
	llmAPIKey := getEnv("SENTINEL_LLM_API_KEY", "")
	httpLLM := llm.NewHTTPClient(llmBaseURL, llmModel, llmAPIKey)

	monitor := resource.NewMonitor(resource.DefaultLimits())
	instrumented := resource.InstrumentedProvider{Provider: httpLLM, Monitor: monitor}

	registry := dma.NewRegistry()
	domainDMA, err := registry.Build(cfg.Profile.DomainDMA.Kind, instrumented, cfg.Profile.DomainDMA.Args)
	if err != nil {
		log.Fatalf("failed to build domain DMA %q: %v", cfg.Profile.DomainDMA.Kind, err)
	}
	runner := dma.NewRunner(&dma.EthicalLLM{Provider: instrumented}, &dma.CommonSenseLLM{Provider: instrumented}, domainDMA)

	sel := selector.New(instrumented)
	guard := guardrail.New(instrumented, cfg.Runtime.Guardrails)

	toolRouter := tool.NewRouter()
	transportAdapter := transportfake.New(getEnv("SENTINEL_HOME_CHANNEL", "sentinel-control"))
	waChannelID := getEnv("SENTINEL_WA_CHANNEL", "wise-authority-escalation")

	dispatch := handler.New(transportAdapter, toolRouter, graphMemory, thoughtStore.Thoughts(), thoughtStore.Tasks(), auditChain, waChannelID)

	pl := pipeline.New(thoughtStore.Thoughts(), secretsSvc, runner, sel, guard, dispatch, auditChain, cfg.Runtime.PonderCap)

	sched := scheduler.New(thoughtStore.Thoughts(), pl, auditChain, authRepo)
	sched.SetCapacityMonitor(monitor)
	go sched.Run(ctx)
	defer func() {
		if err := sched.Shutdown(context.Background(), "process exiting"); err != nil {
			slog.Warn("scheduler shutdown", "error", err)
		}
	}()

	resolver := auth.NewResolver(authRepo)
	server := api.NewServer(resolver, sched, thoughtStore.Tasks(), auditChain, adaptationCtl)

	slog.Info("http server listening", "port", httpPort)
	if err := server.Start(":" + httpPort); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}
