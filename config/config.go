package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// Email source
	EmailProvider      string // imap, graph, file, outlook
	InitialBackfillDays int
	PollIntervalSec    int

	// IMAP
	IMAPHost     string
	IMAPPort     int
	IMAPSSL      bool
	IMAPUser     string
	IMAPPassword string
	IMAPFolders  []string

	// Microsoft Graph
	GraphTenantID     string
	GraphClientID     string
	GraphClientSecret string
	GraphMailbox      string
	GraphFolders      []string

	// File watcher
	FileWatchPath string

	// Outlook desktop
	OutlookFolders []string

	// Correlation
	DedupeWindowMin        int // W_dedupe
	FlapQuietTimeMin       int // W_quiet
	IncidentAutoResolveHrs int // H_stale

	// Maintenance
	MaintenanceSubjectPrefixes []string
	RRuleExpansionHorizonDays  int // H_expand

	// Learning extractor
	LLMParsingEnabled bool
	LLMProvider       string // generate, openai
	LLMEndpoint       string
	LLMTimeoutSec     int
	OpenAIAPIKey      string
	LLMModel          string

	// Enrichment (RAG advisory)
	RAGEnabled       bool
	RAGEndpoint      string
	RAGTimeoutSec    int
	EnrichBatchSize  int

	// Redaction
	RedactionPatterns string

	// Retention / housekeeping
	RawEmailRetentionDays int
	DLQRetentionDays      int
	DLQMaxRetries         int
	IdempotencyTTLHours   int

	// Notifier
	NotificationsEnabled bool
	DigestIntervalMin    int

	// Scheduler
	SchedulerEnabled     bool
	SchedulerIntervalSec int

	// Worker
	WorkerID string

	// Consumer (Redis Stream)
	ConsumerBatchSize int
	ConsumerBlockMS   int
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// Email source
		EmailProvider:       getEnv("EMAIL_PROVIDER", "imap"),
		InitialBackfillDays: getEnvInt("INITIAL_BACKFILL_DAYS", 7),
		PollIntervalSec:     getEnvInt("POLL_INTERVAL_SEC", 60),

		// IMAP
		IMAPHost:     getEnv("IMAP_HOST", ""),
		IMAPPort:     getEnvInt("IMAP_PORT", 993),
		IMAPSSL:      getEnvBool("IMAP_SSL", true),
		IMAPUser:     getEnv("IMAP_USER", ""),
		IMAPPassword: getEnv("IMAP_PASSWORD", ""),
		IMAPFolders:  getEnvSlice("IMAP_FOLDERS", []string{"INBOX"}),

		// Microsoft Graph
		GraphTenantID:     getEnv("GRAPH_TENANT_ID", ""),
		GraphClientID:     getEnv("GRAPH_CLIENT_ID", ""),
		GraphClientSecret: getEnv("GRAPH_CLIENT_SECRET", ""),
		GraphMailbox:      getEnv("GRAPH_MAILBOX", ""),
		GraphFolders:      getEnvSlice("GRAPH_FOLDERS", []string{"Inbox"}),

		// File watcher
		FileWatchPath: getEnv("FILE_WATCH_PATH", "./mail-drop"),

		// Outlook desktop
		OutlookFolders: getEnvSlice("OUTLOOK_FOLDERS", []string{"Inbox"}),

		// Correlation
		DedupeWindowMin:        getEnvInt("DEDUPE_WINDOW_MINUTES", 10),
		FlapQuietTimeMin:       getEnvInt("FLAP_QUIET_TIME_MINUTES", 30),
		IncidentAutoResolveHrs: getEnvInt("INCIDENT_AUTO_RESOLVE_HOURS", 24),

		// Maintenance
		MaintenanceSubjectPrefixes: getEnvSlice("MAINTENANCE_SUBJECT_PREFIXES", []string{"[MW]", "[Maintenance]", "Maintenance:"}),
		RRuleExpansionHorizonDays:  getEnvInt("RRULE_EXPANSION_HORIZON_DAYS", 90),

		// Learning extractor
		LLMParsingEnabled: getEnvBool("LLM_PARSING_ENABLED", true),
		LLMProvider:       getEnv("LLM_PROVIDER", "generate"),
		LLMEndpoint:       getEnv("LLM_ENDPOINT", ""),
		LLMTimeoutSec:     getEnvInt("LLM_TIMEOUT_SEC", 180),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o-mini"),

		// Enrichment
		RAGEnabled:      getEnvBool("RAG_ENABLED", false),
		RAGEndpoint:     getEnv("RAG_ENDPOINT", ""),
		RAGTimeoutSec:   getEnvInt("RAG_TIMEOUT_SECONDS", 30),
		EnrichBatchSize: getEnvInt("ENRICH_BATCH_SIZE", 5),

		// Redaction
		RedactionPatterns: getEnv("REDACTION_PATTERNS", ""),

		// Retention / housekeeping
		RawEmailRetentionDays: getEnvInt("RAW_EMAIL_RETENTION_DAYS", 30),
		DLQRetentionDays:      getEnvInt("DLQ_RETENTION_DAYS", 14),
		DLQMaxRetries:         getEnvInt("DLQ_MAX_RETRIES", 5),
		IdempotencyTTLHours:   getEnvInt("IDEMPOTENCY_TTL_HOURS", 48),

		// Notifier
		NotificationsEnabled: getEnvBool("NOTIFICATIONS_ENABLED", true),
		DigestIntervalMin:    getEnvInt("DIGEST_INTERVAL_MINUTES", 15),

		// Scheduler
		SchedulerEnabled:     getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerIntervalSec: getEnvInt("SCHEDULER_INTERVAL_SEC", 60),

		// Worker
		WorkerID: getEnv("WORKER_ID", generateWorkerID()),

		// Consumer
		ConsumerBatchSize: getEnvInt("CONSUMER_BATCH_SIZE", 10),
		ConsumerBlockMS:   getEnvInt("CONSUMER_BLOCK_MS", 5000),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	switch cfg.EmailProvider {
	case "imap", "graph", "file", "outlook":
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
	}

	return cfg, nil
}

// DedupeWindow returns W_dedupe as a duration.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowMin) * time.Minute
}

// FlapQuietTime returns W_quiet as a duration.
func (c *Config) FlapQuietTime() time.Duration {
	return time.Duration(c.FlapQuietTimeMin) * time.Minute
}

// IncidentAutoResolve returns H_stale as a duration.
func (c *Config) IncidentAutoResolve() time.Duration {
	return time.Duration(c.IncidentAutoResolveHrs) * time.Hour
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
