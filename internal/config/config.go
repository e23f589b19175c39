package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	Port        string
	DatabaseURL string
	Version     string
	LogLevel    string

	// Mailbox sync
	MailDropDir          string // Root of the per-mailbox message drop directories
	AttachmentDir        string // Where attachment payloads are stored; empty disables storage
	SyncIntervalMinutes  int    // Polling interval between sync cycles
	SyncBatchSize        int    // Messages persisted per transaction
	SyncCycleTimeoutMins int    // Wall-clock bound for one mailbox cycle
	SubjectLookbackDays  int    // Window for subject-based thread matching
	InternalDomains      []string
	CompletionMarkers    []string // Overrides built-in resolution markers when set

	// Embedding index
	ChunkMaxChars       int
	ChunkOverlap        int
	EmbeddingDimensions int

	// Retrieval
	RetrievalTopK   int
	FreshnessWeight float64 // Share of the vector score given to recency
	DecayDays       int     // Days until freshness falls to ~0.37

	// Summarization
	SummaryMaxAttempts  int
	SummaryHistoryLimit int
	ReopenGraceMinutes  int

	// LLM providers
	OpenAIKey                      string
	OpenAITimeout                  int
	AzureOpenAIKey                 string
	AzureOpenAIEndpoint            string
	AzureOpenAIGPTDeployment       string
	AzureOpenAIEmbeddingDeployment string

	// Notifications
	SendGridAPIKey string
	AlertEmail     string
	AlertFromEmail string
}

// Load initializes and returns application configuration
func Load() *Config {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Version:     getEnv("VERSION", "1.0.0"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		MailDropDir:          getEnv("MAILDROP_DIR", "maildrop"),
		AttachmentDir:        getEnv("ATTACHMENT_DIR", "attachments"),
		SyncIntervalMinutes:  getEnvInt("SYNC_INTERVAL_MINUTES", 5),
		SyncBatchSize:        getEnvInt("SYNC_BATCH_SIZE", 50),
		SyncCycleTimeoutMins: getEnvInt("SYNC_CYCLE_TIMEOUT_MINUTES", 10),
		SubjectLookbackDays:  getEnvInt("SUBJECT_LOOKBACK_DAYS", 7),
		InternalDomains:      getEnvList("INTERNAL_DOMAINS", nil),
		CompletionMarkers:    getEnvList("COMPLETION_MARKERS", nil),

		ChunkMaxChars:       getEnvInt("CHUNK_MAX_CHARS", 2200),
		ChunkOverlap:        getEnvInt("CHUNK_OVERLAP", 200),
		EmbeddingDimensions: getEnvInt("EMBEDDING_DIMENSIONS", 1536),

		RetrievalTopK:   getEnvInt("RETRIEVAL_TOP_K", 10),
		FreshnessWeight: getEnvFloat("FRESHNESS_WEIGHT", 0.25),
		DecayDays:       getEnvInt("DECAY_DAYS", 90),

		SummaryMaxAttempts:  getEnvInt("SUMMARY_MAX_ATTEMPTS", 3),
		SummaryHistoryLimit: getEnvInt("SUMMARY_HISTORY_LIMIT", 20),
		ReopenGraceMinutes:  getEnvInt("REOPEN_GRACE_MINUTES", 0),

		OpenAIKey:                      os.Getenv("OPENAI_API_KEY"),
		OpenAITimeout:                  getEnvInt("OPENAI_TIMEOUT", 60),
		AzureOpenAIKey:                 os.Getenv("AZURE_OPENAI_KEY"),
		AzureOpenAIEndpoint:            os.Getenv("AZURE_OPENAI_ENDPOINT"),
		AzureOpenAIGPTDeployment:       getEnv("AZURE_OPENAI_GPT_DEPLOYMENT", "gpt-4o-mini"),
		AzureOpenAIEmbeddingDeployment: getEnv("AZURE_OPENAI_EMBEDDING_DEPLOYMENT", "text-embedding-3-small"),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		AlertEmail:     os.Getenv("ALERT_EMAIL"),
		AlertFromEmail: getEnv("ALERT_FROM_EMAIL", "noreply@mailbase.local"),
	}

	return config
}

// MailboxCredentials returns the IMAP password for each configured mailbox
// address. Credentials are supplied as numbered env vars: MAILBOX_1=addr,password
func MailboxCredentials() map[string]string {
	credentials := make(map[string]string)
	for i := 1; ; i++ {
		value := os.Getenv("MAILBOX_" + strconv.Itoa(i))
		if value == "" {
			break
		}
		parts := strings.SplitN(value, ",", 2)
		if len(parts) == 2 {
			credentials[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return credentials
}

// UseAzureOpenAI reports whether Azure OpenAI is fully configured
func (c *Config) UseAzureOpenAI() bool {
	return c.AzureOpenAIKey != "" && c.AzureOpenAIEndpoint != ""
}

// HasOpenAIFallback reports whether the OpenAI platform key is configured
func (c *Config) HasOpenAIFallback() bool {
	return c.OpenAIKey != ""
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as integer with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float with a default fallback
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvList gets a comma-separated environment variable as a string slice
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// SetupLogger configures zerolog with JSON output and single-line format
func (c *Config) SetupLogger() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "mailbase").
		Str("version", c.Version).
		Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	return logger
}
