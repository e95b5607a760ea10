package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Env                string // "dev" switches the logger to development mode
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)
	MaxUploadSizeMB    int

	// Database
	DatabaseURL    string
	MigrateOnStart bool

	// Redis
	RedisURL string

	// Object storage: "supabase" or "minio"
	StorageBackend        string
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string
	MinioEndpoint         string
	MinioAccessKey        string
	MinioSecretKey        string
	MinioBucket           string
	MinioUseSSL           bool
	MinioRegion           string

	// Acquisition: "local" (yt-dlp) or "remote" (download worker)
	AcquisitionBackend   string
	YTDLPPath            string
	RemoteWorkerURL      string
	RemoteWorkerAPIKey   string
	RequireKnownPlatform bool
	DefaultQuality       string
	AcquisitionTimeout   time.Duration
	ScratchDir           string

	// OpenAI-compatible endpoints (transcription + transcript analysis)
	OpenAIKey               string
	OpenAIBaseURL           string
	TranscriptionModel      string
	TranscriptionTimeout    time.Duration
	TranscriptionMaxRetries int

	// Analyzer: "transcript" (LLM) or "frames" (Gemini vision)
	AnalyzerStrategy string
	AnalyzerModel    string
	GeminiKey        string
	GeminiModel      string
	FrameSamples     int
	AnalysisTimeout  time.Duration

	// Materializer
	FFmpegPath             string
	FFprobePath            string
	PlatformSpecsPath      string // Optional YAML overrides for the platform table
	MaterializeMaxAttempts int
	MaterializeTimeout     time.Duration // per render attempt
	CaptionPosition        string        // "top", "middle" or "bottom"

	// Worker
	MaxConcurrentJobs      int
	MaxParallelClips       int // Per-project materialization cap
	RetentionSweepInterval time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:                     getEnv("APP_ENV", "production"),
		APIPort:                 getEnv("API_PORT", "8080"),
		WorkerEnabled:           getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:           getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:      getEnv("CORS_ALLOWED_ORIGINS", ""),
		MaxUploadSizeMB:         getEnvInt("MAX_UPLOAD_SIZE_MB", 2048),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		MigrateOnStart:          getEnvBool("MIGRATE_ON_START", false),
		RedisURL:                getEnv("REDIS_URL", "redis://localhost:6379"),
		StorageBackend:          getEnv("STORAGE_BACKEND", "supabase"),
		SupabaseURL:             getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:      getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket:   getEnv("SUPABASE_STORAGE_BUCKET", "clips"),
		MinioEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:             getEnv("MINIO_BUCKET", "clips"),
		MinioUseSSL:             getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:             getEnv("MINIO_REGION", ""),
		AcquisitionBackend:      getEnv("ACQUISITION_BACKEND", "local"),
		YTDLPPath:               getEnv("YTDLP_PATH", "yt-dlp"),
		RemoteWorkerURL:         getEnv("REMOTE_WORKER_URL", ""),
		RemoteWorkerAPIKey:      getEnv("REMOTE_WORKER_API_KEY", ""),
		RequireKnownPlatform:    getEnvBool("ACQUISITION_REQUIRE_KNOWN_PLATFORM", false),
		DefaultQuality:          getEnv("ACQUISITION_DEFAULT_QUALITY", "720"),
		AcquisitionTimeout:      getEnvDuration("ACQUISITION_TIMEOUT", 20*time.Minute),
		ScratchDir:              getEnv("SCRATCH_DIR", "/tmp/clipforge"),
		OpenAIKey:               getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:           getEnv("OPENAI_BASE_URL", ""),
		TranscriptionModel:      getEnv("TRANSCRIPTION_MODEL", "whisper-1"),
		TranscriptionTimeout:    getEnvDuration("TRANSCRIPTION_TIMEOUT", 10*time.Minute),
		TranscriptionMaxRetries: getEnvInt("TRANSCRIPTION_MAX_RETRIES", 2),
		AnalyzerStrategy:        getEnv("ANALYZER_STRATEGY", "transcript"),
		AnalyzerModel:           getEnv("ANALYZER_MODEL", "gpt-4o-mini"),
		GeminiKey:               getEnv("GEMINI_API_KEY", ""),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		FrameSamples:            getEnvInt("ANALYZER_FRAME_SAMPLES", 24),
		AnalysisTimeout:         getEnvDuration("ANALYSIS_TIMEOUT", 10*time.Minute),
		FFmpegPath:              getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:             getEnv("FFPROBE_PATH", "ffprobe"),
		PlatformSpecsPath:       getEnv("PLATFORM_SPECS_PATH", ""),
		MaterializeMaxAttempts:  getEnvInt("MATERIALIZE_MAX_ATTEMPTS", 2),
		MaterializeTimeout:      getEnvDuration("MATERIALIZE_TIMEOUT", 15*time.Minute),
		CaptionPosition:         getEnv("CAPTION_POSITION", "bottom"),
		MaxConcurrentJobs:       getEnvInt("MAX_CONCURRENT_JOBS", 2),
		MaxParallelClips:        getEnvInt("MAX_PARALLEL_CLIPS", 3),
		RetentionSweepInterval:  getEnvDuration("RETENTION_SWEEP_INTERVAL", time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required keys and enum values.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.StorageBackend {
	case "supabase":
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
		}
	case "minio":
		if c.MinioEndpoint == "" || c.MinioAccessKey == "" || c.MinioSecretKey == "" {
			return fmt.Errorf("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be supabase or minio, got %q", c.StorageBackend)
	}

	switch c.AcquisitionBackend {
	case "local":
	case "remote":
		if c.RemoteWorkerURL == "" {
			return fmt.Errorf("REMOTE_WORKER_URL is required when ACQUISITION_BACKEND=remote")
		}
	default:
		return fmt.Errorf("ACQUISITION_BACKEND must be local or remote, got %q", c.AcquisitionBackend)
	}

	if c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}

	switch c.AnalyzerStrategy {
	case "transcript":
	case "frames":
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when ANALYZER_STRATEGY=frames")
		}
	default:
		return fmt.Errorf("ANALYZER_STRATEGY must be transcript or frames, got %q", c.AnalyzerStrategy)
	}

	if c.MaxParallelClips < 1 {
		return fmt.Errorf("MAX_PARALLEL_CLIPS must be at least 1")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
