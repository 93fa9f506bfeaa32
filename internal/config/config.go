package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Config holds process configuration. Every field can be set by flag or environment
// variable; flags win.
type Config struct {
	ListenAddr              string        `name:"listen" env:"LISTEN_ADDR" default:":8080" help:"HTTP listen address."`
	RedisAddr               string        `name:"redis" env:"REDIS_ADDR" help:"Redis address. Empty keeps buckets in memory."`
	DownstreamURL           string        `name:"downstream" env:"DOWNSTREAM_URL" default:"http://localhost:8081" help:"Base URL of the backend collaborators."`
	JWTSecret               string        `name:"jwt-secret" env:"JWT_SECRET" help:"HMAC secret for bearer tokens."`
	JWTIssuer               string        `name:"jwt-issuer" env:"JWT_ISS" help:"Expected token issuer."`
	JWKSURL                 string        `name:"jwks-url" env:"JWKS_URL" help:"JWKS endpoint for RS256 tokens. Takes precedence over the HMAC secret."`
	JWTAudience             string        `name:"jwt-audience" env:"JWT_AUD" help:"Expected token audience (JWKS only)."`
	APIKeysFile             string        `name:"api-keys" env:"API_KEYS_FILE" help:"YAML file of API keys and the principals they act as."`
	QuotaFile               string        `name:"quota-file" env:"QUOTA_FILE" help:"YAML file overriding quota classes."`
	GracefulShutdownTimeout int           `name:"shutdown-timeout" env:"GRACEFUL_SHUTDOWN_TIMEOUT" default:"15" help:"Seconds to drain on shutdown."`
	SweepInterval           time.Duration `name:"sweep-interval" env:"SWEEP_INTERVAL" default:"1m" help:"How often idle buckets are evicted."`
	CollaboratorTimeout     time.Duration `name:"collaborator-timeout" env:"COLLABORATOR_TIMEOUT" default:"30s" help:"Timeout for calls to the backend."`
	RecommendationCacheTTL  time.Duration `name:"recommendation-cache-ttl" env:"RECOMMENDATION_CACHE_TTL" default:"5m" help:"How long recommendation documents are reused. Zero disables the cache."`
	MaxRequestSize          int64         `name:"max-request-size" env:"MAX_REQUEST_SIZE" default:"1048576" help:"Maximum request body in bytes."`
	LogLevel                string        `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"trace,debug,info,warn,error" help:"Log level."`
	EnvFile                 []string      `name:"env-file" help:"Dotenv files to load before reading the environment." default:".env"`
}

// Load reads dotenv files, then parses args with environment fallbacks.
func Load(args []string) (Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg,
		kong.Name("gateway"),
		kong.Description("Admission gateway: authorization and per-user quotas in front of the backend."),
		kong.Exit(func(int) {}),
	)
	if err != nil {
		return Config{}, err
	}

	// .env must be applied before kong resolves env tags, so find --env-file first.
	if err := loadEnvFiles(envFilesFromArgs(args)); err != nil {
		return Config{}, err
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = 15
	}
	return cfg, nil
}

// ShutdownTimeout returns the drain period as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.GracefulShutdownTimeout) * time.Second
}

func envFilesFromArgs(args []string) []string {
	var files []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--env-file" && i+1 < len(args):
			files = append(files, args[i+1])
			i++
		default:
			if f, ok := strings.CutPrefix(a, "--env-file="); ok {
				files = append(files, f)
			}
		}
	}
	if len(files) == 0 {
		files = []string{".env"}
	}
	return files
}

func loadEnvFiles(files []string) error {
	for _, file := range files {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}
