package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Settings holds all configuration for the registry service
type Settings struct {
	// Core Identity
	InstanceID string

	// API Configuration
	APIHost         string
	APIPort         int
	FrontendOrigins []string
	MaxBodyBytes    int64

	// Redis Configuration
	RedisHost      string
	RedisPort      string
	RedisDB        int
	RedisPassword  string
	RedisNamespace string

	// Scoring Service
	ScoringURL     string
	ScoringTimeout time.Duration

	// Ledger Configuration
	RPCURL               string
	ChainID              int64
	PrivateKey           string
	ContractAddress      string
	ContractABIPath      string
	TokenScale           int64
	LedgerConfirmTimeout time.Duration
	LockWait             time.Duration

	// Administrative access
	AdminAuthToken       string
	AdminAddresses       []string
	AdminSignatureWindow time.Duration

	// Content archive
	IPFSURL          string
	ContentRefStrict bool

	// Deduplication Configuration
	DedupLocalCacheSize int
	DedupTTL            time.Duration

	// Workers
	StaleAfter        time.Duration
	StaleScanInterval time.Duration

	// Monitoring & Debugging
	MetricsEnabled bool
	MetricsPort    int
	LogLevel       string
	LogFormat      string
	DebugMode      bool

	// ConfigFile is watched for live changes when set
	ConfigFile string
}

var (
	// SettingsObj is the global settings instance
	SettingsObj *Settings

	v = viper.New()

	// fraudThreshold holds math.Float64bits of the live threshold
	fraudThreshold atomic.Uint64
)

func setDefaults() {
	v.SetDefault("INSTANCE_ID", "")
	v.SetDefault("API_HOST", "0.0.0.0")
	v.SetDefault("PORT", 4000)
	v.SetDefault("FRONTEND_ORIGINS", "http://localhost:5173")
	v.SetDefault("MAX_BODY_BYTES", 1<<20)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_NAMESPACE", "grovia")

	v.SetDefault("ML_URL", "http://127.0.0.1:8001/predict")
	v.SetDefault("SCORING_TIMEOUT_SECONDS", 20)
	v.SetDefault("FRAUD_THRESHOLD", 40.0)

	v.SetDefault("RPC_URL", "")
	v.SetDefault("CHAIN_ID", 31337)
	v.SetDefault("PRIVATE_KEY", "")
	v.SetDefault("CONTRACT_ADDRESS", "")
	v.SetDefault("CONTRACT_ABI_PATH", "")
	v.SetDefault("TOKEN_SCALE", 1000)
	v.SetDefault("LEDGER_CONFIRM_TIMEOUT_SECONDS", 120)
	v.SetDefault("LOCK_WAIT_SECONDS", 10)

	v.SetDefault("ADMIN_AUTH_TOKEN", "")
	v.SetDefault("ADMIN_ADDRESSES", "")

	v.SetDefault("IPFS_URL", "")
	v.SetDefault("CONTENT_REF_STRICT", false)

	v.SetDefault("ADMIN_SIGNATURE_WINDOW_SECONDS", 300)
	v.SetDefault("DEDUP_LOCAL_CACHE_SIZE", 10000)
	v.SetDefault("DEDUP_TTL_SECONDS", 86400)

	v.SetDefault("STALE_AFTER_SECONDS", 600)
	v.SetDefault("STALE_SCAN_INTERVAL_SECONDS", 60)

	v.SetDefault("METRICS_ENABLED", false)
	v.SetDefault("METRICS_PORT", 9090)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("DEBUG_MODE", false)
	v.SetDefault("CONFIG_FILE", "")
}

// LoadConfig loads configuration from the environment and, when CONFIG_FILE
// is set, from that file. Environment variables take precedence.
func LoadConfig() error {
	v = viper.New()
	setDefaults()
	v.AutomaticEnv()

	if file := strings.TrimSpace(os.Getenv("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	// ADMIN_AUTH_TOKEN falls back to the older ADMIN_SECRET name
	adminToken := v.GetString("ADMIN_AUTH_TOKEN")
	if adminToken == "" {
		adminToken = os.Getenv("ADMIN_SECRET")
	}

	SettingsObj = &Settings{
		InstanceID: v.GetString("INSTANCE_ID"),

		APIHost:         v.GetString("API_HOST"),
		APIPort:         v.GetInt("PORT"),
		FrontendOrigins: splitList(v.GetString("FRONTEND_ORIGINS")),
		MaxBodyBytes:    v.GetInt64("MAX_BODY_BYTES"),

		RedisHost:      v.GetString("REDIS_HOST"),
		RedisPort:      v.GetString("REDIS_PORT"),
		RedisDB:        v.GetInt("REDIS_DB"),
		RedisPassword:  v.GetString("REDIS_PASSWORD"),
		RedisNamespace: v.GetString("REDIS_NAMESPACE"),

		ScoringURL:     v.GetString("ML_URL"),
		ScoringTimeout: seconds("SCORING_TIMEOUT_SECONDS"),

		RPCURL:               v.GetString("RPC_URL"),
		ChainID:              v.GetInt64("CHAIN_ID"),
		PrivateKey:           v.GetString("PRIVATE_KEY"),
		ContractAddress:      v.GetString("CONTRACT_ADDRESS"),
		ContractABIPath:      v.GetString("CONTRACT_ABI_PATH"),
		TokenScale:           v.GetInt64("TOKEN_SCALE"),
		LedgerConfirmTimeout: seconds("LEDGER_CONFIRM_TIMEOUT_SECONDS"),
		LockWait:             seconds("LOCK_WAIT_SECONDS"),

		AdminAuthToken:       adminToken,
		AdminAddresses:       splitList(v.GetString("ADMIN_ADDRESSES")),
		AdminSignatureWindow: seconds("ADMIN_SIGNATURE_WINDOW_SECONDS"),

		IPFSURL:          v.GetString("IPFS_URL"),
		ContentRefStrict: v.GetBool("CONTENT_REF_STRICT"),

		DedupLocalCacheSize: v.GetInt("DEDUP_LOCAL_CACHE_SIZE"),
		DedupTTL:            seconds("DEDUP_TTL_SECONDS"),

		StaleAfter:        seconds("STALE_AFTER_SECONDS"),
		StaleScanInterval: seconds("STALE_SCAN_INTERVAL_SECONDS"),

		MetricsEnabled: v.GetBool("METRICS_ENABLED"),
		MetricsPort:    v.GetInt("METRICS_PORT"),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
		DebugMode:      v.GetBool("DEBUG_MODE"),

		ConfigFile: v.ConfigFileUsed(),
	}

	if SettingsObj.InstanceID == "" {
		if host, err := os.Hostname(); err == nil {
			SettingsObj.InstanceID = host
		}
	}

	threshold := v.GetFloat64("FRAUD_THRESHOLD")
	if err := checkThreshold(threshold); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	setFraudThreshold(threshold)

	// Configure logging
	configureLogging()

	// Validate configuration
	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Log configuration summary
	logConfigSummary()

	return nil
}

// FraudThreshold returns the fraud threshold in effect right now. It follows
// live edits of the config file once WatchConfig has been called.
func FraudThreshold() float64 {
	return math.Float64frombits(fraudThreshold.Load())
}

func setFraudThreshold(t float64) {
	fraudThreshold.Store(math.Float64bits(t))
}

// WatchConfig reloads FRAUD_THRESHOLD whenever the config file changes.
// Other settings need a restart. Without a config file this is a no-op.
func WatchConfig() {
	if SettingsObj == nil || SettingsObj.ConfigFile == "" {
		return
	}
	watched := v
	watched.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		applyThreshold(watched.GetFloat64("FRAUD_THRESHOLD"))
	})
	watched.WatchConfig()
	log.WithField("file", SettingsObj.ConfigFile).Info("Watching config file for threshold changes")
}

func applyThreshold(t float64) {
	if err := checkThreshold(t); err != nil {
		log.WithError(err).Warn("Ignoring invalid fraud threshold from config change")
		return
	}
	old := FraudThreshold()
	if old == t {
		return
	}
	setFraudThreshold(t)
	log.WithFields(log.Fields{
		"old": old,
		"new": t,
	}).Info("Fraud threshold updated")
}

func checkThreshold(t float64) error {
	if math.IsNaN(t) || t < 0 || t > 100 {
		return fmt.Errorf("FRAUD_THRESHOLD must be between 0 and 100, got %v", t)
	}
	return nil
}

// configureLogging sets up the logger based on configuration
func configureLogging() {
	// Set log level
	switch strings.ToLower(SettingsObj.LogLevel) {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	// Override with debug mode
	if SettingsObj.DebugMode {
		log.SetLevel(log.DebugLevel)
	}

	// Set formatter
	if strings.EqualFold(SettingsObj.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
		return
	}
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})
}

// validateConfig validates the loaded configuration
func validateConfig() error {
	s := SettingsObj

	if s.APIPort <= 0 || s.APIPort > 65535 {
		return fmt.Errorf("PORT must be a valid TCP port, got %d", s.APIPort)
	}
	if s.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if s.ScoringURL == "" {
		return fmt.Errorf("ML_URL is required")
	}
	if s.TokenScale <= 0 {
		return fmt.Errorf("TOKEN_SCALE must be positive, got %d", s.TokenScale)
	}

	if s.ContractAddress != "" && !common.IsHexAddress(s.ContractAddress) {
		return fmt.Errorf("CONTRACT_ADDRESS is not a valid address: %s", s.ContractAddress)
	}
	for _, addr := range s.AdminAddresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("ADMIN_ADDRESSES contains an invalid address: %s", addr)
		}
	}

	if s.AdminSignatureWindow <= 0 {
		return fmt.Errorf("ADMIN_SIGNATURE_WINDOW_SECONDS must be positive")
	}
	// used nonces must be remembered for as long as their signatures are valid
	if s.DedupTTL < s.AdminSignatureWindow {
		return fmt.Errorf("DEDUP_TTL_SECONDS (%v) must cover ADMIN_SIGNATURE_WINDOW_SECONDS (%v)", s.DedupTTL, s.AdminSignatureWindow)
	}

	if s.RPCURL == "" || s.ContractAddress == "" {
		log.Warn("RPC_URL or CONTRACT_ADDRESS not set - accepted submissions will be recorded as mint_failed")
	} else if s.PrivateKey == "" {
		log.Warn("PRIVATE_KEY not set - balances can be read but nothing can be minted")
	}
	if s.AdminAuthToken == "" && len(s.AdminAddresses) == 0 {
		log.Warn("No admin credentials configured - administrative routes are disabled")
	}

	return nil
}

// logConfigSummary logs a summary of the configuration
func logConfigSummary() {
	s := SettingsObj
	log.Info("=== Configuration Loaded ===")
	log.Infof("Instance: %s", s.InstanceID)
	log.Infof("API: %s:%d (origins: %s)", s.APIHost, s.APIPort, strings.Join(s.FrontendOrigins, ","))
	log.Infof("Redis: %s:%s (DB %d, namespace %s)", s.RedisHost, s.RedisPort, s.RedisDB, s.RedisNamespace)
	log.Infof("Scoring: %s (timeout %v), fraud threshold %.2f", s.ScoringURL, s.ScoringTimeout, FraudThreshold())

	if s.ContractAddress != "" {
		log.Infof("Ledger: chain %d, contract %s, token scale %d", s.ChainID, s.ContractAddress, s.TokenScale)
	}
	if s.IPFSURL != "" {
		log.Infof("IPFS: %s", s.IPFSURL)
	}
	log.Infof("Admin: token=%v, signers=%d, signature window %v", s.AdminAuthToken != "", len(s.AdminAddresses), s.AdminSignatureWindow)
	log.Infof("Deduplication: TTL %v, cache %d", s.DedupTTL, s.DedupLocalCacheSize)

	if s.MetricsEnabled {
		log.Infof("Metrics: port %d", s.MetricsPort)
	}
	if s.ConfigFile != "" {
		log.Infof("Config file: %s", s.ConfigFile)
	}

	log.Info("============================")
}

// Helper functions

func seconds(key string) time.Duration {
	return time.Duration(v.GetInt(key)) * time.Second
}

// splitList accepts either a comma-separated list or a JSON array
func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var items []string
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			log.WithError(err).Warnf("Failed to parse %q as JSON array, treating as comma-separated", raw)
			items = strings.Split(strings.Trim(raw, "[]"), ",")
		}
	} else {
		items = strings.Split(raw, ",")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(strings.Trim(item, "\" "))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// RedisAddr returns host:port for the Redis client
func (s *Settings) RedisAddr() string {
	return fmt.Sprintf("%s:%s", s.RedisHost, s.RedisPort)
}

// LedgerLockTTL is how long a project lock lives; it must outlast a mint
// that waits the full confirmation timeout
func (s *Settings) LedgerLockTTL() time.Duration {
	return s.LedgerConfirmTimeout + 30*time.Second
}
