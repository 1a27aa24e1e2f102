package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int
	DBAutoMigrate    bool

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	RetryIntervalSec      int
	FailedWriteMaxRetries int
	ConsistencySampleSize int
	RepairIntervalSec     int
	DLQAlertThreshold     int
	SweepLockTTLSec       int
	StoreBreakerEnabled   bool

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int
	AdminRole       string

	AdminRateLimitRPS   int
	AdminRateLimitBurst int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func (c Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSec) * time.Second
}

func (c Config) SweepLockTTL() time.Duration {
	return time.Duration(c.SweepLockTTLSec) * time.Second
}

func defaults(serviceNameDefault string, httpPortDefault int) Config {
	return Config{
		Env:                   strings.TrimSpace(os.Getenv("ENV")),
		ServiceName:           serviceNameDefault,
		HTTPPort:              httpPortDefault,
		LogLevel:              "info",
		ConfigPath:            strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:      30000,
		DBMaxConns:            10,
		DBMinConns:            1,
		DBConnMaxIdleSec:      300,
		DBConnMaxLifeSec:      1800,
		KafkaRetryMax:         5,
		KafkaWriteMS:          5000,
		AsynqQueue:            "default",
		AsynqConcurrency:      10,
		RetryIntervalSec:      30,
		FailedWriteMaxRetries: 10,
		ConsistencySampleSize: 100,
		RepairIntervalSec:     300,
		DLQAlertThreshold:     100,
		SweepLockTTLSec:       60,
		InfluxTimeoutMS:       5000,
		JWKSTTLSeconds:        300,
		JWTClockSkewSec:       60,
		AdminRole:             "admin",
		AdminRateLimitRPS:     5,
		AdminRateLimitBurst:   10,
		OtelInsecure:          true,
		OtelSampleRatio:       1.0,
	}
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	cfg := defaults(serviceNameDefault, httpPortDefault)

	problems := make([]Problem, 0, 4)
	envProvided := cfg.Env != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}

	validate(&cfg, httpPortDefault, &problems)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	return cfg, problems
}

func validate(cfg *Config, httpPortDefault int, problems *[]Problem) {
	d := defaults(cfg.ServiceName, httpPortDefault)
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	positive := []struct {
		field string
		value *int
		def   int
	}{
		{"REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, d.RequestTimeoutMS},
		{"DB_MAX_CONNS", &cfg.DBMaxConns, d.DBMaxConns},
		{"DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, d.DBConnMaxIdleSec},
		{"DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, d.DBConnMaxLifeSec},
		{"KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, d.KafkaWriteMS},
		{"ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, d.AsynqConcurrency},
		{"RETRY_INTERVAL_SECONDS", &cfg.RetryIntervalSec, d.RetryIntervalSec},
		{"FAILED_WRITE_MAX_RETRIES", &cfg.FailedWriteMaxRetries, d.FailedWriteMaxRetries},
		{"CONSISTENCY_SAMPLE_SIZE", &cfg.ConsistencySampleSize, d.ConsistencySampleSize},
		{"REPAIR_INTERVAL_SECONDS", &cfg.RepairIntervalSec, d.RepairIntervalSec},
		{"DLQ_ALERT_THRESHOLD", &cfg.DLQAlertThreshold, d.DLQAlertThreshold},
		{"SWEEP_LOCK_TTL_SECONDS", &cfg.SweepLockTTLSec, d.SweepLockTTLSec},
		{"INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, d.InfluxTimeoutMS},
		{"JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds, d.JWKSTTLSeconds},
	}
	for _, p := range positive {
		if *p.value <= 0 {
			*problems = append(*problems, Problem{Field: p.field, Message: p.field + " must be > 0"})
			*p.value = p.def
		}
	}
	nonNegative := []struct {
		field string
		value *int
		def   int
	}{
		{"DB_MIN_CONNS", &cfg.DBMinConns, d.DBMinConns},
		{"KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, d.KafkaRetryMax},
		{"REDIS_DB", &cfg.RedisDB, d.RedisDB},
		{"ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, d.AsynqRedisDB},
		{"JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec, d.JWTClockSkewSec},
		{"ADMIN_RATE_LIMIT_RPS", &cfg.AdminRateLimitRPS, d.AdminRateLimitRPS},
		{"ADMIN_RATE_LIMIT_BURST", &cfg.AdminRateLimitBurst, d.AdminRateLimitBurst},
	}
	for _, p := range nonNegative {
		if *p.value < 0 {
			*problems = append(*problems, Problem{Field: p.field, Message: p.field + " must be >= 0"})
			*p.value = p.def
		}
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		*problems = append(*problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}
	if strings.TrimSpace(cfg.AdminRole) == "" {
		cfg.AdminRole = d.AdminRole
	}
}

// Keys are shared between the JSON config file and the environment.
func stringFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"ENV":                         &cfg.Env,
		"SERVICE_NAME":                &cfg.ServiceName,
		"LOG_LEVEL":                   &cfg.LogLevel,
		"DATABASE_URL":                &cfg.DatabaseURL,
		"KAFKA_CLIENT_ID":             &cfg.KafkaClientID,
		"KAFKA_CONSUMER_GROUP":        &cfg.KafkaGroupID,
		"REDIS_ADDR":                  &cfg.RedisAddr,
		"REDIS_PASSWORD":              &cfg.RedisPassword,
		"ASYNQ_REDIS_ADDR":            &cfg.AsynqRedisAddr,
		"ASYNQ_REDIS_PASSWORD":        &cfg.AsynqRedisPass,
		"ASYNQ_QUEUE":                 &cfg.AsynqQueue,
		"INFLUX_URL":                  &cfg.InfluxURL,
		"INFLUX_TOKEN":                &cfg.InfluxToken,
		"INFLUX_ORG":                  &cfg.InfluxOrg,
		"INFLUX_BUCKET":               &cfg.InfluxBucket,
		"OIDC_ISSUER":                 &cfg.OIDCIssuer,
		"OIDC_AUDIENCE":               &cfg.OIDCAudience,
		"OIDC_JWKS_URL":               &cfg.OIDCJWKSURL,
		"ADMIN_ROLE":                  &cfg.AdminRole,
		"OTEL_EXPORTER_OTLP_ENDPOINT": &cfg.OtelEndpoint,
	}
}

func intFields(cfg *Config) map[string]*int {
	return map[string]*int{
		"HTTP_PORT":                    &cfg.HTTPPort,
		"REQUEST_TIMEOUT_MS":           &cfg.RequestTimeoutMS,
		"DB_MAX_CONNS":                 &cfg.DBMaxConns,
		"DB_MIN_CONNS":                 &cfg.DBMinConns,
		"DB_CONN_MAX_IDLE_SECONDS":     &cfg.DBConnMaxIdleSec,
		"DB_CONN_MAX_LIFETIME_SECONDS": &cfg.DBConnMaxLifeSec,
		"KAFKA_RETRY_MAX":              &cfg.KafkaRetryMax,
		"KAFKA_WRITE_TIMEOUT_MS":       &cfg.KafkaWriteMS,
		"REDIS_DB":                     &cfg.RedisDB,
		"ASYNQ_REDIS_DB":               &cfg.AsynqRedisDB,
		"ASYNQ_CONCURRENCY":            &cfg.AsynqConcurrency,
		"RETRY_INTERVAL_SECONDS":       &cfg.RetryIntervalSec,
		"FAILED_WRITE_MAX_RETRIES":     &cfg.FailedWriteMaxRetries,
		"CONSISTENCY_SAMPLE_SIZE":      &cfg.ConsistencySampleSize,
		"REPAIR_INTERVAL_SECONDS":      &cfg.RepairIntervalSec,
		"DLQ_ALERT_THRESHOLD":          &cfg.DLQAlertThreshold,
		"SWEEP_LOCK_TTL_SECONDS":       &cfg.SweepLockTTLSec,
		"INFLUX_TIMEOUT_MS":            &cfg.InfluxTimeoutMS,
		"JWKS_CACHE_TTL_SECONDS":       &cfg.JWKSTTLSeconds,
		"JWT_CLOCK_SKEW_SECONDS":       &cfg.JWTClockSkewSec,
		"ADMIN_RATE_LIMIT_RPS":         &cfg.AdminRateLimitRPS,
		"ADMIN_RATE_LIMIT_BURST":       &cfg.AdminRateLimitBurst,
	}
}

func boolFields(cfg *Config) map[string]*bool {
	return map[string]*bool{
		"STORE_BREAKER_ENABLED":       &cfg.StoreBreakerEnabled,
		"DB_AUTO_MIGRATE":             &cfg.DBAutoMigrate,
		"OTEL_ENABLED":                &cfg.OtelEnabled,
		"OTEL_EXPORTER_OTLP_INSECURE": &cfg.OtelInsecure,
	}
}

func applyEnv(cfg *Config, problems *[]Problem) {
	for key, dst := range stringFields(cfg) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	if strings.TrimSpace(os.Getenv("HTTP_PORT")) == "" {
		if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				cfg.HTTPPort = p
			} else {
				*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be an integer"})
			}
		}
	}
	for key, dst := range intFields(cfg) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
			continue
		}
		*dst = n
	}
	for key, dst := range boolFields(cfg) {
		v := strings.TrimSpace(os.Getenv(key))
		if v == "" {
			continue
		}
		b, ok := asBool(v)
		if !ok {
			*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
			continue
		}
		*dst = b
	}

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATIO")); v != "" {
		if f, ok := asFloat(v); ok {
			cfg.OtelSampleRatio = f
		} else {
			*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be a number"})
		}
	}
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	strs := stringFields(cfg)
	ints := intFields(cfg)
	bools := boolFields(cfg)
	for rawKey, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(rawKey))
		if dst, ok := strs[key]; ok {
			if s, ok := v.(string); ok {
				*dst = strings.TrimSpace(s)
			}
			continue
		}
		if dst, ok := ints[key]; ok {
			n, ok := asInt(v)
			if !ok {
				*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
				continue
			}
			*dst = n
			continue
		}
		if dst, ok := bools[key]; ok {
			switch t := v.(type) {
			case bool:
				*dst = t
			case string:
				if b, ok := asBool(t); ok {
					*dst = b
				} else {
					*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
				}
			default:
				*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
			}
			continue
		}
		switch key {
		case "KAFKA_BROKERS":
			switch t := v.(type) {
			case string:
				cfg.KafkaBrokers = parseCSV(t)
			case []any:
				cfg.KafkaBrokers = parseAnyCSV(t)
			default:
				*problems = append(*problems, Problem{Field: key, Message: "KAFKA_BROKERS must be a string or list"})
			}
		case "OTEL_SAMPLE_RATIO":
			if f, ok := asFloat(v); ok {
				cfg.OtelSampleRatio = f
			} else {
				*problems = append(*problems, Problem{Field: key, Message: "OTEL_SAMPLE_RATIO must be a number"})
			}
		}
	}
}

func findRepoRoot() (string, bool) {
	start, err := os.Getwd()
	if err != nil {
		return "", false
	}
	dir := start
	for i := 0; i < 8; i++ {
		candidate := filepath.Join(dir, "configs")
		if fi, err := os.Stat(candidate); err == nil && fi.IsDir() {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if explicit && !errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("failed to read config file: %v", err)}}, false
		}
		if explicit && errors.Is(err, os.ErrNotExist) {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: "config file not found"}}, false
		}
		return nil, nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid json: %v", err)}}, false
	}
	return raw, nil, true
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			s, ok := v.(string)
			return s, ok
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		i, err := t.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		return i, err == nil
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
