package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/joseph-ayodele/witness-arbiter/constants"
)

// Config holds all application configuration
type Config struct {
	Arbitration ArbitrationConfig `yaml:"arbitration"`
	Corruption  CorruptionConfig  `yaml:"corruption"`
	Store       StoreConfig       `yaml:"store"`
	Artifacts   ArtifactsConfig   `yaml:"artifacts"`
	Witnesses   WitnessesConfig   `yaml:"witnesses"`
	Batch       BatchConfig       `yaml:"batch"`
	Server      ServerConfig      `yaml:"server"`
}

// ArbitrationConfig holds witness roles, score weights and label thresholds.
type ArbitrationConfig struct {
	Primary    string `yaml:"primary"`
	Gate       string `yaml:"gate"`
	Escalation string `yaml:"escalation"`

	GateThreshold       float64 `yaml:"gate_threshold"`
	AgreementWeight     float64 `yaml:"agreement_weight"`
	CleanlinessWeight   float64 `yaml:"cleanliness_weight"`
	AutoAcceptThreshold float64 `yaml:"auto_accept_threshold"`
	FlagThreshold       float64 `yaml:"flag_threshold"`
	ArbitrateThreshold  float64 `yaml:"arbitrate_threshold"`
	// Witnesses below this cleanliness are left out of the score when two cleaner ones remain.
	CorruptCleanliness float64 `yaml:"corrupt_cleanliness"`
	MinCoverage        float64 `yaml:"min_coverage"`
}

// CorruptionConfig tunes the per-witness garbage detector.
type CorruptionConfig struct {
	ScriptThreshold   float64 `yaml:"script_threshold"`
	SymbolTolerance   float64 `yaml:"symbol_tolerance"`
	SymbolCeiling     float64 `yaml:"symbol_ceiling"`
	RunLength         int     `yaml:"run_length"`
	RepetitionCeiling float64 `yaml:"repetition_ceiling"`
	MinAvgTokenLength float64 `yaml:"min_avg_token_length"`

	ScriptWeight        float64 `yaml:"script_weight"`
	SymbolWeight        float64 `yaml:"symbol_weight"`
	RepetitionWeight    float64 `yaml:"repetition_weight"`
	FragmentationWeight float64 `yaml:"fragmentation_weight"`
}

// StoreConfig selects and tunes the checkpoint backend.
type StoreConfig struct {
	Driver              string        `yaml:"driver"` // sqlite | postgres | firestore | memory
	DSN                 string        `yaml:"dsn"`
	FirestoreProject    string        `yaml:"firestore_project"`
	FirestoreCollection string        `yaml:"firestore_collection"`
	MaxConns            int32         `yaml:"max_conns"`
	MinConns            int32         `yaml:"min_conns"`
	MaxConnLifetime     time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime     time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	StatementTimeout    time.Duration `yaml:"statement_timeout"`
}

// ArtifactsConfig locates witness results and accepted outputs: a directory or gs://bucket/prefix.
type ArtifactsConfig struct {
	Root string `yaml:"root"`
}

type WitnessesConfig struct {
	ML       MLConfig       `yaml:"ml"`
	LocalOCR LocalOCRConfig `yaml:"local_ocr"`
	Cloud    CloudConfig    `yaml:"cloud"`
	Retry    RetryConfig    `yaml:"retry"`
}

// MLConfig points at the layout-analysis service used by the primary witness.
type MLConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type LocalOCRConfig struct {
	Engine      string `yaml:"engine"` // cli | gosseract
	Pdftoppm    string `yaml:"pdftoppm"`
	Tesseract   string `yaml:"tesseract"`
	TessdataDir string `yaml:"tessdata_dir"`
	DefaultLang string `yaml:"default_lang"`
	DPI         int    `yaml:"dpi"`
	PSM         int    `yaml:"psm"`
	OEM         int    `yaml:"oem"`
	WorkDir     string `yaml:"work_dir"`
}

type CloudConfig struct {
	ProjectID     string        `yaml:"project_id"`
	Region        string        `yaml:"region"`
	Model         string        `yaml:"model"`
	SamplePages   int           `yaml:"sample_pages"` // 0 = every page
	RatePerMinute float64       `yaml:"rate_per_minute"`
	Burst         int           `yaml:"burst"`
	MaxConcurrent int64         `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

type BatchConfig struct {
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	DocumentTimeout time.Duration `yaml:"document_timeout"`
	SkipHidden      bool          `yaml:"skip_hidden"`
}

// ServerConfig holds daemon configuration
type ServerConfig struct {
	GRPCAddr string        `yaml:"grpc_addr"`
	InboxDir string        `yaml:"inbox_dir"`
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Arbitration: ArbitrationConfig{
			Primary:             string(constants.WitnessPrimaryML),
			Gate:                string(constants.WitnessOCRCloud),
			Escalation:          string(constants.WitnessOCRLocal),
			GateThreshold:       0.5,
			AgreementWeight:     0.7,
			CleanlinessWeight:   0.3,
			AutoAcceptThreshold: 0.85,
			FlagThreshold:       0.65,
			ArbitrateThreshold:  0.40,
			CorruptCleanliness:  0.5,
			MinCoverage:         0.9,
		},
		Corruption: CorruptionConfig{
			ScriptThreshold:     0.5,
			SymbolTolerance:     0.10,
			SymbolCeiling:       0.40,
			RunLength:           5,
			RepetitionCeiling:   0.25,
			MinAvgTokenLength:   3.0,
			ScriptWeight:        0.30,
			SymbolWeight:        0.25,
			RepetitionWeight:    0.25,
			FragmentationWeight: 0.20,
		},
		Store: StoreConfig{
			Driver:              "sqlite",
			DSN:                 "file:./data/checkpoints.db",
			FirestoreCollection: "checkpoints",
			MaxConns:            10,
			MinConns:            1,
			MaxConnLifetime:     30 * time.Minute,
			MaxConnIdleTime:     5 * time.Minute,
			DialTimeout:         3 * time.Second,
		},
		Artifacts: ArtifactsConfig{Root: "./data/artifacts"},
		Witnesses: WitnessesConfig{
			ML: MLConfig{
				Endpoint: "http://localhost:5001/v1/convert",
				Timeout:  10 * time.Minute,
			},
			LocalOCR: LocalOCRConfig{
				Engine:      "cli",
				Pdftoppm:    "pdftoppm",
				Tesseract:   "tesseract",
				DefaultLang: "eng",
				DPI:         300,
				PSM:         3,
				WorkDir:     "./tmp",
			},
			Cloud: CloudConfig{
				Region:        "us-central1",
				Model:         "gemini-2.5-flash",
				SamplePages:   3,
				RatePerMinute: 60,
				Burst:         5,
				MaxConcurrent: 4,
				Timeout:       2 * time.Minute,
			},
			Retry: RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second},
		},
		Batch: BatchConfig{
			Workers:         4,
			QueueSize:       256,
			DocumentTimeout: 30 * time.Minute,
			SkipHidden:      true,
		},
		Server: ServerConfig{
			GRPCAddr: ":8080",
			Debounce: 2 * time.Second,
		},
	}
}

// LoadConfig loads configuration from environment variables on top of the defaults.
func LoadConfig() *Config {
	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg
}

// LoadConfigFile reads a YAML file over the defaults, then applies environment overrides.
// An empty path behaves like LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, NewAppError(CodeConfig, "read config file", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, NewAppError(CodeConfig, fmt.Sprintf("parse %s", path), fmt.Errorf("%w: %v", ErrInvalidInput, err))
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	a := &c.Arbitration
	a.Primary = getEnv("ARBITER_PRIMARY", a.Primary)
	a.Gate = getEnv("ARBITER_GATE", a.Gate)
	a.Escalation = getEnv("ARBITER_ESCALATION", a.Escalation)
	a.GateThreshold = getEnvAsFloat64("ARBITER_GATE_THRESHOLD", a.GateThreshold)
	a.AgreementWeight = getEnvAsFloat64("ARBITER_AGREEMENT_WEIGHT", a.AgreementWeight)
	a.CleanlinessWeight = getEnvAsFloat64("ARBITER_CLEANLINESS_WEIGHT", a.CleanlinessWeight)
	a.AutoAcceptThreshold = getEnvAsFloat64("ARBITER_AUTO_ACCEPT_THRESHOLD", a.AutoAcceptThreshold)
	a.FlagThreshold = getEnvAsFloat64("ARBITER_FLAG_THRESHOLD", a.FlagThreshold)
	a.ArbitrateThreshold = getEnvAsFloat64("ARBITER_ARBITRATE_THRESHOLD", a.ArbitrateThreshold)
	a.CorruptCleanliness = getEnvAsFloat64("ARBITER_CORRUPT_CLEANLINESS", a.CorruptCleanliness)
	a.MinCoverage = getEnvAsFloat64("ARBITER_MIN_COVERAGE", a.MinCoverage)

	s := &c.Store
	s.Driver = getEnv("STORE_DRIVER", s.Driver)
	s.DSN = getEnv("DB_URL", s.DSN)
	s.FirestoreProject = getEnv("FIRESTORE_PROJECT", s.FirestoreProject)
	s.FirestoreCollection = getEnv("FIRESTORE_COLLECTION", s.FirestoreCollection)
	s.MaxConns = getEnvAsInt32("DB_MAX_CONNS", s.MaxConns)
	s.MinConns = getEnvAsInt32("DB_MIN_CONNS", s.MinConns)
	s.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", s.MaxConnLifetime)
	s.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", s.MaxConnIdleTime)
	s.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", s.DialTimeout)
	s.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", s.StatementTimeout)

	c.Artifacts.Root = getEnv("ARTIFACTS_ROOT", c.Artifacts.Root)

	ml := &c.Witnesses.ML
	ml.Endpoint = getEnv("LAYOUT_ML_ENDPOINT", ml.Endpoint)
	ml.APIKey = getEnv("LAYOUT_ML_API_KEY", ml.APIKey)
	ml.Timeout = getEnvAsDuration("LAYOUT_ML_TIMEOUT", ml.Timeout)

	lo := &c.Witnesses.LocalOCR
	lo.Engine = getEnv("OCR_ENGINE", lo.Engine)
	lo.Pdftoppm = getEnv("PDFTOPPM_BIN", lo.Pdftoppm)
	lo.Tesseract = getEnv("TESSERACT_BIN", lo.Tesseract)
	lo.TessdataDir = getEnv("TESSDATA_PREFIX", lo.TessdataDir)
	lo.DefaultLang = getEnv("TESSERACT_LANG", lo.DefaultLang)
	lo.DPI = getEnvAsInt("OCR_DPI", lo.DPI)
	lo.WorkDir = getEnv("ARTIFACT_CACHE_DIR", lo.WorkDir)

	cl := &c.Witnesses.Cloud
	cl.ProjectID = getEnv("PROJECT_ID", cl.ProjectID)
	cl.Region = getEnv("VERTEX_AI_REGION", cl.Region)
	cl.Model = getEnv("VERTEX_AI_MODEL", cl.Model)
	cl.SamplePages = getEnvAsInt("CLOUD_SAMPLE_PAGES", cl.SamplePages)
	cl.RatePerMinute = getEnvAsFloat64("CLOUD_RATE_PER_MINUTE", cl.RatePerMinute)
	cl.Burst = getEnvAsInt("CLOUD_BURST", cl.Burst)
	cl.MaxConcurrent = int64(getEnvAsInt("CLOUD_MAX_CONCURRENT", int(cl.MaxConcurrent)))
	cl.Timeout = getEnvAsDuration("CLOUD_TIMEOUT", cl.Timeout)

	r := &c.Witnesses.Retry
	r.MaxAttempts = getEnvAsInt("WITNESS_MAX_ATTEMPTS", r.MaxAttempts)
	r.BaseDelay = getEnvAsDuration("WITNESS_RETRY_DELAY", r.BaseDelay)

	b := &c.Batch
	b.Workers = getEnvAsInt("BATCH_WORKERS", b.Workers)
	b.QueueSize = getEnvAsInt("BATCH_QUEUE_SIZE", b.QueueSize)
	b.DocumentTimeout = getEnvAsDuration("BATCH_DOCUMENT_TIMEOUT", b.DocumentTimeout)

	c.Server.GRPCAddr = getEnv("GRPC_ADDR", c.Server.GRPCAddr)
	c.Server.InboxDir = getEnv("INBOX_DIR", c.Server.InboxDir)
	c.Server.Debounce = getEnvAsDuration("INBOX_DEBOUNCE", c.Server.Debounce)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	witnessIDs := make([]string, 0, len(constants.Witnesses))
	for _, w := range constants.Witnesses {
		witnessIDs = append(witnessIDs, string(w))
	}
	unit := Range(0, 1)

	a := c.Arbitration
	v := NewValidator().
		Field("arbitration.primary", a.Primary, Required, OneOf(witnessIDs...)).
		Field("arbitration.escalation", a.Escalation, Required, OneOf(witnessIDs...)).
		Field("arbitration.gate_threshold", a.GateThreshold, unit).
		Field("arbitration.agreement_weight", a.AgreementWeight, unit).
		Field("arbitration.cleanliness_weight", a.CleanlinessWeight, unit).
		Field("arbitration.auto_accept_threshold", a.AutoAcceptThreshold, unit).
		Field("arbitration.flag_threshold", a.FlagThreshold, unit).
		Field("arbitration.arbitrate_threshold", a.ArbitrateThreshold, unit).
		Field("arbitration.corrupt_cleanliness", a.CorruptCleanliness, unit).
		Field("arbitration.min_coverage", a.MinCoverage, unit).
		Field("corruption.script_threshold", c.Corruption.ScriptThreshold, unit).
		Field("corruption.run_length", c.Corruption.RunLength, Range(2, 1000)).
		Field("store.driver", c.Store.Driver, OneOf("sqlite", "postgres", "firestore", "memory")).
		Field("artifacts.root", c.Artifacts.Root, Required).
		Field("batch.workers", c.Batch.Workers, Range(1, 1024))
	if a.Gate != "" {
		v.Field("arbitration.gate", a.Gate, OneOf(witnessIDs...))
	}
	if c.Store.Driver == "firestore" {
		v.Field("store.firestore_project", c.Store.FirestoreProject, Required)
	} else if c.Store.Driver != "memory" {
		v.Field("store.dsn", c.Store.DSN, Required)
	}
	if err := v.Error(); err != nil {
		return NewAppError(CodeConfig, "invalid configuration", err)
	}

	roles := []string{a.Primary, a.Gate, a.Escalation}
	if strings.EqualFold(a.Primary, a.Escalation) || (a.Gate != "" && (a.Gate == a.Primary || a.Gate == a.Escalation)) {
		return NewAppError(CodeConfig, fmt.Sprintf("witness roles must be distinct: %v", roles), ErrInvalidInput)
	}
	if !(a.AutoAcceptThreshold >= a.FlagThreshold && a.FlagThreshold >= a.ArbitrateThreshold) {
		return NewAppError(CodeConfig, "label thresholds must be ordered auto_accept >= flag >= arbitrate", ErrInvalidInput)
	}
	return nil
}
