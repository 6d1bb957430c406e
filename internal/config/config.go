package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Face     FaceConfig     `yaml:"face"`
	Model    ModelConfig    `yaml:"model"`
	Camera   CameraConfig   `yaml:"camera"`
	Database DatabaseConfig `yaml:"database"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
}

// FaceConfig holds the verification pipeline knobs.
type FaceConfig struct {
	MinConfidence   float64       `yaml:"min_confidence"`   // detector acceptance score
	AcceptThreshold float64       `yaml:"accept_threshold"` // max Euclidean distance for a match
	Timeout         time.Duration `yaml:"timeout"`          // live-capture session deadline
	EmbeddingDim    int           `yaml:"embedding_dim"`
	InputSize       int           `yaml:"input_size"` // embedder input edge in pixels
	Selection       string        `yaml:"selection"`  // first | highest_confidence | largest
}

type ModelConfig struct {
	URL     string        `yaml:"url"` // face model server
	Timeout time.Duration `yaml:"timeout"`
}

type CameraConfig struct {
	URL              string `yaml:"url"` // JPEG snapshot endpoint, empty disables live capture
	MaxDroppedFrames int    `yaml:"max_dropped_frames"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`    // PostgreSQL URL or MySQL DSN
	Driver       string `yaml:"driver"` // postgres | mysql
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type WebConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	SessionSecret  string `yaml:"session_secret"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads the first set variable among keys as a float.
func envFloat(defaultVal float64, keys ...string) float64 {
	for _, key := range keys {
		s := os.Getenv(key)
		if s == "" {
			continue
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envDuration reads the first set variable among keys as a duration.
// Bare numbers are interpreted as seconds ("5" == "5s").
func envDuration(defaultVal time.Duration, keys ...string) time.Duration {
	for _, key := range keys {
		s := os.Getenv(key)
		if s == "" {
			continue
		}
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Defaults returns the configuration embedded in defaults.yaml.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	cfg := Defaults()

	cfg.Face = FaceConfig{
		MinConfidence:   envFloat(cfg.Face.MinConfidence, "FACE_MIN_CONFIDENCE", "MIN_CONFIDENCE"),
		AcceptThreshold: envFloat(cfg.Face.AcceptThreshold, "FACE_ACCEPT_THRESHOLD", "ACCEPT_THRESHOLD"),
		Timeout:         envDuration(cfg.Face.Timeout, "FACE_TIMEOUT", "TIMEOUT_DURATION"),
		EmbeddingDim:    envInt("FACE_EMBEDDING_DIM", cfg.Face.EmbeddingDim),
		InputSize:       envInt("FACE_INPUT_SIZE", cfg.Face.InputSize),
		Selection:       envString("FACE_SELECTION", cfg.Face.Selection),
	}
	cfg.Model = ModelConfig{
		URL:     envString("MODEL_URL", cfg.Model.URL),
		Timeout: envDuration(cfg.Model.Timeout, "MODEL_TIMEOUT"),
	}
	cfg.Camera = CameraConfig{
		URL:              os.Getenv("CAMERA_URL"),
		MaxDroppedFrames: envInt("CAMERA_MAX_DROPPED", cfg.Camera.MaxDroppedFrames),
	}
	cfg.Database = DatabaseConfig{
		URL:          os.Getenv("DATABASE_URL"),
		Driver:       envString("DATABASE_DRIVER", cfg.Database.Driver),
		MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns),
		MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns),
	}
	cfg.Web = WebConfig{
		Host:           envString("WEB_HOST", cfg.Web.Host),
		Port:           envInt("WEB_PORT", cfg.Web.Port),
		SessionSecret:  os.Getenv("WEB_SESSION_SECRET"),
		AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
	}
	cfg.Log = LogConfig{
		Level:  envString("LOG_LEVEL", cfg.Log.Level),
		Format: envString("LOG_FORMAT", cfg.Log.Format),
	}

	return cfg
}

// Selection policies understood by the extractor.
const (
	SelectFirst             = "first"
	SelectHighestConfidence = "highest_confidence"
	SelectLargest           = "largest"
)

// Validate rejects knob values the pipeline cannot work with.
func (c *FaceConfig) Validate() error {
	var errs []error
	if c.MinConfidence < 0 || c.MinConfidence >= 1 {
		errs = append(errs, fmt.Errorf("min confidence %.2f must be in [0, 1)", c.MinConfidence))
	}
	if c.AcceptThreshold <= 0 {
		errs = append(errs, fmt.Errorf("accept threshold %.2f must be positive", c.AcceptThreshold))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("embedding dimension %d must be positive", c.EmbeddingDim))
	}
	switch c.Selection {
	case SelectFirst, SelectHighestConfidence, SelectLargest:
	default:
		errs = append(errs, fmt.Errorf("unknown face selection policy %q", c.Selection))
	}
	return errors.Join(errs...)
}
