package config

import (
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/redis/go-redis/v9"
)

// Config - Global variable to export
var Config AppConfig

// AppConfig defines the application configuration shared by the API gateway
// and the worker binaries.
type AppConfig struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	Cache     CacheConfig     `koanf:"cache"`
	Minio     MinioConfig     `koanf:"minio"`
	Milvus    MilvusConfig    `koanf:"milvus"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
}

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Host  string `koanf:"host"`
	Port  int    `koanf:"port"`
	Debug bool   `koanf:"debug"`
}

// DatabaseConfig related to database
type DatabaseConfig struct {
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Name     string `koanf:"name"`
	TimeZone string `koanf:"timezone"`
	Pool     struct {
		IdleConnections int           `koanf:"idleconnections"`
		MaxConnections  int           `koanf:"maxconnections"`
		ConnLifeTime    time.Duration `koanf:"connlifetime"`
	}
}

// TemporalConfig related to the Temporal server connection
type TemporalConfig struct {
	HostPort  string `koanf:"hostport"`
	Namespace string `koanf:"namespace"`
}

// CacheConfig related to Redis
type CacheConfig struct {
	Redis struct {
		RedisOptions redis.Options `koanf:"redisoptions"`
	}
}

// MinioConfig is the object storage configuration.
type MinioConfig struct {
	Host       string `koanf:"host"`
	Port       string `koanf:"port"`
	User       string `koanf:"user"`
	Password   string `koanf:"password"`
	BucketName string `koanf:"bucketname"`
	Secure     bool   `koanf:"secure"`
}

// MilvusConfig is the milvus configuration.
type MilvusConfig struct {
	Host string `koanf:"host"`
	Port string `koanf:"port"`
}

// EmbeddingConfig selects and configures the multimodal embedding provider.
type EmbeddingConfig struct {
	// Provider is "nova" (default, supports video) or "openai" (text only,
	// for development setups without a video embedding backend).
	Provider string `koanf:"provider" validate:"omitempty,oneof=nova openai"`
	Nova     struct {
		BaseURL string `koanf:"baseurl" validate:"omitempty,url"`
		APIKey  string `koanf:"apikey"`
		Model   string `koanf:"model"`
	} `koanf:"nova"`
	OpenAI struct {
		APIKey string `koanf:"apikey"`
		Model  string `koanf:"model"`
	} `koanf:"openai"`
}

// PipelineConfig holds the tunables of the ingest/search/approval pipeline.
type PipelineConfig struct {
	// IngestPrefix is the object key prefix that triggers the embedding
	// workflow. Upload URLs are always constrained to it.
	IngestPrefix string `koanf:"ingestprefix"`
	// DedupWindow collapses duplicate storage notifications for the same
	// object reference.
	DedupWindow time.Duration `koanf:"dedupwindow"`
	// SegmentSeconds is the length of the video segments sent for embedding.
	SegmentSeconds int `koanf:"segmentseconds"`
	// TopK is the number of candidates fetched from the vector index per
	// search request.
	TopK int `koanf:"topk"`
	// UploadURLExpiry bounds the lifetime of presigned upload URLs.
	UploadURLExpiry time.Duration `koanf:"uploadurlexpiry"`
	// ClipURLExpiry bounds the lifetime of presigned clip download URLs.
	ClipURLExpiry time.Duration `koanf:"clipurlexpiry"`
	Approval      struct {
		// Mode decides which candidates need a human decision before they
		// are surfaced: "all", "none" or "threshold".
		Mode string `koanf:"mode" validate:"omitempty,oneof=all none threshold"`
		// MinScore applies in "threshold" mode: candidates scoring below it
		// require approval.
		MinScore float32 `koanf:"minscore"`
		// Timeout is the deadline for a human decision before the gate
		// fails closed.
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"approval"`
}

// Init - Assign global config to decoded config struct
func Init(filePath string) error {
	k := koanf.New(".")
	parser := yaml.Parser()

	if err := k.Load(file.Provider(filePath), parser); err != nil {
		log.Fatal(err.Error())
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return err
	}

	if err := k.Unmarshal("", &Config); err != nil {
		return err
	}

	return ValidateConfig(&Config)
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}
	return nil
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	flag.Parse()

	return *configPath
}
