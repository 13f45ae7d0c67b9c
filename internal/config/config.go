package config

import (
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process-wide configuration snapshot. It is loaded once at
// boot and handed to each component explicitly.
type Config struct {
	Database *DBConfig
	Storage  *StorageConfig
	Service  *ServiceConfig
	Worker   *WorkerConfig
	Backends *BackendsConfig
}

type DBConfig struct {
	Type     string `envconfig:"OCR_DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"OCR_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"OCR_DB_PORT" default:"5432"`
	Name     string `envconfig:"OCR_DB_NAME" default:"remote_ocr"`
	User     string `envconfig:"OCR_DB_USER" default:"admin"`
	Password string `envconfig:"OCR_DB_PASS" default:"adminpass"`
}

type StorageConfig struct {
	Endpoint  string `envconfig:"OCR_STORAGE_ENDPOINT" default:"localhost:9000"`
	AccessKey string `envconfig:"OCR_STORAGE_ACCESS_KEY" default:""`
	SecretKey string `envconfig:"OCR_STORAGE_SECRET_KEY" default:""`
	Bucket    string `envconfig:"OCR_STORAGE_BUCKET" default:"remote-ocr"`
	UseSSL    bool   `envconfig:"OCR_STORAGE_USE_SSL" default:"false"`
	// PresignExpiryS bounds presigned GET urls handed to clients.
	PresignExpiryS int `envconfig:"OCR_STORAGE_PRESIGN_EXPIRY_S" default:"3600"`
}

type ServiceConfig struct {
	Address        string `envconfig:"OCR_API_ADDRESS" default:":8080"`
	MetricsAddress string `envconfig:"OCR_METRICS_ADDRESS" default:":8081"`
	BaseURL        string `envconfig:"OCR_API_BASE_URL" default:"http://localhost:8080"`
	APIKey         string `envconfig:"OCR_API_KEY" default:""`
	LogLevel       string `envconfig:"OCR_LOG_LEVEL" default:"info"`
	MaxQueueSize   int    `envconfig:"OCR_MAX_QUEUE_SIZE" default:"100" validate:"gte=0"`
}

type WorkerConfig struct {
	MaxConcurrentJobs    int     `envconfig:"OCR_MAX_CONCURRENT_JOBS" default:"4" validate:"gte=1"`
	ThreadsPerJob        int     `envconfig:"OCR_THREADS_PER_JOB" default:"2" validate:"gte=1"`
	MaxGlobalOCRRequests int     `envconfig:"OCR_MAX_GLOBAL_OCR_REQUESTS" default:"8" validate:"gte=1"`
	RenderDPI            int     `envconfig:"OCR_PDF_RENDER_DPI" default:"300" validate:"gte=72"`
	PollIntervalS        float64 `envconfig:"OCR_POLL_INTERVAL_S" default:"10"`
	TaskTimeLimitS       int     `envconfig:"OCR_TASK_TIME_LIMIT_S" default:"3600" validate:"gte=1"`
	DebounceIntervalS    float64 `envconfig:"OCR_DEBOUNCE_INTERVAL_S" default:"3.0"`
	StripMergeGapPx      int     `envconfig:"OCR_STRIP_MERGE_GAP_PX" default:"40" validate:"gte=0"`
	StripMaxHeightPx     int     `envconfig:"OCR_STRIP_MAX_HEIGHT_PX" default:"3000" validate:"gte=1"`
	WorkDir              string  `envconfig:"OCR_WORK_DIR" default:""`
}

type BackendsConfig struct {
	VisionURL       string `envconfig:"OCR_BACKEND_A_URL" default:""`
	VisionAPIKey    string `envconfig:"OCR_BACKEND_A_API_KEY" default:""`
	SegmenterURL    string `envconfig:"OCR_BACKEND_B_URL" default:""`
	SegmenterAPIKey string `envconfig:"OCR_BACKEND_B_API_KEY" default:""`

	VisionMaxRPM           int `envconfig:"OCR_BACKEND_A_MAX_RPM" default:"240" validate:"gte=1"`
	SegmenterMaxRPM        int `envconfig:"OCR_BACKEND_B_MAX_RPM" default:"180" validate:"gte=1"`
	SegmenterMaxConcurrent int `envconfig:"OCR_BACKEND_B_MAX_CONCURRENT" default:"5" validate:"gte=1"`

	AcquireTimeoutS int `envconfig:"OCR_BACKEND_ACQUIRE_TIMEOUT_S" default:"300" validate:"gte=1"`
}

// New loads the configuration from the environment and validates it.
func New() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
