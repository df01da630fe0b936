package common

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvModelPath       = "MODEL_PATH"
	EnvDataPath        = "DATA_PATH"
	EnvListenPort      = "LISTEN_PORT"
	EnvStatsMode       = "STATS_MODE"
	EnvRequiredFields  = "REQUIRED_FIELDS"
	EnvCatalogPath     = "CATALOG_PATH"
	EnvArchiveURL      = "ARCHIVE_URL"
	EnvSkyViewURL      = "SKYVIEW_URL"
	EnvArchiveTimeout  = "ARCHIVE_TIMEOUT"
	EnvAllowedOrigins  = "ALLOWED_ORIGINS"
	EnvMaxUploadBytes  = "MAX_UPLOAD_BYTES"
	EnvMaxBatchRows    = "MAX_BATCH_ROWS"
	EnvLogLevel        = "LOG_LEVEL"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
)

// Configuration defaults
const (
	DefaultModelPath       = "models"
	DefaultListenPort      = 8000
	DefaultStatsMode       = "batch"
	DefaultCatalogPath     = "NASA.json"
	DefaultArchiveURL      = "https://exoplanetarchive.ipac.caltech.edu/TAP/sync"
	DefaultSkyViewURL      = "https://skyview.gsfc.nasa.gov/current/cgi/runquery.pl"
	DefaultAllowedOrigins  = "http://localhost:3000,http://localhost"
	DefaultMaxUploadBytes  = 32 << 20 // 32 MiB
	DefaultMaxBatchRows    = 100000
	DefaultLogLevel        = "info"
	DefaultArchiveTimeoutS = 30
	DefaultShutdownS       = 10
)

// Bundle artifact file names
const (
	ManifestFile       = "manifest.yaml"
	ScalerFile         = "scaler.json"
	ClassifierFile     = "ensemble.json"
	ClassifierFileGzip = "ensemble.json.gz"
	LabelsFile         = "labels.json"
	VersionsFile       = "model_versions.json"
	DatabaseFile       = "koi-runs.db"
)
