// Package config loads the pipeline-wide TOML configuration used by
// every phorest service.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// AnalysisMethod selects the row-fitting algorithm the analysis kernel
// applies to each ROI.
type AnalysisMethod string

const (
	MethodMaxIntensity AnalysisMethod = "max_intensity"
	MethodCentre       AnalysisMethod = "centre"
	MethodGaussian     AnalysisMethod = "gaussian"
	MethodFano         AnalysisMethod = "fano"
)

// CommunicationMethod selects how the Communicator emits results.
type CommunicationMethod string

const (
	CommCSVPlot CommunicationMethod = "CSV_PLOT"
	CommOPCUA   CommunicationMethod = "OPC_UA"
)

// CameraType selects which camera driver the Collector instantiates.
type CameraType string

const (
	CameraLogitech     CameraType = "LOGITECH"
	CameraArgus        CameraType = "ARGUS"
	CameraTIS          CameraType = "TIS"
	CameraHawkeye      CameraType = "HAWKEYE"
	CameraDummy        CameraType = "DUMMY"
	CameraFileImporter CameraType = "FILE_IMPORTER"
)

// CameraTransform is a post-capture orientation fixup applied uniformly
// regardless of which driver produced the frame.
type CameraTransform string

const (
	TransformNone              CameraTransform = "NONE"
	TransformHorizontalFlip    CameraTransform = "HORIZONTAL_FLIP"
	TransformVerticalFlip      CameraTransform = "VERTICAL_FLIP"
	TransformRotate90Clockwise CameraTransform = "ROTATE_90_CLOCKWISE"
	TransformRotate90CCW       CameraTransform = "ROTATE_90_COUNTERCLOCKWISE"
	TransformRotate180         CameraTransform = "ROTATE_180"
)

// DataAnalysisConfig is the [Data_Analysis] TOML section.
type DataAnalysisConfig struct {
	Method        AnalysisMethod `mapstructure:"method"`
	NumberSubROIs int            `mapstructure:"number_of_subROIs"`
}

// PathsConfig is the [Paths] TOML section.
type PathsConfig struct {
	RemoteRootDir        string `mapstructure:"remote_root_dir"`
	RootDir              string `mapstructure:"root_dir"`
	DataDir              string `mapstructure:"data_dir"`
	ContinuousCaptureDir string `mapstructure:"continuous_capture_dir"`
	ResultsDir           string `mapstructure:"results_dir"`
	LogsDir              string `mapstructure:"logs_dir"`
	BackupDir            string `mapstructure:"backup_dir"`
	ROIManifestFilename  string `mapstructure:"roi_manifest_filename"`
	// FlagDir holds the data_ready/results_ready sentinel files (spec.md
	// §6). Defaults to DataDir when unset, since that is where the
	// source pipeline keeps them.
	FlagDir string `mapstructure:"flag_dir"`
}

// ServicesConfig is the [Services] TOML section.
type ServicesConfig struct {
	EnableCamera             bool `mapstructure:"enable_camera"`
	EnableThermocouple       bool `mapstructure:"enable_thermocouple"`
	EnableBrightfield        bool `mapstructure:"enable_brightfield"`
	EnableFileBackup         bool `mapstructure:"enable_file_backup"`
	EnableImageCompression   bool `mapstructure:"enable_image_compression"`
	EnableRemoteSync         bool `mapstructure:"enable_remote_sync"`
	EnableServiceHealthCheck bool `mapstructure:"enable_service_health_check"`
}

// TimingConfig is the [Timing] TOML section; every field is seconds.
type TimingConfig struct {
	CollectorInterval    int `mapstructure:"collector_interval"`
	ProcessorInterval    int `mapstructure:"processor_interval"`
	CommunicatorInterval int `mapstructure:"communicator_interval"`
	CompressInterval     int `mapstructure:"compress_interval"`
	PollInterval         int `mapstructure:"poll_interval"`
	CollectorRetryDelay  int `mapstructure:"collector_retry_delay"`
	FileBackupInterval   int `mapstructure:"file_backup_interval"`
	SyncInterval         int `mapstructure:"sync_interval"`
	HealthCheckInterval  int `mapstructure:"health_check_interval"`
}

// RetriesConfig is the [Retries] TOML section.
type RetriesConfig struct {
	CollectorFailureLimit int `mapstructure:"collector_failure_limit"`
}

// BufferConfig is the [Buffer] TOML section.
type BufferConfig struct {
	ImageBufferSize int `mapstructure:"image_buffer_size"`
}

// CommunicationConfig is the [Communication] TOML section.
type CommunicationConfig struct {
	Method CommunicationMethod `mapstructure:"method"`
}

// CameraConfig is the [Camera] TOML section.
type CameraConfig struct {
	CameraType       CameraType      `mapstructure:"camera_type"`
	CameraID         int             `mapstructure:"camera_id"`
	CameraExposure   int             `mapstructure:"camera_exposure"`
	CameraGain       int             `mapstructure:"camera_gain"`
	CameraBrightness int             `mapstructure:"camera_brightness"`
	CameraContrast   int             `mapstructure:"camera_contrast"`
	CameraTransform  CameraTransform `mapstructure:"camera_transform"`
}

// TemperatureConfig is the [Temperature] TOML section.
type TemperatureConfig struct {
	ThermocoupleSensors map[string]string `mapstructure:"thermocouple_sensors"`
}

// StorageConfig is the [Storage] TOML section.
type StorageConfig struct {
	USBUUID string `mapstructure:"usb_uuid"`
}

// Config holds all static configuration shared by every phorest service.
// It is constructed once at process startup and passed by reference;
// no package ever materialises it as a global.
type Config struct {
	DataAnalysis  DataAnalysisConfig  `mapstructure:"Data_Analysis"`
	Paths         PathsConfig         `mapstructure:"Paths"`
	Services      ServicesConfig      `mapstructure:"Services"`
	Timing        TimingConfig        `mapstructure:"Timing"`
	Retries       RetriesConfig       `mapstructure:"Retries"`
	Buffer        BufferConfig        `mapstructure:"Buffer"`
	Communication CommunicationConfig `mapstructure:"Communication"`
	Camera        CameraConfig        `mapstructure:"Camera"`
	Temperature   TemperatureConfig   `mapstructure:"Temperature"`
	Storage       StorageConfig       `mapstructure:"Storage"`

	// RemoteNotifyURL, when non-empty, is pinged by the Syncer after a
	// successful sync cycle. Off by default; not part of the original
	// spec's filesystem-only remote model.
	RemoteNotifyURL string `mapstructure:"remote_notify_url"`
}

// Load reads configuration from the TOML file at path (a directory) and
// from environment variables.
// Priority: Env Vars > Config File > Defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	// 1. Defaults.
	v.SetDefault("Timing.collector_interval", 60)
	v.SetDefault("Timing.processor_interval", 30)
	v.SetDefault("Timing.communicator_interval", 60)
	v.SetDefault("Timing.compress_interval", 300)
	v.SetDefault("Timing.poll_interval", 5)
	v.SetDefault("Timing.collector_retry_delay", 5)
	v.SetDefault("Timing.file_backup_interval", 3600)
	v.SetDefault("Timing.sync_interval", 600)
	v.SetDefault("Timing.health_check_interval", 30)
	v.SetDefault("Retries.collector_failure_limit", 5)
	v.SetDefault("Buffer.image_buffer_size", 500)
	v.SetDefault("Communication.method", string(CommCSVPlot))
	v.SetDefault("Data_Analysis.method", string(MethodMaxIntensity))
	v.SetDefault("Data_Analysis.number_of_subROIs", 0)
	v.SetDefault("Paths.roi_manifest_filename", "roi_manifest.json")

	// 2. Load from file. Config is TOML, per spec.
	v.SetConfigName("phorest")
	v.SetConfigType("toml")
	v.AddConfigPath(path)
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Missing config file is tolerated provided env vars supply the rest.
	}

	// 3. Environment variable overrides.
	v.SetEnvPrefix("PHOREST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Unmarshal.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	// 5. Validate.
	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if cfg.Paths.FlagDir == "" {
		cfg.Paths.FlagDir = cfg.Paths.DataDir
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Paths.RootDir == "" {
		return errors.New("configuration 'Paths.root_dir' is required")
	}
	if cfg.Paths.DataDir == "" {
		return errors.New("configuration 'Paths.data_dir' is required")
	}
	if cfg.Paths.ResultsDir == "" {
		return errors.New("configuration 'Paths.results_dir' is required")
	}
	switch cfg.DataAnalysis.Method {
	case MethodMaxIntensity, MethodCentre, MethodGaussian, MethodFano:
	default:
		return fmt.Errorf("configuration 'Data_Analysis.method' has unknown value %q", cfg.DataAnalysis.Method)
	}
	if cfg.DataAnalysis.NumberSubROIs < 0 {
		return errors.New("configuration 'Data_Analysis.number_of_subROIs' must be >= 0")
	}
	switch cfg.Communication.Method {
	case CommCSVPlot, CommOPCUA:
	default:
		return fmt.Errorf("configuration 'Communication.method' has unknown value %q", cfg.Communication.Method)
	}
	if cfg.Buffer.ImageBufferSize < 0 {
		return errors.New("configuration 'Buffer.image_buffer_size' must be >= 0")
	}
	return nil
}

// The filesystem layout helpers below centralise the fixed filenames of
// spec.md §6 ("External interfaces") so every service derives the same
// paths from one Config value rather than re-deriving them.

func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.DataDir, "metadata_manifest.json")
}

func (c *Config) StatusPath() string {
	return filepath.Join(c.Paths.DataDir, "pipeline_status.json")
}

func (c *Config) ROIManifestPath() string {
	name := c.Paths.ROIManifestFilename
	if name == "" {
		name = "roi_manifest.json"
	}
	return filepath.Join(c.Paths.DataDir, name)
}

func (c *Config) ResultsLogPath() string {
	return filepath.Join(c.Paths.ResultsDir, "processing_results.jsonl")
}

func (c *Config) CSVPath() string {
	return filepath.Join(c.Paths.ResultsDir, "communicating_results.csv")
}

func (c *Config) PlotPath() string {
	return filepath.Join(c.Paths.ResultsDir, "processed_data_plot.png")
}

func (c *Config) HealthReportPath() string {
	return filepath.Join(c.Paths.ResultsDir, "health_report.png")
}

func (c *Config) DataReadyFlagPath() string {
	return filepath.Join(c.Paths.FlagDir, "data_ready")
}

func (c *Config) ResultsReadyFlagPath() string {
	return filepath.Join(c.Paths.FlagDir, "results_ready")
}

func (c *Config) ConfigSnapshotPath() string {
	return filepath.Join(c.Paths.DataDir, "phorest.toml")
}
