package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "scenecast.cfg.json"

// TransportConfig holds the producer connection settings.
type TransportConfig struct {
	URL       string `json:"url" mapstructure:"url"`
	Reconnect bool   `json:"reconnect" mapstructure:"reconnect"`
	// LogFile, when set, records every inbound message for later replay.
	LogFile string `json:"logFile" mapstructure:"logFile"`
}

// ViewerConfig holds output size and loop rate.
type ViewerConfig struct {
	Width    int `json:"width" mapstructure:"width"`
	Height   int `json:"height" mapstructure:"height"`
	TickRate int `json:"tickRate" mapstructure:"tickRate"`
}

// RecordingConfig holds animation export settings.
type RecordingConfig struct {
	OutputDir  string `json:"outputDir" mapstructure:"outputDir"`
	Format     string `json:"format" mapstructure:"format"`
	FrameRate  int    `json:"frameRate" mapstructure:"frameRate"`
	FFmpegPath string `json:"ffmpegPath" mapstructure:"ffmpegPath"`
	// MaxFrames bounds the frames held for one video. Zero means unbounded.
	MaxFrames int `json:"maxFrames" mapstructure:"maxFrames"`
}

// ExportConfig holds scene export and upload settings.
type ExportConfig struct {
	CompressScene bool   `json:"compressScene" mapstructure:"compressScene"`
	UploadURL     string `json:"uploadUrl" mapstructure:"uploadUrl"`
	APIKey        string `json:"apiKey" mapstructure:"apiKey"`
}

// OTelConfig holds OpenTelemetry metrics settings.
type OTelConfig struct {
	Enabled        bool
	ServiceName    string
	ExportInterval time.Duration
}

// InfluxConfig holds the InfluxDB telemetry settings.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// URL is the InfluxDB server address.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file.
func Load(configDir string) error {
	setDefaults()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("transport.url", "ws://127.0.0.1:7000")
	viper.SetDefault("transport.reconnect", true)
	viper.SetDefault("transport.logFile", "")

	viper.SetDefault("viewer.width", 1280)
	viper.SetDefault("viewer.height", 720)
	viper.SetDefault("viewer.tickRate", 60)

	viper.SetDefault("recording.outputDir", "./recordings")
	viper.SetDefault("recording.format", "mp4")
	viper.SetDefault("recording.frameRate", 30)
	viper.SetDefault("recording.ffmpegPath", "ffmpeg")
	viper.SetDefault("recording.maxFrames", 0)

	viper.SetDefault("export.compressScene", true)
	viper.SetDefault("export.uploadUrl", "")
	viper.SetDefault("export.apiKey", "")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "scenecast-metrics")
	viper.SetDefault("influx.bucket", "viewer_performance")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "scenecast")
	viper.SetDefault("otel.exportInterval", "30s")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetTransportConfig returns the transport section.
func GetTransportConfig() TransportConfig {
	return TransportConfig{
		URL:       viper.GetString("transport.url"),
		Reconnect: viper.GetBool("transport.reconnect"),
		LogFile:   viper.GetString("transport.logFile"),
	}
}

// GetViewerConfig returns the viewer section.
func GetViewerConfig() ViewerConfig {
	return ViewerConfig{
		Width:    viper.GetInt("viewer.width"),
		Height:   viper.GetInt("viewer.height"),
		TickRate: viper.GetInt("viewer.tickRate"),
	}
}

// GetRecordingConfig returns the recording section.
func GetRecordingConfig() RecordingConfig {
	return RecordingConfig{
		OutputDir:  viper.GetString("recording.outputDir"),
		Format:     viper.GetString("recording.format"),
		FrameRate:  viper.GetInt("recording.frameRate"),
		FFmpegPath: viper.GetString("recording.ffmpegPath"),
		MaxFrames:  viper.GetInt("recording.maxFrames"),
	}
}

// GetExportConfig returns the export section.
func GetExportConfig() ExportConfig {
	return ExportConfig{
		CompressScene: viper.GetBool("export.compressScene"),
		UploadURL:     viper.GetString("export.uploadUrl"),
		APIKey:        viper.GetString("export.apiKey"),
	}
}

// GetInfluxConfig returns the influx section.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Protocol: viper.GetString("influx.protocol"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetGraylogAddress returns the GELF address, or "" when disabled.
func GetGraylogAddress() string {
	if !viper.GetBool("graylog.enabled") {
		return ""
	}
	return viper.GetString("graylog.address")
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:        viper.GetBool("otel.enabled"),
		ServiceName:    viper.GetString("otel.serviceName"),
		ExportInterval: viper.GetDuration("otel.exportInterval"),
	}
}
