package track_archiver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"

	"github.com/alanbriolat/track-archiver/asset"
	"github.com/alanbriolat/track-archiver/download"
	"github.com/alanbriolat/track-archiver/util"
)

const (
	AppName                 = "track-archiver"
	DefaultFileNameTemplate = "{{.ID}}.{{.Ext}}"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the application configuration, read from a TOML file. Zero values mean "use the default".
type Config struct {
	// BasePath is the folder that relative download folders are resolved against.
	BasePath string `toml:"base_path"`
	// FileNameTemplate is a text/template for naming downloads when no file name is given. It is executed with
	// FileNameArgs.
	FileNameTemplate string `toml:"file_name_template"`
	HistoryPath      string `toml:"history_path"`
	// ProgressIntervalMS throttles progress events per download.
	ProgressIntervalMS int `toml:"progress_interval_ms"`
	// HTTPTimeout in seconds, applied to each HTTP request as a whole. 0 means no timeout.
	HTTPTimeout   int   `toml:"http_timeout"`
	MaxCoverBytes int64 `toml:"max_cover_bytes"`

	fileNameTemplate *template.Template
}

// FileNameArgs is what FileNameTemplate has access to.
type FileNameArgs struct {
	ID    string
	Ext   string
	Codec string
	Tags  map[string]string
}

// DefaultConfigPath is where LoadConfig looks if not given a path, e.g. ~/.config/track-archiver/config.toml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.toml")
}

func DefaultConfig() Config {
	return Config{
		BasePath:           filepath.Join(xdg.UserDirs.Music, AppName),
		FileNameTemplate:   DefaultFileNameTemplate,
		HistoryPath:        filepath.Join(xdg.DataHome, AppName, "history.db"),
		ProgressIntervalMS: int(download.DefaultProgressInterval / time.Millisecond),
	}
}

// LoadConfig reads the config file at path over the defaults. A missing file is not an error when path is the
// default path.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %v: %w", path, err)
		}
	} else if explicit || !os.IsNotExist(err) {
		return nil, fmt.Errorf("open config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.BasePath) == "" {
		c.BasePath = defaults.BasePath
	}
	if strings.TrimSpace(c.HistoryPath) == "" {
		c.HistoryPath = defaults.HistoryPath
	}
	if strings.TrimSpace(c.FileNameTemplate) == "" {
		c.FileNameTemplate = defaults.FileNameTemplate
	}
	if c.ProgressIntervalMS < 0 {
		return fmt.Errorf("%w: progress_interval_ms must not be negative", ErrInvalidConfig)
	}
	if c.HTTPTimeout < 0 {
		return fmt.Errorf("%w: http_timeout must not be negative", ErrInvalidConfig)
	}
	if c.MaxCoverBytes < 0 {
		return fmt.Errorf("%w: max_cover_bytes must not be negative", ErrInvalidConfig)
	}
	tmpl, err := template.New("file_name").Option("missingkey=zero").Parse(c.FileNameTemplate)
	if err != nil {
		return fmt.Errorf("%w: file_name_template: %v", ErrInvalidConfig, err)
	}
	c.fileNameTemplate = tmpl
	return nil
}

func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

func (c *Config) HTTPTimeoutDuration() time.Duration {
	return time.Duration(c.HTTPTimeout) * time.Second
}

// FileName renders the file name template for desc. The result is sanitized so it can't escape its folder.
func (c *Config) FileName(desc asset.Descriptor, tags map[string]string) (string, error) {
	if c.fileNameTemplate == nil {
		if err := c.normalize(); err != nil {
			return "", err
		}
	}
	args := FileNameArgs{
		ID:    desc.ID,
		Ext:   desc.Ext(),
		Codec: desc.Codec,
		Tags:  tags,
	}
	builder := strings.Builder{}
	if err := c.fileNameTemplate.Execute(&builder, &args); err != nil {
		return "", err
	}
	name := strings.TrimSpace(builder.String())
	if name == "" || name == "."+args.Ext {
		return desc.DefaultFileName(), nil
	}
	return util.SanitizeFilename(name), nil
}

// FileNamer adapts FileName for use as download.Config.FileName.
func (c *Config) FileNamer() download.FileNamer {
	return func(desc asset.Descriptor, tagSpec *asset.TagSpec) (string, error) {
		var tags map[string]string
		if tagSpec != nil {
			tags = tagSpec.Tags
		}
		return c.FileName(desc, tags)
	}
}
