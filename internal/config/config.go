package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SourceDirectory = "directory"
	SourceIMAP      = "imap"
)

type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return errors.New("invalid duration")
	}
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.New("invalid duration")
	}
	if value.Tag == "!!int" {
		var n int64
		if err := value.Decode(&n); err != nil {
			return err
		}
		d.Duration = time.Duration(n)
		return nil
	}
	var err error
	d.Duration, err = time.ParseDuration(value.Value)
	return err
}

type Configuration struct {
	Source          string       `json:"source" yaml:"source" validate:"required,oneof=directory imap"`
	Directory       string       `json:"directory" yaml:"directory" validate:"required_if=Source directory"`
	RemoveArchives  bool         `json:"removeArchives" yaml:"removeArchives"`
	Workers         int          `json:"workers" yaml:"workers" validate:"gte=0"`
	Format          string       `json:"format" yaml:"format" validate:"required,oneof=table json xml"`
	ShowAll         bool         `json:"showAll" yaml:"showAll"`
	ShowDetails     bool         `json:"showDetails" yaml:"showDetails"`
	NoColor         bool         `json:"noColor" yaml:"noColor"`
	Resolve         bool         `json:"resolve" yaml:"resolve"`
	DnsServer       string       `json:"dnsServer" yaml:"dnsServer" validate:"omitempty,hostname_port"`
	DnsTimeout      Duration     `json:"dnsTimeout" yaml:"dnsTimeout"`
	DnsCacheTimeout Duration     `json:"dnsCacheTimeout" yaml:"dnsCacheTimeout"`
	GeoIPCountryDB  string       `json:"geoipCountryDB" yaml:"geoipCountryDB" validate:"omitempty,file"`
	GeoIPASNDB      string       `json:"geoipASNDB" yaml:"geoipASNDB" validate:"omitempty,file"`
	MetricsFile     string       `json:"metricsFile" yaml:"metricsFile"`
	Syslog          SyslogConfig `json:"syslog" yaml:"syslog"`
	ImapConfig      IMAPConfig   `json:"imap" yaml:"imap" validate:"-"`
}

type SyslogConfig struct {
	Server        string `json:"server" yaml:"server" validate:"omitempty,hostname_port"`
	Protocol      string `json:"protocol" yaml:"protocol" validate:"omitempty,oneof=tcp udp"`
	Tag           string `json:"tag" yaml:"tag"`
	Format        string `json:"format" yaml:"format" validate:"omitempty,oneof=json xml"`
	EventID       string `json:"eventID" yaml:"eventID"`
	EventCategory string `json:"eventCategory" yaml:"eventCategory"`
}

// Enabled reports whether evaluated records should be forwarded to syslog.
func (s SyslogConfig) Enabled() bool {
	return s.Server != ""
}

type IMAPConfig struct {
	Host       string   `json:"host" yaml:"host" validate:"required,hostname_port"`
	SSL        bool     `json:"ssl" yaml:"ssl"`
	User       string   `json:"user" yaml:"user" validate:"required"`
	Pass       string   `json:"pass" yaml:"pass" validate:"required"`
	Folder     string   `json:"folder" yaml:"folder" validate:"required"`
	IgnoreCert bool     `json:"ignoreCert" yaml:"ignoreCert"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
	BatchSize  int      `json:"batchSize" yaml:"batchSize" validate:"gte=1"`
	Delete     bool     `json:"delete" yaml:"delete"`
}

// GetConfig reads the config file f over the supplied defaults. JSON and
// YAML files are supported, chosen by file extension. The result is not
// validated, call Validate once all overrides are applied.
func GetConfig(defaults Configuration, f string) (*Configuration, error) {
	if f == "" {
		return nil, fmt.Errorf("please provide a valid config file")
	}

	b, err := os.ReadFile(f) // nolint: gosec
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(f)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &defaults); err != nil {
			return nil, fmt.Errorf("could not parse yaml: %w", err)
		}
	default:
		reader := bytes.NewReader(b)
		decoder := json.NewDecoder(reader)
		if err = decoder.Decode(&defaults); err != nil {
			return nil, err
		}
	}

	return &defaults, nil
}

// Validate checks the configuration. IMAP settings are only checked when
// the IMAP source is selected.
func Validate(c *Configuration) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Source == SourceIMAP {
		if err := validate.Struct(c.ImapConfig); err != nil {
			return fmt.Errorf("invalid imap configuration: %w", err)
		}
	}
	return nil
}

// environment variables overriding config values
const (
	envDirectory = "DMARC_DIR"
	envIMAPHost  = "DMARC_IMAP_HOST"
	envIMAPUser  = "DMARC_IMAP_USER"
	envIMAPPass  = "DMARC_IMAP_PASS"
)

// LoadEnv applies environment overrides to c. Values are read from the
// given .env files first, real environment variables take precedence.
// Missing .env files are ignored.
func LoadEnv(c *Configuration, files ...string) error {
	values := make(map[string]string)
	for _, f := range files {
		m, err := godotenv.Read(f)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("could not read %s: %w", f, err)
		}
		for k, v := range m {
			values[k] = v
		}
	}
	applyEnv(c, func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := values[key]
		return v, ok
	})
	return nil
}

func applyEnv(c *Configuration, lookup func(string) (string, bool)) {
	if v, ok := lookup(envDirectory); ok && v != "" {
		c.Directory = v
	}
	if v, ok := lookup(envIMAPHost); ok && v != "" {
		c.ImapConfig.Host = v
	}
	if v, ok := lookup(envIMAPUser); ok && v != "" {
		c.ImapConfig.User = v
	}
	if v, ok := lookup(envIMAPPass); ok && v != "" {
		c.ImapConfig.Pass = v
	}
}
