package config

import (
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaults() Configuration {
	return Configuration{
		Source: SourceDirectory,
		Format: "table",
		DnsTimeout: Duration{
			Duration: 10 * time.Second,
		},
		Syslog: SyslogConfig{
			Protocol: "udp",
			Format:   "json",
		},
		ImapConfig: IMAPConfig{
			Folder:    "INBOX",
			BatchSize: 30,
		},
	}
}

func TestGetConfig(t *testing.T) {
	t.Parallel()

	c, err := GetConfig(defaults(), path.Join("..", "..", "testdata", "test.json"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, SourceDirectory, c.Source)
	assert.Equal(t, "reports", c.Directory)
	assert.True(t, c.Resolve)
	assert.Equal(t, "9.9.9.9:53", c.DnsServer)
	assert.Equal(t, 5*time.Second, c.DnsTimeout.Duration)
	assert.Equal(t, time.Hour, c.DnsCacheTimeout.Duration)
	assert.True(t, c.Syslog.Enabled())
	assert.Equal(t, "tcp", c.Syslog.Protocol)
	// untouched defaults survive
	assert.Equal(t, "json", c.Syslog.Format)
	assert.Equal(t, 30, c.ImapConfig.BatchSize)
}

func TestGetConfigYAML(t *testing.T) {
	t.Parallel()

	c, err := GetConfig(defaults(), path.Join("..", "..", "testdata", "test.yaml"))
	require.NoError(t, err)
	assert.Equal(t, SourceIMAP, c.Source)
	assert.Equal(t, "json", c.Format)
	assert.True(t, c.ShowAll)
	assert.Equal(t, 2*time.Second, c.DnsTimeout.Duration)
	assert.Equal(t, "imap.example.com:993", c.ImapConfig.Host)
	assert.Equal(t, "INBOX/DMARC", c.ImapConfig.Folder)
	assert.Equal(t, 30*time.Second, c.ImapConfig.Timeout.Duration)
	assert.Equal(t, 10, c.ImapConfig.BatchSize)
	assert.False(t, c.Syslog.Enabled())
}

func TestGetConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := GetConfig(defaults(), "")
	assert.Error(t, err)
	_, err = GetConfig(defaults(), "this_does_not_exist")
	assert.Error(t, err)
}

func TestGetConfigInvalid(t *testing.T) {
	t.Parallel()

	// reading succeeds, the settings are rejected by Validate
	c, err := GetConfig(defaults(), path.Join("..", "..", "testdata", "invalid.json"))
	require.NoError(t, err)
	assert.Error(t, Validate(c))

	c, err = GetConfig(defaults(), path.Join("..", "..", "testdata", "invalid_imap.yaml"))
	require.NoError(t, err)
	err = Validate(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imap")
}

func TestIMAPCredentialsFromEnvFile(t *testing.T) {
	t.Parallel()

	if _, ok := os.LookupEnv(envIMAPUser); ok {
		t.Skipf("%s is set in the environment", envIMAPUser)
	}
	if _, ok := os.LookupEnv(envIMAPPass); ok {
		t.Skipf("%s is set in the environment", envIMAPPass)
	}
	c, err := GetConfig(defaults(), path.Join("..", "..", "testdata", "imap_nocreds.yaml"))
	require.NoError(t, err)
	require.Error(t, Validate(c))

	require.NoError(t, LoadEnv(c, path.Join("..", "..", "testdata", "imap.env")))
	require.NoError(t, Validate(c))
	assert.Equal(t, "reports@example.com", c.ImapConfig.User)
	assert.Equal(t, "from-dotenv", c.ImapConfig.Pass)
	assert.Equal(t, "imap.example.com:993", c.ImapConfig.Host)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	c := defaults()
	c.Directory = "reports"
	require.NoError(t, Validate(&c))

	c.Directory = ""
	assert.Error(t, Validate(&c))

	// imap settings are only checked for the imap source
	c = defaults()
	c.Directory = "reports"
	c.ImapConfig.BatchSize = 0
	require.NoError(t, Validate(&c))
	c.Source = SourceIMAP
	assert.Error(t, Validate(&c))
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		envDirectory: "/data/reports",
		envIMAPUser:  "user@example.com",
		envIMAPPass:  "",
	}
	c := defaults()
	c.ImapConfig.Pass = "from-file"
	applyEnv(&c, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	assert.Equal(t, "/data/reports", c.Directory)
	assert.Equal(t, "user@example.com", c.ImapConfig.User)
	assert.Equal(t, "from-file", c.ImapConfig.Pass)
	assert.Empty(t, c.ImapConfig.Host)
}

func TestLoadEnvMissingFile(t *testing.T) {
	t.Parallel()

	c := defaults()
	require.NoError(t, LoadEnv(&c, path.Join("..", "..", "testdata", "missing.env")))
}

func TestLoadEnvFile(t *testing.T) {
	t.Parallel()

	if _, ok := os.LookupEnv(envDirectory); ok {
		t.Skipf("%s is set in the environment", envDirectory)
	}
	if _, ok := os.LookupEnv(envIMAPPass); ok {
		t.Skipf("%s is set in the environment", envIMAPPass)
	}
	c := defaults()
	require.NoError(t, LoadEnv(&c, path.Join("..", "..", "testdata", "test.env")))
	assert.Equal(t, "/var/lib/dmarc", c.Directory)
	assert.Equal(t, "from-dotenv", c.ImapConfig.Pass)
}

func TestDurationJSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Duration)
	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.Duration)
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))

	b, err := Duration{Duration: 2 * time.Second}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(b))
}
