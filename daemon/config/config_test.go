package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daemon.json")
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := New()
	assert.Check(t, is.Equal(cfg.ListenAddr, DefaultListenAddr))
	assert.Check(t, is.Equal(cfg.CatalogPath, DefaultCatalogPath))
	assert.Check(t, is.Equal(cfg.DefaultStore, DefaultStoreScheme))
	assert.Check(t, is.Equal(cfg.FilesystemDir, DefaultFilesystemDir))
	assert.Check(t, is.Equal(cfg.AdminRole, DefaultAdminRole))
	assert.Check(t, is.Equal(cfg.LogLevel, "info"))
	assert.NilError(t, cfg.Validate())
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"listen-addr": "0.0.0.0:9292",
		"delayed-delete": true,
		"scrub-time": 120,
		"s3": {"bucket": "images", "region": "us-east-1"}
	}`)

	cfg := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.InstallFlags(flags)
	assert.NilError(t, flags.Parse(nil))
	assert.NilError(t, cfg.Load(path, flags, true))

	assert.Check(t, is.Equal(cfg.ListenAddr, "0.0.0.0:9292"))
	assert.Check(t, cfg.DelayedDelete)
	assert.Check(t, is.Equal(cfg.ScrubTime, 120))
	assert.Check(t, is.Equal(cfg.S3.Bucket, "images"))
	// Untouched fields keep their defaults.
	assert.Check(t, is.Equal(cfg.CatalogPath, DefaultCatalogPath))
	assert.Check(t, is.Equal(cfg.ScrubGracePeriod(), 2*time.Minute))
}

func TestLoadFlagsWinOverFile(t *testing.T) {
	path := writeConfig(t, `{"listen-addr": "0.0.0.0:9292", "log-level": "warn"}`)

	cfg := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.InstallFlags(flags)
	assert.NilError(t, flags.Parse([]string{"--listen", "127.0.0.1:8000"}))
	assert.NilError(t, cfg.Load(path, flags, true))

	// The explicitly set flag beats the file; the file beats the default.
	assert.Check(t, is.Equal(cfg.ListenAddr, "127.0.0.1:8000"))
	assert.Check(t, is.Equal(cfg.LogLevel, "warn"))
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.json")
	cfg := New()

	// Only an error when the operator pointed at the file explicitly.
	assert.NilError(t, cfg.Load(missing, nil, false))
	assert.Check(t, cfg.Load(missing, nil, true) != nil)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `{"listen-addr": `)
	cfg := New()
	assert.Check(t, cfg.Load(path, nil, true) != nil)
}

func TestValidate(t *testing.T) {
	cfg := New()
	cfg.ListenAddr = ""
	assert.Check(t, cfg.Validate() != nil)

	cfg = New()
	cfg.MetadataEncryptionKey = "too-short"
	assert.Check(t, cfg.Validate() != nil)
	cfg.MetadataEncryptionKey = "0123456789abcdef"
	assert.NilError(t, cfg.Validate())

	cfg = New()
	cfg.ScrubTime = -1
	assert.Check(t, cfg.Validate() != nil)

	cfg = New()
	cfg.DefaultStore = "swift"
	assert.Check(t, cfg.Validate() != nil)

	cfg = New()
	cfg.ImageSizeCap = "notasize"
	assert.Check(t, cfg.Validate() != nil)
}

func TestParseImageSizeCap(t *testing.T) {
	cfg := New()
	n, err := cfg.ParseImageSizeCap()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(n, int64(0)))

	cfg.ImageSizeCap = "1gb"
	n, err = cfg.ParseImageSizeCap()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(n, int64(1<<30)))

	cfg.ImageSizeCap = "512"
	n, err = cfg.ParseImageSizeCap()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(n, int64(512)))
}

func TestCatalogRetryInterval(t *testing.T) {
	cfg := New()
	assert.Check(t, is.Equal(cfg.CatalogRetryInterval(), time.Second))
	cfg.CatalogRetrySeconds = 3
	assert.Check(t, is.Equal(cfg.CatalogRetryInterval(), 3*time.Second))
}
