package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/openstack/glance-sub003/daemon/config"
)

func TestLifecycleSubcommands(t *testing.T) {
	cmd := newScrubberCommand()
	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "restart"} {
		assert.Check(t, names[want], "missing %s subcommand", want)
	}
}

func TestStopRequiresPidfile(t *testing.T) {
	cfg := config.New()
	cfg.Pidfile = ""
	assert.Check(t, is.ErrorContains(stopScrubber(cfg), "pidfile"))
}

func TestStopWithoutRunningDaemon(t *testing.T) {
	cfg := config.New()
	cfg.Pidfile = filepath.Join(t.TempDir(), "scrubber.pid")

	// Nothing was ever started.
	assert.Check(t, stopScrubber(cfg) != nil)

	// A stale pidfile naming no live process.
	assert.NilError(t, os.WriteFile(cfg.Pidfile, []byte("not-a-pid"), 0o644))
	assert.Check(t, is.ErrorContains(stopScrubber(cfg), "no running scrubber"))
}

func TestWaitForExitToleratesStalePidfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scrubber.pid")

	// Missing file means the daemon already cleaned up after itself.
	assert.NilError(t, waitForExit(path, time.Second))

	// Unparseable leftovers count as exited too.
	assert.NilError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	assert.NilError(t, waitForExit(path, time.Second))
}
