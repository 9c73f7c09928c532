package client

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(opts Options, remote *RemoteConfig) *Scheduler {
	return NewScheduler(nil, &Runner{Timeout: 5 * time.Second}, nil, opts, remote)
}

func remoteWith(teams ...string) *RemoteConfig {
	return &RemoteConfig{
		FlagFormat:   "[A-Z0-9]{5}=",
		FlagLifetime: 5,
		TickDuration: 120,
		Teams:        teams,
	}
}

func TestShouldSkipAlwaysRetry(t *testing.T) {
	s := newTestScheduler(Options{AlwaysRetry: true, FailureThreshold: 0}, remoteWith("t1"))
	s.failures["t1"] = 100
	assert.False(t, s.shouldSkip("t1"))
}

func TestShouldSkipDraw(t *testing.T) {
	s := newTestScheduler(Options{FailureThreshold: 4}, remoteWith("t1"))
	s.failures["t1"] = 10

	var sawN int
	s.randInt = func(n int) int { sawN = n; return 5 }
	assert.True(t, s.shouldSkip("t1"))
	// The draw covers [0, failures].
	assert.Equal(t, 11, sawN)

	s.randInt = func(n int) int { return 4 }
	assert.False(t, s.shouldSkip("t1"))
}

func TestShouldSkipNeverSuppressesHealthyTeam(t *testing.T) {
	s := newTestScheduler(Options{FailureThreshold: 4}, remoteWith("t1"))
	// failures = 0: the only possible draw is 0, never above the
	// threshold.
	s.randInt = func(n int) int { return n - 1 }
	assert.False(t, s.shouldSkip("t1"))
}

func TestRecordSuccessClampsThenDecrements(t *testing.T) {
	s := newTestScheduler(Options{FailureThreshold: 4, MaxFailures: 12}, remoteWith("t1"))

	// Way above the threshold: one success clamps back to it.
	s.failures["t1"] = 10
	s.recordSuccess("t1")
	assert.Equal(t, 4, s.failures["t1"])

	// At or below: step down by one.
	s.recordSuccess("t1")
	assert.Equal(t, 3, s.failures["t1"])

	// Already clean: stays at zero.
	s.failures["t1"] = 0
	s.recordSuccess("t1")
	assert.Equal(t, 0, s.failures["t1"])
}

func TestRecordFailureCapped(t *testing.T) {
	s := newTestScheduler(Options{FailureThreshold: 4, MaxFailures: 12}, remoteWith("t1"))
	for i := 0; i < 50; i++ {
		s.recordFailure("t1")
	}
	assert.Equal(t, 12, s.failures["t1"])
}

func TestApplyRemotePreservesCounters(t *testing.T) {
	s := newTestScheduler(Options{FailureThreshold: 4}, remoteWith("t1", "t2"))
	s.failures["t1"] = 7

	s.applyRemote(remoteWith("t1", "t3"))

	assert.Equal(t, []string{"t1", "t3"}, s.teams)
	assert.Equal(t, 7, s.failures["t1"])
	assert.Equal(t, 0, s.failures["t3"])
	assert.Equal(t, 60*time.Second, s.deadline)
}

func TestRecomputeWorkers(t *testing.T) {
	s := newTestScheduler(Options{}, remoteWith("a", "b", "c", "d"))
	s.nWorkers = 2
	s.deadline = 60 * time.Second

	// 4 teams over 2 workers in 10s: 5s per team, 20s of serial work,
	// one worker fits that into a 60s deadline.
	assert.Equal(t, 1, s.recomputeWorkers(10*time.Second))

	// The same wave against a 10s deadline needs 2 serial seconds per
	// team's worth of parallelism; result is clamped to the host CPUs.
	s.deadline = 10 * time.Second
	n := s.recomputeWorkers(60 * time.Second)
	assert.GreaterOrEqual(t, n, 1)
	assert.LessOrEqual(t, n, runtime.NumCPU())
}

func TestRecomputeWorkersNoTeams(t *testing.T) {
	s := newTestScheduler(Options{}, remoteWith())
	assert.Equal(t, 1, s.recomputeWorkers(10*time.Second))
}

// writeScript drops an executable shell script into a temp dir.
func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sploit.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+content+"\n"), 0o755))
	return path
}

func TestRunWaveMergesOutcomes(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	script := writeScript(t, `case "$1" in
good) echo "AAAAA=" ;;
dead) exit 1 ;;
quiet) ;;
esac`)

	runner := &Runner{
		ExploitPath: script,
		Timeout:     5 * time.Second,
		FlagRegexp:  regexp.MustCompile(`[A-Z0-9]{5}=`),
	}
	s := NewScheduler(nil, runner, nil,
		Options{FailureThreshold: 4, MaxFailures: 12, AlwaysRetry: true},
		remoteWith("good", "dead", "quiet"))

	fails, tokens := s.runWave(context.Background())

	require.Len(t, tokens, 1)
	assert.Equal(t, "AAAAA=", tokens[0].Flag)
	// The crash and the silent run both count toward the wave tally.
	assert.Equal(t, 2, fails)
	// Only the crash moves the filter counter.
	assert.Equal(t, 0, s.failures["good"])
	assert.Equal(t, 1, s.failures["dead"])
	assert.Equal(t, 0, s.failures["quiet"])
}

func TestRunWaveSkippedTeamCountsAsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	script := writeScript(t, `echo "AAAAA="`)
	runner := &Runner{
		ExploitPath: script,
		Timeout:     5 * time.Second,
		FlagRegexp:  regexp.MustCompile(`[A-Z0-9]{5}=`),
	}
	s := NewScheduler(nil, runner, nil,
		Options{FailureThreshold: 4, MaxFailures: 12},
		remoteWith("suppressed"))
	s.failures["suppressed"] = 12
	s.randInt = func(n int) int { return n - 1 } // always draw the max

	fails, tokens := s.runWave(context.Background())
	assert.Empty(t, tokens)
	assert.Equal(t, 1, fails)
}
