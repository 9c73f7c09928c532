package client

import (
	"context"
	"log"
	"math"
	"math/rand"
	"regexp"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// Options are the client CLI knobs for the wave loop.
type Options struct {
	Timeout          time.Duration
	FailureThreshold int
	MaxFailures      int
	AlwaysRetry      bool
}

// Scheduler drives the exploit against every team once per wave, sized
// so a wave fits in half a tick. Per-team failure counters give
// chronically dead targets a geometric back-off while still retrying
// them occasionally.
type Scheduler struct {
	client   *Client
	runner   *Runner
	uploader *Uploader
	opts     Options

	teams    []string
	failures map[string]int
	wave     int
	nWorkers int
	deadline time.Duration

	logger *log.Logger
	// randInt is rand.Intn, injectable for tests.
	randInt func(n int) int
}

func NewScheduler(c *Client, r *Runner, u *Uploader, opts Options, remote *RemoteConfig) *Scheduler {
	s := &Scheduler{
		client:   c,
		runner:   r,
		uploader: u,
		opts:     opts,
		failures: map[string]int{},
		wave:     1,
		nWorkers: runtime.NumCPU(),
		logger:   log.New(log.Writer(), "", log.LstdFlags),
		randInt:  rand.Intn,
	}
	s.applyRemote(remote)
	return s
}

// applyRemote absorbs a (re)fetched server config: new teams start with
// a clean failure counter, the flag pattern and tick-derived deadline
// are refreshed.
func (s *Scheduler) applyRemote(remote *RemoteConfig) {
	s.teams = remote.Teams
	for _, team := range s.teams {
		if _, ok := s.failures[team]; !ok {
			s.failures[team] = 0
		}
	}
	if re, err := regexp.Compile("(?m)" + remote.FlagFormat); err == nil {
		s.runner.FlagRegexp = re
	}
	s.deadline = time.Duration(remote.TickDuration) * time.Second / 2
}

func (s *Scheduler) wprintf(format string, args ...interface{}) {
	s.logger.Printf("[%03d] "+format, append([]interface{}{s.wave}, args...)...)
}

// Run executes waves until ctx is cancelled. Cancellation is honored at
// the next safe point: in-flight exploit subprocesses are reaped by
// their own timeouts, then the loop exits.
func (s *Scheduler) Run(ctx context.Context) {
	for ctx.Err() == nil {
		s.wprintf("Beginning new run...")
		start := time.Now()

		fails, tokens := s.runWave(ctx)
		s.wprintf("Run finished, got %d flags", len(tokens))
		s.wprintf("Exploit failed on %d teams", fails)
		if len(tokens) == 0 {
			s.wprintf("Got 0 flags, something's broken!")
		}

		s.uploader.Push(tokens)
		s.uploader.Flush(ctx)

		waveTime := time.Since(start)
		s.wprintf("Took %.2f seconds, recomputing parameters...", waveTime.Seconds())
		s.nWorkers = s.recomputeWorkers(waveTime)

		if wait := s.deadline - waveTime; wait > 0 {
			s.wprintf("Sleeping for %.2fs", wait.Seconds())
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		} else {
			s.wprintf("Your exploit is very slow! Speed it up!")
		}

		s.refreshConfig(ctx)
		s.wave++
	}
}

type teamResult struct {
	team    string
	tokens  []Token
	outcome Outcome
	ran     bool
}

// runWave dispatches the exploit to every non-suppressed team through a
// bounded worker pool and merges the results, updating failure counters
// single-threaded at the join point.
func (s *Scheduler) runWave(ctx context.Context) (fails int, tokens []Token) {
	results := make([]teamResult, len(s.teams))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.nWorkers)
	for i, team := range s.teams {
		results[i].team = team
		if s.shouldSkip(team) {
			s.wprintf("Not running exploit on %s (too many failures)", team)
			continue
		}
		i, team := i, team
		g.Go(func() error {
			runTokens, outcome := s.runner.Run(gctx, team)
			results[i].tokens = runTokens
			results[i].outcome = outcome
			results[i].ran = true
			return nil
		})
	}
	g.Wait()

	for _, res := range results {
		if !res.ran {
			fails++
			continue
		}
		switch res.outcome {
		case OutcomeFlags:
			s.wprintf("Got %d flags from team %s", len(res.tokens), res.team)
			s.recordSuccess(res.team)
			tokens = append(tokens, res.tokens...)
		case OutcomeNoFlags:
			// Soft event: exit 0 with no matches may just mean the team
			// patched, so the failure counter stays put.
			s.wprintf("Got no flags for team %s", res.team)
			fails++
		case OutcomeCrashed:
			s.wprintf("Exploit crashed on team %s!", res.team)
			s.recordFailure(res.team)
			fails++
		case OutcomeTimedOut:
			s.wprintf("Exploit timed-out on team %s!", res.team)
			s.recordFailure(res.team)
			fails++
		}
	}
	return fails, tokens
}

// shouldSkip draws a random value in [0, failures] and skips the team
// when it exceeds the threshold. The higher the counter, the likelier
// the skip, but every team keeps a nonzero chance of being retried.
func (s *Scheduler) shouldSkip(team string) bool {
	if s.opts.AlwaysRetry {
		return false
	}
	return s.randInt(s.failures[team]+1) > s.opts.FailureThreshold
}

func (s *Scheduler) recordFailure(team string) {
	if s.failures[team] < s.opts.MaxFailures {
		s.failures[team]++
	}
}

// recordSuccess walks the counter back: a chronically failing team is
// clamped to the threshold ("give it another chance") instead of
// resetting all the way, otherwise the counter steps down by one.
func (s *Scheduler) recordSuccess(team string) {
	switch {
	case s.failures[team] > s.opts.FailureThreshold:
		s.failures[team] = s.opts.FailureThreshold
	case s.failures[team] > 0:
		s.failures[team]--
	}
}

// recomputeWorkers resizes the pool so the next wave finishes inside the
// deadline, clamped to [1, NumCPU].
func (s *Scheduler) recomputeWorkers(waveTime time.Duration) int {
	teams := len(s.teams)
	if teams == 0 || s.nWorkers == 0 {
		return 1
	}
	waveSecs := math.Ceil(waveTime.Seconds())
	teamsPerWorker := math.Ceil(float64(teams) / float64(s.nWorkers))
	timePerTeam := waveSecs / teamsPerWorker
	n := int(math.Ceil(timePerTeam * float64(teams) / s.deadline.Seconds()))
	if n > runtime.NumCPU() {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	expected := timePerTeam * float64(teams) / float64(n)
	s.wprintf("teams_per_worker = %.0f, time_per_team = %.2fs, n_workers = %d, expected_time = %.2fs",
		teamsPerWorker, timePerTeam, n, expected)
	return n
}

func (s *Scheduler) refreshConfig(ctx context.Context) {
	remote, err := s.client.FetchConfig(ctx)
	if err != nil {
		s.wprintf("Could not retrieve configuration, continuing anyways... (%v)", err)
		return
	}
	s.applyRemote(remote)
}
