// Package submitter delivers flag batches to the upstream game system.
//
// Two adapters exist, selected by the system URL scheme: the ForcAD
// HTTP-JSON submitter for http:// and https://, and a line-oriented TCP
// submitter for tcp://. Both return a verdict per flag the game system
// explicitly answered; flags it stayed silent on remain PENDING and ride
// along in the next batch.
package submitter

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/h4ppyfarm/farm/internal/config"
	"github.com/h4ppyfarm/farm/internal/store"
)

// Submitter sends one batch and reports per-flag verdicts. An error (or
// an empty verdict list) means the whole batch stays PENDING and is
// retried by the worker.
type Submitter interface {
	Submit(batch []store.Flag) ([]store.Verdict, error)
}

// New builds the submitter matching the configured system type and URL
// scheme.
func New(cfg *config.Config) (Submitter, error) {
	u, err := url.Parse(cfg.SystemURL)
	if err != nil {
		return nil, fmt.Errorf("invalid system URL: %w", err)
	}
	timeout := time.Duration(cfg.SubmitTimeout) * time.Second

	switch u.Scheme {
	case "http", "https":
		if strings.ToLower(cfg.SystemType) != "forcad" {
			return nil, fmt.Errorf("unknown game system type %q", cfg.SystemType)
		}
		return newForcAD(cfg.SystemURL, cfg.TeamToken, timeout), nil
	case "tcp":
		return newLineTCP(u.Host, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported system URL scheme %q", u.Scheme)
	}
}
