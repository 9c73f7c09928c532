package submitter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/h4ppyfarm/farm/internal/config"
)

func TestNewSelectsAdapter(t *testing.T) {
	cfg := &config.Config{
		SystemType:    "forcad",
		SystemURL:     "http://10.10.10.10/flags",
		TeamToken:     "tok",
		SubmitTimeout: 10,
	}
	sub, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &ForcAD{}, sub)

	cfg.SystemURL = "tcp://10.10.10.10:31337"
	sub, err = New(cfg)
	require.NoError(t, err)
	tcp, ok := sub.(*LineTCP)
	require.True(t, ok)
	assert.Equal(t, "10.10.10.10:31337", tcp.addr)
}

func TestNewRejectsUnknownSystemType(t *testing.T) {
	cfg := &config.Config{
		SystemType:    "ructf",
		SystemURL:     "http://10.10.10.10/flags",
		SubmitTimeout: 10,
	}
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestNewRejectsUnknownScheme(t *testing.T) {
	cfg := &config.Config{
		SystemType:    "forcad",
		SystemURL:     "udp://10.10.10.10",
		SubmitTimeout: 10,
	}
	_, err := New(cfg)
	assert.Error(t, err)
}
