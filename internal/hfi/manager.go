// Package hfi builds and caches the host-faking interceptor helper
// binary served to clients. The helper itself is a separate Rust
// project; this package only drives its build and tracks artifact
// freshness by modification time.
package hfi

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// targets maps requested os/arch pairs onto Rust target triples.
// Unsupported pairs are a NotFound at the API layer.
var targets = map[string]map[string]string{
	"linux": {
		"x86_64":  "x86_64-unknown-linux-gnu",
		"aarch64": "aarch64-unknown-linux-gnu",
	},
}

// ErrUnsupported marks an os/arch pair with no target triple.
var ErrUnsupported = fmt.Errorf("unsupported platform")

// Manager resolves helper binaries for os/arch pairs, rebuilding from
// source whenever the cached artifact is missing or older than the
// source tree.
type Manager struct {
	source string
	cache  string
	logger *log.Logger
}

func NewManager(source, cache string) *Manager {
	return &Manager{
		source: source,
		cache:  cache,
		logger: log.New(log.Writer(), "[HFI] ", log.LstdFlags),
	}
}

// BinaryPath returns the path of a fresh helper binary for the platform,
// building it first when needed.
func (m *Manager) BinaryPath(reqOS, reqArch string) (string, error) {
	triple, err := m.targetTriple(reqOS, reqArch)
	if err != nil {
		return "", err
	}

	binPath := filepath.Join(m.cache, fmt.Sprintf("hfi-%s-%s", reqOS, reqArch))
	if reqOS == "windows" {
		binPath += ".exe"
	}

	srcInfo, err := os.Stat(m.source)
	if err != nil {
		return "", fmt.Errorf("cannot access hfi source path: %w", err)
	}

	binInfo, err := os.Stat(binPath)
	if err != nil || binInfo.ModTime().Before(srcInfo.ModTime()) {
		if err := m.build(triple, binPath); err != nil {
			return "", err
		}
	}
	if _, err := os.Stat(binPath); err != nil {
		return "", fmt.Errorf("no hfi build for %s/%s: %w", reqOS, reqArch, err)
	}
	m.logger.Printf("Found hfi build for %s/%s", reqOS, reqArch)
	return binPath, nil
}

// Timestamp returns the modification time of the helper binary in unix
// seconds. Clients compare it against their local copy to skip
// re-downloads.
func (m *Manager) Timestamp(reqOS, reqArch string) (int64, error) {
	path, err := m.BinaryPath(reqOS, reqArch)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat hfi binary: %w", err)
	}
	return info.ModTime().Unix(), nil
}

func (m *Manager) targetTriple(reqOS, reqArch string) (string, error) {
	if perOS, ok := targets[reqOS]; ok {
		if triple, ok := perOS[reqArch]; ok {
			return triple, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupported, reqOS, reqArch)
}

// build runs cargo for the target triple and moves the artifact into the
// cache. The move lands the binary atomically from the readers'
// perspective: rename within the same filesystem, copy-then-rename
// otherwise.
func (m *Manager) build(triple, binPath string) error {
	m.logger.Printf("Building hfi for target %s", triple)
	cmd := exec.Command("cargo", "build", "--release", "--target", triple)
	cmd.Dir = m.source
	if out, err := cmd.CombinedOutput(); err != nil {
		m.logger.Printf("Could not compile hfi for triple %s", triple)
		for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
			m.logger.Print(line)
		}
		return fmt.Errorf("cargo build for %s: %w", triple, err)
	}

	if err := os.MkdirAll(m.cache, 0o755); err != nil {
		return fmt.Errorf("creating hfi cache: %w", err)
	}
	artifact := filepath.Join(m.source, "target", triple, "release", "hfi")
	if err := moveFile(artifact, binPath); err != nil {
		return fmt.Errorf("installing hfi artifact: %w", err)
	}
	return nil
}

func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename across filesystems fails; copy to a temp file next to the
	// destination and rename that instead.
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o755); err != nil {
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
