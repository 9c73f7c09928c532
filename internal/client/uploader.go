package client

import (
	"context"
	"log"
	"path/filepath"
	"strings"
)

// Uploader buffers captured tokens across waves and posts them to the
// ingest API. The buffer is only cleared on a confirmed 200, so a flaky
// server sees every token at least once; the store's first-wins insert
// makes the duplicates harmless.
type Uploader struct {
	client  *Client
	exploit string
	buffer  []Token
	logger  *log.Logger
}

func NewUploader(c *Client, exploitPath string) *Uploader {
	return &Uploader{
		client:  c,
		exploit: ExploitName(exploitPath),
		logger:  log.New(log.Writer(), "[UPLOAD] ", log.LstdFlags),
	}
}

// ExploitName is the exploit file's basename stripped of its first
// extension: "ropchain.py.bak" uploads as "ropchain".
func ExploitName(path string) string {
	name := filepath.Base(path)
	if i := strings.Index(name, "."); i > 0 {
		name = name[:i]
	}
	return name
}

// Push appends a wave's tokens to the buffer.
func (u *Uploader) Push(tokens []Token) {
	u.buffer = append(u.buffer, tokens...)
}

// Flush uploads the whole buffer and clears it on success. On any
// failure the buffer is retained for the next wave.
func (u *Uploader) Flush(ctx context.Context) bool {
	if len(u.buffer) == 0 {
		return true
	}
	if err := u.client.SendFlags(ctx, u.exploit, u.buffer); err != nil {
		u.logger.Printf("Could not send flags, I will send them later: %v", err)
		return false
	}
	u.buffer = u.buffer[:0]
	return true
}

// Pending reports how many tokens are waiting for a successful upload.
func (u *Uploader) Pending() int {
	return len(u.buffer)
}
