package client

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"
)

// archNames maps Go's GOARCH spelling onto the uname-style names the
// artifact endpoints use.
var archNames = map[string]string{
	"amd64": "x86_64",
	"arm64": "aarch64",
}

// SyncHfi keeps a local copy of the hfi helper binary fresh: the
// server's artifact timestamp is compared against the local file's
// mtime and a download only happens when the server copy is newer. The
// local mtime is pinned to the server timestamp afterwards so the next
// comparison stays cheap.
func SyncHfi(ctx context.Context, c *Client, localPath string) error {
	logger := log.New(log.Writer(), "[HFI] ", log.LstdFlags)

	arch, ok := archNames[runtime.GOARCH]
	if !ok {
		return fmt.Errorf("no hfi build exists for %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	remoteTS, err := c.HfiTimestamp(ctx, runtime.GOOS, arch)
	if err != nil {
		return fmt.Errorf("could not fetch hfi timestamp: %w", err)
	}

	if info, err := os.Stat(localPath); err == nil && info.ModTime().Unix() >= remoteTS {
		logger.Printf("Local hfi binary is up to date")
		return nil
	}

	logger.Printf("Downloading hfi binary for %s/%s...", runtime.GOOS, arch)
	if err := c.DownloadHfi(ctx, runtime.GOOS, arch, localPath); err != nil {
		return fmt.Errorf("could not download hfi binary: %w", err)
	}
	mtime := time.Unix(remoteTS, 0)
	if err := os.Chtimes(localPath, mtime, mtime); err != nil {
		return err
	}
	logger.Printf("Saved hfi binary to %s", localPath)
	return nil
}
