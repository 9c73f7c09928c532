package submitter

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/h4ppyfarm/farm/internal/store"
)

const defaultLinePort = "1337"

// LineTCP submits flags over a line-oriented TCP protocol: one flag per
// line out, one response line per flag back. A response line is either a
// bare message or "<flag> <message>"; the literal message "OK" means
// accepted, anything else rejected.
type LineTCP struct {
	addr    string
	timeout time.Duration
	logger  *log.Logger
}

func newLineTCP(host string, timeout time.Duration) *LineTCP {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, defaultLinePort)
	}
	return &LineTCP{
		addr:    host,
		timeout: timeout,
		logger:  log.New(log.Writer(), "[TCP] ", log.LstdFlags),
	}
}

// Submit writes the whole batch and then pairs response lines with flags
// by send order, unless a line starts with a flag from the batch, in
// which case it binds to that flag. If the server disconnects early, the
// verdicts received so far are returned.
func (l *LineTCP) Submit(batch []store.Flag) ([]store.Verdict, error) {
	deadline := time.Now().Add(l.timeout)

	conn, err := net.DialTimeout("tcp", l.addr, l.timeout)
	if err != nil {
		l.logger.Printf("Could not connect to game system: %v", err)
		return nil, fmt.Errorf("dialing %s: %w", l.addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(deadline)

	inBatch := make(map[string]bool, len(batch))
	for _, entry := range batch {
		inBatch[entry.Flag] = true
	}

	writer := bufio.NewWriter(conn)
	for _, entry := range batch {
		if _, err := writer.WriteString(entry.Flag + "\n"); err != nil {
			return nil, fmt.Errorf("writing flag: %w", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return nil, fmt.Errorf("flushing batch: %w", err)
	}

	verdicts := make([]store.Verdict, 0, len(batch))
	reader := bufio.NewReader(conn)
	for i := 0; i < len(batch); i++ {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			verdicts = append(verdicts, l.parseLine(batch[i].Flag, line, inBatch))
		}
		if err != nil {
			// Early disconnect: report what we have, the rest of the
			// batch stays PENDING.
			l.logger.Printf("Game system closed after %d of %d verdicts: %v", len(verdicts), len(batch), err)
			break
		}
	}
	return verdicts, nil
}

func (l *LineTCP) parseLine(sendOrderFlag, line string, inBatch map[string]bool) store.Verdict {
	flag := sendOrderFlag
	message := line
	if first, rest, ok := strings.Cut(line, " "); ok && inBatch[first] {
		flag = first
		message = rest
	}
	if !utf8.ValidString(message) {
		return store.Verdict{Flag: flag, Status: store.StatusUnknown, Message: "Unknown message"}
	}
	status := store.StatusRejected
	if message == "OK" {
		status = store.StatusAccepted
	}
	return store.Verdict{Flag: flag, Status: status, Message: message}
}
