package submitter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/h4ppyfarm/farm/internal/store"
)

// forcadStatusMap translates ForcAD response statuses to flag statuses.
// Anything not listed maps to UNKNOWN.
var forcadStatusMap = map[string]int{
	"ACCEPTED": store.StatusAccepted,
	"DENIED":   store.StatusRejected,
	"RESUBMIT": store.StatusRejected,
	"ERROR":    store.StatusRejected,
}

// ForcAD submits flags over the ForcAD HTTP-JSON protocol: a PUT with a
// JSON array of flag strings, authenticated by the X-Team-Token header.
type ForcAD struct {
	url    string
	token  string
	client *http.Client
	logger *log.Logger
}

func newForcAD(url, token string, timeout time.Duration) *ForcAD {
	return &ForcAD{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		logger: log.New(log.Writer(), "[FORCAD] ", log.LstdFlags),
	}
}

// forcadResult is one object of the game system's response. Some ForcAD
// forks spell the message field "message" instead of "msg".
type forcadResult struct {
	Flag    string `json:"flag"`
	Status  string `json:"status"`
	Msg     string `json:"msg"`
	Message string `json:"message"`
}

// Submit sends the batch and maps the response onto verdicts by flag
// string. Network errors and malformed responses are logged and yield no
// verdicts; the worker retries the batch next cycle.
func (f *ForcAD) Submit(batch []store.Flag) ([]store.Verdict, error) {
	inBatch := make(map[string]bool, len(batch))
	flags := make([]string, 0, len(batch))
	for _, entry := range batch {
		inBatch[entry.Flag] = true
		flags = append(flags, entry.Flag)
	}

	body, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	req, err := http.NewRequest(http.MethodPut, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Team-Token", f.token)

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Printf("Could not reach game system: %v", err)
		return nil, fmt.Errorf("sending batch: %w", err)
	}
	defer resp.Body.Close()

	results, err := decodeForcADResponse(resp)
	if err != nil {
		f.logger.Printf("Invalid system response: %v", err)
		return nil, err
	}

	verdicts := make([]store.Verdict, 0, len(results))
	for _, res := range results {
		// Objects without a flag field, or mentioning flags outside the
		// batch, carry no usable verdict.
		if res.Flag == "" || !inBatch[res.Flag] {
			continue
		}
		status, ok := forcadStatusMap[res.Status]
		if !ok {
			status = store.StatusUnknown
		}
		verdicts = append(verdicts, store.Verdict{
			Flag:    res.Flag,
			Status:  status,
			Message: stripFlagPrefix(res.message()),
		})
	}
	return verdicts, nil
}

func (r forcadResult) message() string {
	if r.Msg != "" {
		return r.Msg
	}
	if r.Message != "" {
		return r.Message
	}
	return "Unknown message"
}

// decodeForcADResponse accepts either a JSON array of result objects or
// a single object, which is wrapped into a one-element list.
func decodeForcADResponse(resp *http.Response) ([]forcadResult, error) {
	dec := json.NewDecoder(resp.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding system response: %w", err)
	}

	var results []forcadResult
	if err := json.Unmarshal(raw, &results); err == nil {
		return results, nil
	}
	var single forcadResult
	if err := json.Unmarshal(raw, &single); err == nil {
		return []forcadResult{single}, nil
	}
	return nil, fmt.Errorf("unexpected response shape")
}

// stripFlagPrefix removes the "[<flag>] " prefix ForcAD embeds in its
// messages, so the store does not keep a copy of every flag inside its
// own message column.
func stripFlagPrefix(msg string) string {
	if _, rest, ok := strings.Cut(msg, "] "); ok {
		return rest
	}
	return msg
}
