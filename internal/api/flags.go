package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/h4ppyfarm/farm/internal/metrics"
	"github.com/h4ppyfarm/farm/internal/store"
	"github.com/h4ppyfarm/farm/internal/timeutil"
)

// maxPageCount caps the paginated flag read.
const maxPageCount = 100

// maxFlagLen matches the flags.flag column width.
const maxFlagLen = 64

// ingestEntry is one element of an ingest request after shape
// normalization: either a bare string or {"flag": ..., "ts": ...}.
type ingestEntry struct {
	Flag string `json:"flag"`
	TS   *int64 `json:"ts"`
}

// handleIngest accepts a JSON string, object, or list of either, and
// stores the surviving entries under the exploit named in the path. A
// single malformed entry never fails the request: entries that don't
// parse, don't match the flag format, or are already expired are
// silently dropped.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	exploit := mux.Vars(r)["exploit"]

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		// Non-list payloads are wrapped into a one-element list.
		elements = []json.RawMessage{raw}
	}

	now := timeutil.Now()
	dropped := 0
	entries := make([]store.Incoming, 0, len(elements))
	for _, el := range elements {
		entry, ok := s.normalizeEntry(el, now)
		if !ok {
			dropped++
			continue
		}
		entries = append(entries, entry)
	}
	metrics.FlagsDropped.Add(float64(dropped))

	accepted, err := s.store.InsertMany(r.Context(), exploit, entries)
	if err != nil {
		s.logger.Printf("Could not store flags: %v", err)
		http.Error(w, "Storage failure", http.StatusInternalServerError)
		return
	}

	s.logger.Printf("Submitted %d flags for exploit %s", accepted, exploit)
	w.WriteHeader(http.StatusOK)
}

// normalizeEntry applies the §ingest rules to one element: bare strings
// become {flag: s}; objects need a string flag field; the flag must
// fully match the configured format; a missing ts is filled with now;
// entries already past their lifetime are dropped.
func (s *Server) normalizeEntry(el json.RawMessage, now int64) (store.Incoming, bool) {
	var entry ingestEntry
	var flagStr string
	if err := json.Unmarshal(el, &flagStr); err == nil {
		entry.Flag = flagStr
	} else if err := json.Unmarshal(el, &entry); err != nil || entry.Flag == "" {
		return store.Incoming{}, false
	}

	if len(entry.Flag) > maxFlagLen || !s.cfg.FlagAnchored.MatchString(entry.Flag) {
		return store.Incoming{}, false
	}

	ts := now
	if entry.TS != nil {
		ts = *entry.TS
	}
	if ts+s.cfg.LifetimeSeconds() <= now {
		// Already expired on arrival; storing it would only feed the
		// sweeper.
		return store.Incoming{}, false
	}
	return store.Incoming{Flag: entry.Flag, Timestamp: ts}, true
}

// flagJSON is the wire shape of one row in the paginated read.
type flagJSON struct {
	Flag                string  `json:"flag"`
	Exploit             string  `json:"exploit"`
	Status              int     `json:"status"`
	Timestamp           int64   `json:"timestamp"`
	SubmissionTimestamp *int64  `json:"submissionTimestamp"`
	SystemMessage       *string `json:"systemMessage"`
	Lifetime            int64   `json:"lifetime"`
}

func (s *Server) handleFlagsPage(w http.ResponseWriter, r *http.Request) {
	start := queryInt(r, "start", 0)
	count := queryInt(r, "count", maxPageCount)
	if count > maxPageCount || count < 0 || start < 0 {
		http.Error(w, "Invalid paging parameters", http.StatusBadRequest)
		return
	}

	views, err := s.store.Page(r.Context(), start, count, timeutil.Now())
	if err != nil {
		s.logger.Printf("Could not read flags page: %v", err)
		http.Error(w, "Storage failure", http.StatusInternalServerError)
		return
	}

	out := make([]flagJSON, 0, len(views))
	for _, v := range views {
		out = append(out, flagJSON{
			Flag:                v.Flag.Flag,
			Exploit:             v.Exploit,
			Status:              v.Status,
			Timestamp:           v.Timestamp,
			SubmissionTimestamp: v.SubmissionTimestamp,
			SystemMessage:       v.SystemMessage,
			Lifetime:            v.Lifetime,
		})
	}
	writeJSON(w, out)
}

func queryInt(r *http.Request, key string, def int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return n
}
