// Package queue drains producer-written queue files into the retrieval
// engine. Producers append one JSON object per line to a per-category file;
// the processor periodically reads each file whole, converts every decodable
// line into a record, and deletes the file once the batch has been attempted.
package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	engerr "github.com/engram-dev/engram/internal/errors"
	"github.com/engram-dev/engram/internal/memory"
)

// EntryType discriminates the queue entry union.
type EntryType string

const (
	EntryTransaction  EntryType = "transaction"
	EntryPrompt       EntryType = "prompt"
	EntryEdit         EntryType = "edit"
	EntryIndexedFiles EntryType = "indexed-files"
)

// Categories lists every entry type with its queue file.
var Categories = map[EntryType]string{
	EntryTransaction:  "transactions.jsonl",
	EntryPrompt:       "prompts.jsonl",
	EntryEdit:         "edits.jsonl",
	EntryIndexedFiles: "indexed_files.jsonl",
}

// LegacyFileName returns the older single-JSON-array file for a category.
func LegacyFileName(t EntryType) string {
	return strings.TrimSuffix(Categories[t], ".jsonl") + ".json"
}

// Entry is one decoded queue item. Each concrete type carries its own
// required-field set; Record converts it to the canonical persisted form.
type Entry interface {
	EntryType() EntryType
	Record() *memory.Record
}

// envelope carries the fields shared by every entry type. Type discriminates
// the union; the payload is decoded in a second pass.
type envelope struct {
	Type      EntryType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	PID       int       `json:"pid"`
}

// TransactionEntry is a full prompt/response exchange.
type TransactionEntry struct {
	envelope
	SessionID      string   `json:"sessionId,omitempty"`
	Prompt         string   `json:"prompt"`
	Response       string   `json:"response,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	CWD            string   `json:"cwd,omitempty"`
	Platform       string   `json:"platform,omitempty"`
	ToolsAvailable []string `json:"toolsAvailable,omitempty"`
}

func (e *TransactionEntry) EntryType() EntryType { return EntryTransaction }

func (e *TransactionEntry) Record() *memory.Record {
	rec := &memory.Record{
		ID:        entryID(EntryTransaction, e.Timestamp, e.SessionID, e.Prompt, e.Response),
		Timestamp: normalizeTimestamp(e.Timestamp),
		SessionID: e.SessionID,
		Prompt:    e.Prompt,
		Result:    e.Response,
		Tags:      e.Tags,
		Category:  string(EntryTransaction),
	}
	return rec
}

// PromptEntry is a bare user prompt with no captured response.
type PromptEntry struct {
	envelope
	SessionID string `json:"sessionId,omitempty"`
	Prompt    string `json:"prompt"`
	CWD       string `json:"cwd,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

func (e *PromptEntry) EntryType() EntryType { return EntryPrompt }

func (e *PromptEntry) Record() *memory.Record {
	return &memory.Record{
		ID:        entryID(EntryPrompt, e.Timestamp, e.SessionID, e.Prompt, ""),
		Timestamp: normalizeTimestamp(e.Timestamp),
		SessionID: e.SessionID,
		Prompt:    e.Prompt,
		Category:  string(EntryPrompt),
	}
}

// EditEntry records a file modification made during a session.
type EditEntry struct {
	envelope
	SessionID string `json:"sessionId,omitempty"`
	File      string `json:"file"`
	Summary   string `json:"summary,omitempty"`
	CWD       string `json:"cwd,omitempty"`
	Platform  string `json:"platform,omitempty"`
}

func (e *EditEntry) EntryType() EntryType { return EntryEdit }

func (e *EditEntry) Record() *memory.Record {
	return &memory.Record{
		ID:        entryID(EntryEdit, e.Timestamp, e.SessionID, e.File, e.Summary),
		Timestamp: normalizeTimestamp(e.Timestamp),
		SessionID: e.SessionID,
		Prompt:    fmt.Sprintf("edited %s", e.File),
		Result:    e.Summary,
		Tags:      []string{"edit"},
		Category:  string(EntryEdit),
	}
}

// IndexedFilesEntry records a batch of files picked up by the file indexer.
type IndexedFilesEntry struct {
	envelope
	SessionID string   `json:"sessionId,omitempty"`
	Files     []string `json:"files"`
	CWD       string   `json:"cwd,omitempty"`
	Platform  string   `json:"platform,omitempty"`
}

func (e *IndexedFilesEntry) EntryType() EntryType { return EntryIndexedFiles }

func (e *IndexedFilesEntry) Record() *memory.Record {
	joined := strings.Join(e.Files, "\n")
	return &memory.Record{
		ID:        entryID(EntryIndexedFiles, e.Timestamp, e.SessionID, joined, ""),
		Timestamp: normalizeTimestamp(e.Timestamp),
		SessionID: e.SessionID,
		Prompt:    fmt.Sprintf("indexed %d files", len(e.Files)),
		Result:    joined,
		Tags:      []string{"file-index"},
		Category:  string(EntryIndexedFiles),
	}
}

// DecodeEntry parses one queue line into its concrete entry type. Missing
// optional fields are defaulted so no entry can break the rest of the batch.
func DecodeEntry(line []byte) (Entry, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, engerr.New(engerr.ErrCodeMalformedEntry, "queue line is not valid JSON", err)
	}

	var entry Entry
	switch env.Type {
	case EntryTransaction:
		e := &TransactionEntry{}
		if err := json.Unmarshal(line, e); err != nil {
			return nil, engerr.New(engerr.ErrCodeMalformedEntry, "malformed transaction entry", err)
		}
		e.CWD = defaultCWD(e.CWD)
		e.Platform = defaultPlatform(e.Platform)
		if e.ToolsAvailable == nil {
			e.ToolsAvailable = []string{}
		}
		entry = e
	case EntryPrompt:
		e := &PromptEntry{}
		if err := json.Unmarshal(line, e); err != nil {
			return nil, engerr.New(engerr.ErrCodeMalformedEntry, "malformed prompt entry", err)
		}
		e.CWD = defaultCWD(e.CWD)
		e.Platform = defaultPlatform(e.Platform)
		entry = e
	case EntryEdit:
		e := &EditEntry{}
		if err := json.Unmarshal(line, e); err != nil {
			return nil, engerr.New(engerr.ErrCodeMalformedEntry, "malformed edit entry", err)
		}
		e.CWD = defaultCWD(e.CWD)
		e.Platform = defaultPlatform(e.Platform)
		entry = e
	case EntryIndexedFiles:
		e := &IndexedFilesEntry{}
		if err := json.Unmarshal(line, e); err != nil {
			return nil, engerr.New(engerr.ErrCodeMalformedEntry, "malformed indexed-files entry", err)
		}
		if e.Files == nil {
			e.Files = []string{}
		}
		e.CWD = defaultCWD(e.CWD)
		e.Platform = defaultPlatform(e.Platform)
		entry = e
	default:
		return nil, engerr.New(engerr.ErrCodeUnknownEntryType, "unknown queue entry type", nil).
			WithDetail("type", string(env.Type))
	}

	return entry, nil
}

func defaultCWD(cwd string) string {
	if cwd != "" {
		return cwd
	}
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return wd
}

func defaultPlatform(platform string) string {
	if platform != "" {
		return platform
	}
	return runtime.GOOS
}

// entryID derives a deterministic record ID from the entry's identifying
// fields. At-least-once redelivery of the same entry then overwrites the
// same record instead of duplicating it.
func entryID(t EntryType, timestamp int64, parts ...string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d", t, timestamp)
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// normalizeTimestamp fills a missing timestamp with the current time. The
// record ID is always derived from the raw queued timestamp so redelivery
// stays deterministic.
func normalizeTimestamp(ts int64) int64 {
	if ts > 0 {
		return ts
	}
	return time.Now().UnixMilli()
}
