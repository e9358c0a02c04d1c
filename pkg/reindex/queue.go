// Package reindex decouples embedding work from the write path. Writers
// append operations to a JSONL queue file; a background worker coalesces,
// embeds, and applies them to the vector index.
package reindex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"unicode/utf8"

	"github.com/clawboard/clawboard/pkg/models"
)

// Operation names.
const (
	OpUpsert = "upsert"
	OpDelete = "delete"
)

// maxDocChars bounds the text embedded per document.
const maxDocChars = 1200

// Op is one queued reindex operation.
type Op struct {
	Op          string `json:"op"`
	Kind        string `json:"kind"`
	ID          string `json:"id"`
	Scope       string `json:"scope,omitempty"`
	Text        string `json:"text,omitempty"`
	RequestedAt string `json:"requestedAt"`
}

// Queue is an append-only JSONL file shared by all writers in the process.
type Queue struct {
	mu   sync.Mutex
	path string
}

// NewQueue creates a queue backed by the file at path. The file is created
// lazily on first append.
func NewQueue(path string) *Queue {
	return &Queue{path: path}
}

// EnqueueUpsert schedules (re)embedding of a document. Text is clipped to
// the embedding budget before it hits the file.
func (q *Queue) EnqueueUpsert(kind, id, scope, text string) error {
	return q.append(Op{
		Op:          OpUpsert,
		Kind:        kind,
		ID:          id,
		Scope:       scope,
		Text:        ClipText(text),
		RequestedAt: models.NowISO(),
	})
}

// EnqueueDelete schedules removal of a document's vector.
func (q *Queue) EnqueueDelete(kind, id string) error {
	return q.append(Op{
		Op:          OpDelete,
		Kind:        kind,
		ID:          id,
		RequestedAt: models.NowISO(),
	})
}

func (q *Queue) append(op Op) error {
	line, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("failed to encode reindex op: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open reindex queue: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append reindex op: %w", err)
	}
	return nil
}

// Drain atomically reads and truncates the queue. Lines that fail to decode
// are skipped; a missing file means an empty queue.
func (q *Queue) Drain() ([]Op, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open reindex queue: %w", err)
	}

	var ops []Op
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var op Op
		if err := json.Unmarshal(line, &op); err != nil {
			continue
		}
		ops = append(ops, op)
	}
	scanErr := scanner.Err()
	f.Close()
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read reindex queue: %w", scanErr)
	}

	if err := os.Truncate(q.path, 0); err != nil {
		return nil, fmt.Errorf("failed to truncate reindex queue: %w", err)
	}
	return ops, nil
}

// Requeue appends ops back onto the file, preserving order. Used when a
// drain cannot be fully applied.
func (q *Queue) Requeue(ops []Op) error {
	for _, op := range ops {
		if err := q.append(op); err != nil {
			return err
		}
	}
	return nil
}

// Depth returns the number of queued lines.
func (q *Queue) Depth() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := os.Open(q.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}

// Coalesce collapses ops to the last operation per (kind, id), preserving
// the order in which each surviving key first appeared.
func Coalesce(ops []Op) []Op {
	type slot struct {
		pos int
		op  Op
	}
	last := make(map[string]*slot, len(ops))
	order := 0
	for _, op := range ops {
		key := op.Kind + "\x00" + op.ID
		if s, ok := last[key]; ok {
			s.op = op
			continue
		}
		last[key] = &slot{pos: order, op: op}
		order++
	}

	out := make([]Op, order)
	for _, s := range last {
		out[s.pos] = s.op
	}
	return out
}

// ClipText bounds a document to the embedding budget, backing up to a rune
// boundary so the cut never produces invalid UTF-8.
func ClipText(s string) string {
	if len(s) <= maxDocChars {
		return s
	}
	cut := maxDocChars
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
