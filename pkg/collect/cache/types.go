// Package cache keeps fetched run histories in a badger store so that
// re-exporting a finished sweep does not refetch them.
package cache

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jamesainslie/sweepcollect/pkg/collect/types"
)

// CacheVersion is incremented when the encoding changes.
const CacheVersion = 1

// KeySeparator separates the sweep path from the run id in cache keys.
const KeySeparator = '\x00'

// ErrVersion is returned when an entry was written by another CacheVersion.
var ErrVersion = errors.New("cache entry version mismatch")

// CachedHistory is the stored history of one finished run.
type CachedHistory struct {
	Samples  int   // Samples requested when the history was fetched
	StoredAt int64 // Write time as UnixNano
	Steps    []*types.Record
}

type header struct {
	Version  int   `json:"version"`
	Samples  int   `json:"samples"`
	StoredAt int64 `json:"stored_at"`
	Steps    int   `json:"steps"`
}

// Encode serializes the entry as a JSON header line followed by one line
// per step.
func (h *CachedHistory) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(header{
		Version:  CacheVersion,
		Samples:  h.Samples,
		StoredAt: h.StoredAt,
		Steps:    len(h.Steps),
	}); err != nil {
		return nil, err
	}
	for i, step := range h.Steps {
		if err := enc.Encode(step); err != nil {
			return nil, fmt.Errorf("encoding step %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Decode deserializes data into the entry.
func (h *CachedHistory) Decode(data []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)

	if !sc.Scan() {
		return errors.New("empty cache entry")
	}
	var hdr header
	if err := json.Unmarshal(sc.Bytes(), &hdr); err != nil {
		return fmt.Errorf("decoding header: %w", err)
	}
	if hdr.Version != CacheVersion {
		return fmt.Errorf("%w: got %d, want %d", ErrVersion, hdr.Version, CacheVersion)
	}

	steps := make([]*types.Record, 0, hdr.Steps)
	for sc.Scan() {
		rec, err := types.DecodeRecord(sc.Bytes())
		if err != nil {
			return fmt.Errorf("decoding step %d: %w", len(steps), err)
		}
		steps = append(steps, rec)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(steps) != hdr.Steps {
		return fmt.Errorf("truncated cache entry: %d of %d steps", len(steps), hdr.Steps)
	}

	h.Samples = hdr.Samples
	h.StoredAt = hdr.StoredAt
	h.Steps = steps
	return nil
}

// MakeKey creates a cache key from a sweep path and run id.
// Format: <entity/project/sweep>\x00<run id>
func MakeKey(sweep, runID string) []byte {
	return []byte(sweep + string(KeySeparator) + runID)
}

// ParseKey extracts the sweep path and run id from a cache key.
func ParseKey(key []byte) (sweep, runID string) {
	idx := bytes.IndexByte(key, KeySeparator)
	if idx == -1 {
		return string(key), ""
	}
	return string(key[:idx]), string(key[idx+1:])
}

// MakeKeyPrefix returns the prefix for all keys of a sweep. An empty sweep
// matches every key.
func MakeKeyPrefix(sweep string) []byte {
	if sweep == "" {
		return nil
	}
	return []byte(sweep + string(KeySeparator))
}
