// Package id provides prefixed ULID generation for engine objects.
//
// IDs are lexicographically sortable by creation time, which keeps job
// listings and trash directories in submission order without a separate
// timestamp, and the prefix makes ids self-describing in logs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// JobID identifies a submitted job
type JobID string

// TrashID identifies one trashed item
type TrashID string

// ConflictID identifies a pending conflict within a job
type ConflictID string

const (
	JobPrefix      = "job"
	TrashPrefix    = "trash"
	ConflictPrefix = "cfl"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand with monotonic
// entropy, so ids minted within the same millisecond still sort in order.
func NewGenerator() *Generator {
	return NewGeneratorWithEntropy(ulid.Monotonic(rand.Reader, 0))
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewJobID generates a new job ID
func NewJobID() JobID {
	return JobID(Default().GenerateWithPrefix(JobPrefix))
}

// NewTrashID generates a new trash ID
func NewTrashID() TrashID {
	return TrashID(Default().GenerateWithPrefix(TrashPrefix))
}

// NewConflictID generates a new conflict ID
func NewConflictID() ConflictID {
	return ConflictID(Default().GenerateWithPrefix(ConflictPrefix))
}

func (id JobID) String() string      { return string(id) }
func (id TrashID) String() string    { return string(id) }
func (id ConflictID) String() string { return string(id) }

// ============================================================================
// Validation
// ============================================================================

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// HasPrefix checks that a prefixed id carries the expected prefix and a valid ULID.
func HasPrefix(prefixed, prefix string) bool {
	rest, ok := strings.CutPrefix(prefixed, prefix+"_")
	return ok && IsValid(rest)
}

// Timestamp extracts the creation time from a plain or prefixed ULID
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
