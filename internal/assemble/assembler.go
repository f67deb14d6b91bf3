package assemble

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"relay/internal/logging"
	"relay/internal/store"
)

// DefaultKinds are the record kinds a grounding snapshot draws from.
var DefaultKinds = []string{"task", "email", "contact"}

const (
	defaultRecordLimit = 5
	// maxSnapshotChars caps the grounding block so context size stays
	// predictable regardless of record contents.
	maxSnapshotChars = 4000
	cacheSize        = 256
	cacheTTL         = 30 * time.Second
)

// Source provides recent tenant records for grounding. Failures degrade to
// an empty context rather than failing the request.
type Source interface {
	FetchRecent(ctx context.Context, tenantID, userID, kind string, limit int) ([]store.Record, error)
}

type cachedSnapshot struct {
	text    string
	fetched time.Time
}

// Assembler builds a bounded-size snapshot of recent relevant records.
// Read-only; snapshots are memoized briefly per (tenant, user) so bursts of
// requests do not hammer the source.
type Assembler struct {
	source      Source
	kinds       []string
	recordLimit int
	cache       *lru.Cache[string, cachedSnapshot]
	logger      logging.Logger
	now         func() time.Time
}

// New builds an Assembler. recordLimit <= 0 falls back to the default of 5
// records per kind.
func New(source Source, recordLimit int, logger logging.Logger) (*Assembler, error) {
	if recordLimit <= 0 {
		recordLimit = defaultRecordLimit
	}
	cache, err := lru.New[string, cachedSnapshot](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create snapshot cache: %w", err)
	}
	return &Assembler{
		source:      source,
		kinds:       DefaultKinds,
		recordLimit: recordLimit,
		cache:       cache,
		logger:      logging.OrNop(logger),
		now:         time.Now,
	}, nil
}

// Build returns the grounding text for a request. Empty string means no
// usable context; callers proceed without grounding.
func (a *Assembler) Build(ctx context.Context, tenantID, userID string) string {
	key := tenantID + "/" + userID
	if cached, ok := a.cache.Get(key); ok && a.now().Sub(cached.fetched) < cacheTTL {
		return cached.text
	}

	var sections []string
	for _, kind := range a.kinds {
		records, err := a.source.FetchRecent(ctx, tenantID, userID, kind, a.recordLimit)
		if err != nil {
			a.logger.Warn("context fetch for kind %s degraded to empty: %v", kind, err)
			continue
		}
		if len(records) == 0 {
			continue
		}
		sections = append(sections, renderSection(kind, records))
	}

	text := strings.Join(sections, "\n")
	if len(text) > maxSnapshotChars {
		text = text[:maxSnapshotChars]
	}

	a.cache.Add(key, cachedSnapshot{text: text, fetched: a.now()})
	return text
}

func renderSection(kind string, records []store.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Recent %s records:\n", kind)
	for _, rec := range records {
		b.WriteString("- ")
		b.WriteString(summarizeFields(rec.Fields))
		b.WriteByte('\n')
	}
	return b.String()
}

func summarizeFields(fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, ", ")
}
