// Package index provides full-text search over bus traffic.
//
// An Index subscribes to a bus's wildcard topic and stores every published
// message in a Bleve index: type, sender and recipient as exact-match
// keywords, and the payload flattened into analyzed text.
package index

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/vinayprograms/swarmkit/bus"
	"github.com/vinayprograms/swarmkit/logging"
)

// Config configures an Index.
type Config struct {
	// Path stores the index on disk. Empty keeps it in memory.
	Path string

	// Logger defaults to a discarding logger.
	Logger *logging.Logger
}

// Document is the indexed form of a message.
type Document struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Priority  string    `json:"priority"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Query selects messages. Empty fields do not filter.
type Query struct {
	// Text is matched against the flattened payload.
	Text string

	Type   string
	Sender string

	// Limit defaults to 10.
	Limit int
}

// Hit is one search result.
type Hit struct {
	ID     string
	Type   string
	Sender string
	Score  float64
}

// Index is a searchable record of messages.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	logger *logging.Logger
	unsubs []func()
	closed bool
}

// New opens or creates an index.
func New(cfg Config) (*Index, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	var idx bleve.Index
	var err error
	if cfg.Path == "" {
		idx, err = bleve.NewMemOnly(buildIndexMapping())
	} else {
		idx, err = bleve.Open(cfg.Path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(cfg.Path, buildIndexMapping())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bleve index: %w", err)
	}

	return &Index{
		index:  idx,
		logger: logger.WithComponent("index"),
	}, nil
}

// buildIndexMapping creates the Bleve index mapping.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name

	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("id", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("type", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("sender", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("recipient", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("priority", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("timestamp", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name

	return indexMapping
}

// Attach indexes every message published on b from now on. Detach happens
// on Close.
func (x *Index) Attach(b *bus.Bus) {
	unsub := b.Subscribe(bus.Wildcard, func(ctx context.Context, msg *bus.Message) error {
		return x.Add(msg)
	})

	x.mu.Lock()
	x.unsubs = append(x.unsubs, unsub)
	x.mu.Unlock()
}

// Add indexes one message.
func (x *Index) Add(msg *bus.Message) error {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return fmt.Errorf("index closed")
	}

	doc := Document{
		ID:        msg.ID,
		Type:      msg.Type,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Priority:  string(msg.Priority),
		Text:      Flatten(msg.Payload),
		Timestamp: msg.Timestamp,
	}
	if err := x.index.Index(msg.ID, doc); err != nil {
		return fmt.Errorf("failed to index message %s: %w", msg.ID, err)
	}
	return nil
}

// Search returns messages matching q, best match first. Filter-only queries
// return the newest messages first.
func (x *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, fmt.Errorf("index closed")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var must []query.Query
	if q.Text != "" {
		mq := bleve.NewMatchQuery(q.Text)
		mq.SetField("text")
		must = append(must, mq)
	}
	if q.Type != "" {
		tq := bleve.NewTermQuery(q.Type)
		tq.SetField("type")
		must = append(must, tq)
	}
	if q.Sender != "" {
		sq := bleve.NewTermQuery(q.Sender)
		sq.SetField("sender")
		must = append(must, sq)
	}

	var searchQuery query.Query
	if len(must) == 0 {
		searchQuery = bleve.NewMatchAllQuery()
	} else {
		boolQuery := bleve.NewBooleanQuery()
		boolQuery.AddMust(must...)
		searchQuery = boolQuery
	}

	searchReq := bleve.NewSearchRequest(searchQuery)
	searchReq.Size = limit
	searchReq.Fields = []string{"type", "sender"}
	if q.Text != "" {
		searchReq.SortBy([]string{"-_score", "-timestamp"})
	} else {
		searchReq.SortBy([]string{"-timestamp"})
	}

	result, err := x.index.SearchInContext(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := Hit{ID: h.ID, Score: h.Score}
		hit.Type, _ = h.Fields["type"].(string)
		hit.Sender, _ = h.Fields["sender"].(string)
		hits = append(hits, hit)
	}
	return hits, nil
}

// Count returns the number of indexed messages.
func (x *Index) Count() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return 0, fmt.Errorf("index closed")
	}
	return x.index.DocCount()
}

// Close detaches from every bus and closes the index.
func (x *Index) Close() error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	unsubs := x.unsubs
	x.unsubs = nil
	x.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	return x.index.Close()
}

// Flatten renders a payload as "key value" text, keys in sorted order, so
// nested fields are searchable.
func Flatten(payload map[string]any) string {
	var parts []string
	flattenInto(&parts, payload)
	return strings.Join(parts, " ")
}

func flattenInto(parts *[]string, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			*parts = append(*parts, k)
			flattenInto(parts, t[k])
		}
	case []any:
		for _, e := range t {
			flattenInto(parts, e)
		}
	case []string:
		*parts = append(*parts, t...)
	case nil:
	default:
		*parts = append(*parts, fmt.Sprint(t))
	}
}
