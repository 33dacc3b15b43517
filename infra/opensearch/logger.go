package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// ErrLoggingDisabled is returned by searches when OpenSearch logging is off
var ErrLoggingDisabled = errors.New("opensearch: logging is disabled")

// ReconciliationLog is one processed inbound payment event
type ReconciliationLog struct {
	Timestamp   time.Time       `json:"timestamp"`
	EventID     string          `json:"event_id"`
	RequestID   string          `json:"request_id,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Provider    string          `json:"provider"`
	Source      string          `json:"source"`
	RawStatus   string          `json:"raw_status,omitempty"`
	Status      string          `json:"status"`
	SessionID   string          `json:"session_id,omitempty"`
	FromState   string          `json:"from_state,omitempty"`
	ToState     string          `json:"to_state,omitempty"`
	Changed     bool            `json:"changed"`
	Dropped     bool            `json:"dropped"`
	Outcome     string          `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	Payload     string          `json:"payload,omitempty"`
	Fulfillment *FulfillmentLog `json:"fulfillment,omitempty"`
}

// FulfillmentLog summarises a fulfillment cascade run
type FulfillmentLog struct {
	LastOrderID int64     `json:"last_order_id,omitempty"`
	InvoiceIDs  []int64   `json:"invoice_ids,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Steps       []StepLog `json:"steps"`
}

// StepLog is one fulfillment step
type StepLog struct {
	Step   string `json:"step"`
	Target string `json:"target,omitempty"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Logger handles OpenSearch logging operations
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger
func NewLogger(client *Client) *Logger {
	return &Logger{
		client: client,
	}
}

// LogReconciliation indexes a reconciliation event
func (l *Logger) LogReconciliation(ctx context.Context, entry ReconciliationLog) error {
	if !l.client.IsEnabled() {
		return nil
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.EventID == "" {
		entry.EventID = uuid.NewString()
	}
	entry.Payload = SanitizeForLog(entry.Payload)

	return l.index(ctx, ReconciliationIndex, entry.EventID, entry)
}

// SearchReconciliation returns the newest events recorded for a reference
func (l *Logger) SearchReconciliation(ctx context.Context, reference string, size int) ([]ReconciliationLog, error) {
	if !l.client.IsEnabled() {
		return nil, ErrLoggingDisabled
	}
	if size <= 0 || size > 100 {
		size = 100
	}

	searchQuery := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"reference": reference},
		},
		"sort": []map[string]any{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"size": size,
	}

	queryJSON, err := json.Marshal(searchQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{ReconciliationIndex},
		Body:  bytes.NewReader(queryJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("opensearch search error: %s", res.String())
	}

	var searchResult struct {
		Hits struct {
			Hits []struct {
				Source ReconciliationLog `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	logs := make([]ReconciliationLog, len(searchResult.Hits.Hits))
	for i, hit := range searchResult.Hits.Hits {
		logs[i] = hit.Source
	}
	return logs, nil
}

// LogSystemEvent indexes a system log entry. It satisfies logger.Sink.
func (l *Logger) LogSystemEvent(ctx context.Context, entry any) error {
	if !l.client.IsEnabled() {
		return nil
	}
	return l.index(ctx, SystemLogIndex, "", entry)
}

func (l *Logger) index(ctx context.Context, indexName, docID string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index:      indexName,
		DocumentID: docID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch index error: %s", res.String())
	}
	return nil
}

var sensitivePatterns = func() []*regexp.Regexp {
	fields := []string{
		"merchant_key", "merchant_pass", "merchantKey", "merchantPass",
		"hash", "signature", "password", "token", "authorization",
		"card_number", "cardNumber", "cvv", "cvc",
	}

	var patterns []*regexp.Regexp
	for _, field := range fields {
		quoted := regexp.QuoteMeta(field)
		patterns = append(patterns,
			regexp.MustCompile(`"`+quoted+`"\s*:\s*"[^"]*"`),
			regexp.MustCompile(`\b`+quoted+`=[^&\s]*`),
		)
	}
	return patterns
}()

// SanitizeForLog masks credentials and signatures in JSON or form encoded data
func SanitizeForLog(data string) string {
	result := data
	for i, re := range sensitivePatterns {
		if i%2 == 0 {
			result = re.ReplaceAllStringFunc(result, func(match string) string {
				key := strings.TrimSpace(match[:strings.IndexByte(match, ':')])
				return key + `:"***REDACTED***"`
			})
			continue
		}
		result = re.ReplaceAllStringFunc(result, func(match string) string {
			key := match[:strings.IndexByte(match, '=')]
			return key + "=***REDACTED***"
		})
	}
	return result
}
