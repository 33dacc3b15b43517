package opensearch

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mstgnz/montypay/infra/config"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

const (
	ReconciliationIndex = "montypay-reconciliation-events"
	SystemLogIndex      = "montypay-system-logs"
)

// Client wraps the OpenSearch client
type Client struct {
	client *opensearch.Client
	config *config.AppConfig
}

// NewClient creates a new OpenSearch client. Indices are created by EnsureIndices.
func NewClient(cfg *config.AppConfig) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Environment == "development" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	opensearchConfig := opensearch.Config{
		Addresses:     []string{cfg.OpenSearchURL},
		Transport:     transport,
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}

	if cfg.OpenSearchUser != "" && cfg.OpenSearchPass != "" {
		opensearchConfig.Username = cfg.OpenSearchUser
		opensearchConfig.Password = cfg.OpenSearchPass
	}

	client, err := opensearch.NewClient(opensearchConfig)
	if err != nil {
		return nil, fmt.Errorf("opensearch: create client: %w", err)
	}

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// GetClient returns the underlying OpenSearch client
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// IsEnabled returns whether OpenSearch logging is enabled
func (c *Client) IsEnabled() bool {
	return c.config.EnableLogging
}

// Ping reports whether the cluster answers
func (c *Client) Ping(ctx context.Context) error {
	res, err := opensearchapi.PingRequest{}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("opensearch: ping: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch: ping: %s", res.Status())
	}
	return nil
}

// EnsureIndices creates the reconciliation and system log indices when missing
func (c *Client) EnsureIndices(ctx context.Context) error {
	indices := map[string]string{
		ReconciliationIndex: reconciliationMapping,
		SystemLogIndex:      systemLogMapping,
	}

	for name, mapping := range indices {
		exists, err := c.indexExists(ctx, name)
		if err != nil {
			return fmt.Errorf("opensearch: check index %s: %w", name, err)
		}
		if exists {
			continue
		}
		if err := c.createIndex(ctx, name, mapping); err != nil {
			return fmt.Errorf("opensearch: create index %s: %w", name, err)
		}
	}
	return nil
}

func (c *Client) indexExists(ctx context.Context, indexName string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{
		Index: []string{indexName},
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	return res.StatusCode == http.StatusOK, nil
}

func (c *Client) createIndex(ctx context.Context, indexName, mapping string) error {
	req := opensearchapi.IndicesCreateRequest{
		Index: indexName,
		Body:  strings.NewReader(mapping),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index creation error: %s", res.String())
	}
	return nil
}

const reconciliationMapping = `{
	"mappings": {
		"properties": {
			"timestamp": {"type": "date", "format": "strict_date_optional_time||epoch_millis"},
			"event_id": {"type": "keyword"},
			"request_id": {"type": "keyword"},
			"reference": {"type": "keyword"},
			"provider": {"type": "keyword"},
			"source": {"type": "keyword"},
			"raw_status": {"type": "keyword"},
			"status": {"type": "keyword"},
			"session_id": {"type": "keyword"},
			"from_state": {"type": "keyword"},
			"to_state": {"type": "keyword"},
			"changed": {"type": "boolean"},
			"dropped": {"type": "boolean"},
			"outcome": {"type": "keyword"},
			"reason": {"type": "text"},
			"payload": {"type": "text"},
			"fulfillment": {
				"type": "object",
				"properties": {
					"last_order_id": {"type": "long"},
					"invoice_ids": {"type": "long"},
					"duration_ms": {"type": "long"},
					"steps": {
						"type": "object",
						"properties": {
							"step": {"type": "keyword"},
							"target": {"type": "keyword"},
							"ok": {"type": "boolean"},
							"error": {"type": "text"}
						}
					}
				}
			}
		}
	},
	"settings": {
		"number_of_shards": 1,
		"number_of_replicas": 0
	}
}`

const systemLogMapping = `{
	"mappings": {
		"properties": {
			"timestamp": {"type": "date", "format": "strict_date_optional_time||epoch_millis"},
			"level": {"type": "keyword"},
			"component": {"type": "keyword"},
			"message": {"type": "text"},
			"error": {"type": "text"},
			"reference": {"type": "keyword"},
			"provider": {"type": "keyword"},
			"request_id": {"type": "keyword"},
			"service": {"type": "keyword"},
			"version": {"type": "keyword"},
			"environment": {"type": "keyword"}
		}
	},
	"settings": {
		"number_of_shards": 1,
		"number_of_replicas": 0
	}
}`
