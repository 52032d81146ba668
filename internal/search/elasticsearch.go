// Package search projects dispense transactions into Elasticsearch for reporting.
package search

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Indexer receives every recorded or updated dispense transaction
type Indexer interface {
	IndexTransaction(ctx context.Context, tx *models.DispenseTransaction, device *models.Device) error
}

// NoopIndexer is used when Elasticsearch is disabled
type NoopIndexer struct{}

func (NoopIndexer) IndexTransaction(ctx context.Context, tx *models.DispenseTransaction, device *models.Device) error {
	return nil
}

// ElasticClient provides integration with Elasticsearch
type ElasticClient struct {
	client *elasticsearch.Client
	index  string
	log    *logrus.Logger
}

// NewElasticClient creates a new Elasticsearch client
func NewElasticClient(cfg config.ElasticConfig, log *logrus.Logger) (*ElasticClient, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Elasticsearch client")
	}

	return &ElasticClient{client: client, index: cfg.Index, log: log}, nil
}

// NewIndexer returns an Elasticsearch indexer when enabled, otherwise a no-op
func NewIndexer(cfg config.ElasticConfig, log *logrus.Logger) (Indexer, error) {
	if !cfg.Enabled {
		return NoopIndexer{}, nil
	}
	return NewElasticClient(cfg, log)
}

// IndexTransaction upserts the transaction document. The session id is the
// document id, so replays overwrite instead of duplicating.
func (c *ElasticClient) IndexTransaction(ctx context.Context, tx *models.DispenseTransaction, device *models.Device) error {
	doc := map[string]interface{}{
		"id":               tx.ID,
		"session_id":       tx.SessionID,
		"device_id":        device.DeviceID,
		"site_name":        device.SiteName,
		"operator_id":      tx.OperatorID,
		"started_at":       tx.StartedAt,
		"ended_at":         tx.EndedAt,
		"status":           tx.Status,
		"target_liters":    tx.TargetLiters,
		"dispensed_liters": tx.DispensedLiters,
		"price_per_liter":  tx.PricePerLiter,
		"total_cost":       tx.TotalCost,
		"total_profit":     tx.TotalProfit,
		"currency":         tx.Currency,
		"priced":           tx.Priced,
		"duration_sec":     tx.DurationSec,
	}
	if device.OwnerID != nil {
		doc["owner_id"] = *device.OwnerID
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "failed to marshal transaction document")
	}

	req := esapi.IndexRequest{
		Index:      c.index,
		DocumentID: tx.SessionID,
		Body:       bytes.NewReader(body),
	}

	res, err := req.Do(ctx, c.client)
	if err != nil {
		return errors.Wrap(err, "failed to execute Elasticsearch index request")
	}
	defer res.Body.Close()

	if res.IsError() {
		var e map[string]interface{}
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return errors.Wrap(err, "failed to parse Elasticsearch error response")
		}
		return errors.Errorf("Elasticsearch index error: %v", e)
	}

	c.log.WithField("session_id", tx.SessionID).Debug("Transaction indexed")
	return nil
}
