package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeElastic(t *testing.T, indexStatus int, docs map[string]map[string]interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			_, _ = io.WriteString(w, `{"version":{"number":"7.17.10","build_flavor":"default"},"tagline":"You Know, for Search"}`)
			return
		}
		if strings.Contains(r.URL.Path, "/_doc/") {
			var doc map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&doc)
			docs[r.URL.Path] = doc
			w.WriteHeader(indexStatus)
			if indexStatus >= 300 {
				_, _ = io.WriteString(w, `{"error":{"type":"mapper_parsing_exception"}}`)
				return
			}
			_, _ = io.WriteString(w, `{"result":"created"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func newTestClient(t *testing.T, url string) *ElasticClient {
	log := logrus.New()
	log.SetOutput(io.Discard)
	c, err := NewElasticClient(config.ElasticConfig{URL: url, Index: "dispense-transactions"}, log)
	require.NoError(t, err)
	return c
}

func sampleTransaction() (*models.DispenseTransaction, *models.Device) {
	ownerID := uint(4)
	return &models.DispenseTransaction{
			ID:              "7a6c3c1e-0000-4000-8000-000000000001",
			SessionID:       "sess-1",
			StartedAt:       time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
			Status:          models.TransactionDone,
			DispensedLiters: 2,
			PricePerLiter:   45,
			TotalCost:       90,
			Currency:        "ZMW",
			Priced:          true,
		}, &models.Device{
			DeviceID: "OIL-0001",
			SiteName: "Chilenje",
			OwnerID:  &ownerID,
		}
}

func TestIndexTransaction(t *testing.T) {
	docs := map[string]map[string]interface{}{}
	srv := fakeElastic(t, http.StatusCreated, docs)
	defer srv.Close()

	tx, device := sampleTransaction()
	require.NoError(t, newTestClient(t, srv.URL).IndexTransaction(context.Background(), tx, device))

	doc, ok := docs["/dispense-transactions/_doc/sess-1"]
	require.True(t, ok)
	assert.Equal(t, "OIL-0001", doc["device_id"])
	assert.Equal(t, 90.0, doc["total_cost"])
	assert.Equal(t, 4.0, doc["owner_id"])
}

func TestIndexTransaction_ErrorResponse(t *testing.T) {
	srv := fakeElastic(t, http.StatusBadRequest, map[string]map[string]interface{}{})
	defer srv.Close()

	tx, device := sampleTransaction()
	err := newTestClient(t, srv.URL).IndexTransaction(context.Background(), tx, device)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Elasticsearch index error")
}

func TestNewIndexer_DisabledIsNoop(t *testing.T) {
	idx, err := NewIndexer(config.ElasticConfig{Enabled: false}, logrus.New())
	require.NoError(t, err)

	_, ok := idx.(NoopIndexer)
	assert.True(t, ok)
}
