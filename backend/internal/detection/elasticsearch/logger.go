// Package elasticsearch mirrors detection alerts into an Elasticsearch index
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/smartshieldai-idps/flowguard/backend/internal/detection/ml"
	"github.com/smartshieldai-idps/flowguard/backend/internal/models"
)

// AlertDocument is the indexed form of an alert
type AlertDocument struct {
	Timestamp    time.Time         `json:"@timestamp"`
	AlertID      int64             `json:"alert_id"`
	ModelID      int64             `json:"ml_model_id"`
	RiskScore    int               `json:"risk_score"`
	Severity     string            `json:"severity"`
	AnomalyScore float64           `json:"anomaly_score"`
	Confidence   float64           `json:"confidence"`
	Description  string            `json:"description"`
	Flow         models.FlowRecord `json:"flow"`
}

// Logger handles indexing alerts to Elasticsearch
type Logger struct {
	client *elasticsearch.Client
	index  string
}

// NewLogger creates a new Elasticsearch logger
func NewLogger(addresses []string, username, password, index string) (*Logger, error) {
	cfg := elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %v", err)
	}

	return &Logger{
		client: client,
		index:  index,
	}, nil
}

// Client exposes the underlying Elasticsearch client
func (l *Logger) Client() *elasticsearch.Client {
	return l.client
}

// IndexAlert indexes an alert with the prediction that raised it. The alert
// id is the document id, so re-indexing an alert overwrites it.
func (l *Logger) IndexAlert(ctx context.Context, alert *models.Alert, result *ml.PredictionResult) error {
	doc := AlertDocument{
		Timestamp:    alert.DetectedAt,
		AlertID:      alert.ID,
		ModelID:      alert.MLModelID,
		RiskScore:    alert.RiskScore,
		Severity:     Severity(alert.RiskScore),
		AnomalyScore: result.AnomalyScore,
		Confidence:   result.Confidence,
		Description:  alert.Description,
		Flow:         result.Log,
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %v", err)
	}

	res, err := l.client.Index(
		l.index,
		bytes.NewReader(docJSON),
		l.client.Index.WithContext(ctx),
		l.client.Index.WithDocumentID(strconv.FormatInt(alert.ID, 10)),
	)
	if err != nil {
		return fmt.Errorf("failed to index alert: %v", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing alert: %s", res.String())
	}

	return nil
}

// Severity buckets a risk score
func Severity(riskScore int) string {
	switch {
	case riskScore >= 90:
		return "critical"
	case riskScore >= 70:
		return "high"
	case riskScore >= 40:
		return "medium"
	default:
		return "low"
	}
}
