package models

import (
	"encoding/json"
	"time"
)

// FlowRecord represents one logged network session
type FlowRecord struct {
	ID        int64     `json:"id,omitempty"`
	Protocol  string    `json:"protocol" binding:"required"`
	SrcIP     string    `json:"src_ip" binding:"required"`
	SrcPort   int       `json:"src_port" binding:"gte=0,lte=65535"`
	DstIP     string    `json:"dst_ip" binding:"required"`
	DstPort   int       `json:"dst_port" binding:"gte=0,lte=65535"`
	Packets   int64     `json:"packets" binding:"gte=0"`
	Bytes     int64     `json:"bytes" binding:"gte=0"`
	Timestamp time.Time `json:"timestamp"`
	CPUID     *int      `json:"cpu_id,omitempty"`
}

// ModelRecord is a catalog row describing a trained (or merged) model
type ModelRecord struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	Algorithm       string          `json:"algorithm,omitempty"`
	StartDate       time.Time       `json:"start_date"`
	EndDate         time.Time       `json:"end_date"`
	ModelPath       string          `json:"model_path,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	TrainingSamples int             `json:"training_samples,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	IsMerged        bool            `json:"is_merged"`
}

// Alert is raised for a stored flow record that a model flagged as anomalous
type Alert struct {
	ID           int64     `json:"id"`
	TrafficLogID int64     `json:"traffic_log_id" binding:"required"`
	RiskScore    int       `json:"risk_score" binding:"gte=0,lte=100"`
	MLModelID    int64     `json:"ml_model_id" binding:"required"`
	DetectedAt   time.Time `json:"detected_at"`
	Description  string    `json:"description,omitempty"`
}

// Page holds skip/limit pagination parameters
type Page struct {
	Skip  int `form:"skip" binding:"gte=0"`
	Limit int `form:"limit" binding:"gte=0,lte=1000"`
}

// Normalize fills in the default limit
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 100
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	return p
}

// FlowFilter narrows a flow record listing
type FlowFilter struct {
	Page
	SrcIP     string     `form:"src_ip"`
	DstIP     string     `form:"dst_ip"`
	Protocol  string     `form:"protocol"`
	StartTime *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime   *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
}

// Match reports whether a record passes the non-time filters
func (f FlowFilter) Match(r *FlowRecord) bool {
	if f.SrcIP != "" && r.SrcIP != f.SrcIP {
		return false
	}
	if f.DstIP != "" && r.DstIP != f.DstIP {
		return false
	}
	if f.Protocol != "" && r.Protocol != f.Protocol {
		return false
	}
	return true
}

// ModelFilter narrows a model catalog listing
type ModelFilter struct {
	Page
	IsMerged *bool `form:"is_merged"`
}

// AlertFilter narrows an alert listing
type AlertFilter struct {
	Page
	MinRiskScore *int       `form:"min_risk_score" binding:"omitempty,gte=0,lte=100"`
	StartTime    *time.Time `form:"start_time" time_format:"2006-01-02T15:04:05Z07:00"`
	EndTime      *time.Time `form:"end_time" time_format:"2006-01-02T15:04:05Z07:00"`
}
