// Package asset models the targets findings are reported against and the
// aggregate risk derived from their open findings.
package asset

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/D-E-N/PatrowlManager/finding"
)

// Asset is a scanned target system.
type Asset struct {
	ID        string    `json:"id"`
	Value     string    `json:"value"`
	Name      string    `json:"name"`
	Type      string    `json:"type,omitempty"`
	OwnerID   string    `json:"owner_id"`
	Risk      Risk      `json:"risk"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Risk is the aggregate risk of an asset.
type Risk struct {
	Grade       string                   `json:"grade"`
	Score       float64                  `json:"score"`
	Counts      map[finding.Severity]int `json:"counts"`
	Total       int                      `json:"total"`
	EvaluatedAt time.Time                `json:"evaluated_at,omitempty"`
}

// New creates an asset whose name defaults to its value.
func New(ownerID, value string) *Asset {
	now := time.Now()
	return &Asset{
		ID:        uuid.New().String(),
		Value:     value,
		Name:      value,
		OwnerID:   ownerID,
		Risk:      Risk{Grade: "A"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the asset's required fields.
func (a *Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset ID is required")
	}
	if a.Value == "" {
		return fmt.Errorf("asset value is required")
	}
	return nil
}

// RiskEvaluator recomputes the aggregate risk of an asset. Callers treat it
// as opaque.
type RiskEvaluator interface {
	EvaluateRisk(ctx context.Context, assetID string) error
}

// RiskEvaluatorFunc adapts a function to RiskEvaluator.
type RiskEvaluatorFunc func(ctx context.Context, assetID string) error

// EvaluateRisk calls fn(ctx, assetID).
func (fn RiskEvaluatorFunc) EvaluateRisk(ctx context.Context, assetID string) error {
	return fn(ctx, assetID)
}
