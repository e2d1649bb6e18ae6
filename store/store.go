// Package store persists findings, raw findings, scans, events and assets.
//
// Two implementations are provided: Memory, for tests and single-process
// deployments, and Redis, backed by go-redis. Both are safe for concurrent use
// and return *patrowl.Error values of kind not_found for unknown ids.
package store

import (
	"context"

	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/event"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/scan"
)

// Store is the repository contract used by the service, the importer, the
// tracker and the asset grader.
//
// Returned records are copies: mutating them does not change stored state
// until the matching Update method is called.
type Store interface {
	// CreateFinding stores a new finding.
	CreateFinding(ctx context.Context, f *finding.Finding) error

	// GetFinding returns the finding with the given id.
	// Returns a not_found error wrapping patrowl.ErrFindingNotFound.
	GetFinding(ctx context.Context, id string) (*finding.Finding, error)

	// UpdateFinding replaces a stored finding.
	UpdateFinding(ctx context.Context, f *finding.Finding) error

	// DeleteFinding removes a finding. Events referencing it are kept.
	DeleteFinding(ctx context.Context, id string) error

	// ListFindings returns every finding ordered by creation time, then id.
	ListFindings(ctx context.Context) ([]*finding.Finding, error)

	// ListFindingsForAsset returns the findings of one asset.
	ListFindingsForAsset(ctx context.Context, assetID string) ([]*finding.Finding, error)

	// FindFindingByHash returns the finding of assetID with the given
	// content hash, or a not_found error.
	FindFindingByHash(ctx context.Context, assetID, hash string) (*finding.Finding, error)

	// CreateRawFinding stores a raw finding. Its ScanID is mandatory.
	CreateRawFinding(ctx context.Context, r *finding.RawFinding) error

	// GetRawFinding returns the raw finding with the given id.
	GetRawFinding(ctx context.Context, id string) (*finding.RawFinding, error)

	// UpdateRawFinding replaces a stored raw finding.
	UpdateRawFinding(ctx context.Context, r *finding.RawFinding) error

	// ListRawFindingsForScan returns the raw findings of a scan in insertion order.
	ListRawFindingsForScan(ctx context.Context, scanID string) ([]*finding.RawFinding, error)

	// CreateScan stores a new scan run.
	CreateScan(ctx context.Context, s *scan.Scan) error

	// UpdateScan replaces a stored scan run.
	UpdateScan(ctx context.Context, s *scan.Scan) error

	// GetScan returns the scan with the given id.
	GetScan(ctx context.Context, id string) (*scan.Scan, error)

	// ListFinishedSiblingScans returns the finished scans of definitionID
	// other than excludeScanID, ordered by creation time, then id.
	ListFinishedSiblingScans(ctx context.Context, definitionID, excludeScanID string) ([]*scan.Scan, error)

	// UpsertScanDefinition creates or replaces a scan definition.
	UpsertScanDefinition(ctx context.Context, d *scan.Definition) error

	// GetScanDefinition returns the scan definition with the given id.
	GetScanDefinition(ctx context.Context, id string) (*scan.Definition, error)

	// AppendEvent appends an event to the finding's log.
	AppendEvent(ctx context.Context, e *event.Event) error

	// ListEventsForFinding returns the events of a finding in append order.
	ListEventsForFinding(ctx context.Context, findingID string) ([]*event.Event, error)

	// CreateAsset stores a new asset.
	CreateAsset(ctx context.Context, a *asset.Asset) error

	// GetAsset returns the asset with the given id.
	GetAsset(ctx context.Context, id string) (*asset.Asset, error)

	// GetAssetByValue returns the asset of ownerID with the given value.
	GetAssetByValue(ctx context.Context, ownerID, value string) (*asset.Asset, error)

	// UpdateAsset replaces a stored asset.
	UpdateAsset(ctx context.Context, a *asset.Asset) error

	// Close releases the store's resources.
	Close() error
}
