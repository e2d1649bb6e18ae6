package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/event"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/scan"
)

// Memory is an in-process Store.
type Memory struct {
	mu sync.RWMutex

	findings    map[string]*finding.Finding
	rawFindings map[string]*finding.RawFinding
	rawByScan   map[string][]string
	scans       map[string]*scan.Scan
	definitions map[string]*scan.Definition
	events      map[string][]*event.Event
	assets      map[string]*asset.Asset
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		findings:    make(map[string]*finding.Finding),
		rawFindings: make(map[string]*finding.RawFinding),
		rawByScan:   make(map[string][]string),
		scans:       make(map[string]*scan.Scan),
		definitions: make(map[string]*scan.Definition),
		events:      make(map[string][]*event.Event),
		assets:      make(map[string]*asset.Asset),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateFinding(ctx context.Context, f *finding.Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return patrowl.NewValidationError("store.CreateFinding", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.findings[f.ID]; ok {
		return patrowl.NewValidationError("store.CreateFinding", fmt.Errorf("finding %s already exists", f.ID))
	}
	m.findings[f.ID] = f.Clone()
	return nil
}

func (m *Memory) GetFinding(ctx context.Context, id string) (*finding.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.findings[id]
	if !ok {
		return nil, findingNotFound("store.GetFinding", id)
	}
	return f.Clone(), nil
}

func (m *Memory) UpdateFinding(ctx context.Context, f *finding.Finding) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.findings[f.ID]; !ok {
		return findingNotFound("store.UpdateFinding", f.ID)
	}
	m.findings[f.ID] = f.Clone()
	return nil
}

func (m *Memory) DeleteFinding(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.findings[id]; !ok {
		return findingNotFound("store.DeleteFinding", id)
	}
	delete(m.findings, id)
	return nil
}

func (m *Memory) ListFindings(ctx context.Context) ([]*finding.Finding, error) {
	return m.listFindings(ctx, func(*finding.Finding) bool { return true })
}

func (m *Memory) ListFindingsForAsset(ctx context.Context, assetID string) ([]*finding.Finding, error) {
	return m.listFindings(ctx, func(f *finding.Finding) bool { return f.AssetID == assetID })
}

func (m *Memory) FindFindingByHash(ctx context.Context, assetID, hash string) (*finding.Finding, error) {
	matches, err := m.listFindings(ctx, func(f *finding.Finding) bool {
		return f.AssetID == assetID && f.Hash == hash
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, patrowl.NewNotFoundError("store.FindFindingByHash", patrowl.ErrFindingNotFound).
			WithContext(map[string]any{"asset_id": assetID, "hash": hash})
	}
	return matches[0], nil
}

func (m *Memory) listFindings(ctx context.Context, keep func(*finding.Finding) bool) ([]*finding.Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]*finding.Finding, 0, len(m.findings))
	for _, f := range m.findings {
		if keep(f) {
			out = append(out, f.Clone())
		}
	}
	m.mu.RUnlock()

	sortFindings(out)
	return out, nil
}

func (m *Memory) CreateRawFinding(ctx context.Context, r *finding.RawFinding) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Validate(); err != nil {
		return patrowl.NewValidationError("store.CreateRawFinding", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rawFindings[r.ID]; ok {
		return patrowl.NewValidationError("store.CreateRawFinding", fmt.Errorf("raw finding %s already exists", r.ID))
	}
	m.rawFindings[r.ID] = cloneRaw(r)
	m.rawByScan[r.ScanID] = append(m.rawByScan[r.ScanID], r.ID)
	return nil
}

func (m *Memory) GetRawFinding(ctx context.Context, id string) (*finding.RawFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rawFindings[id]
	if !ok {
		return nil, rawFindingNotFound("store.GetRawFinding", id)
	}
	return cloneRaw(r), nil
}

func (m *Memory) UpdateRawFinding(ctx context.Context, r *finding.RawFinding) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.rawFindings[r.ID]
	if !ok {
		return rawFindingNotFound("store.UpdateRawFinding", r.ID)
	}
	if old.ScanID != r.ScanID {
		return patrowl.NewValidationError("store.UpdateRawFinding", fmt.Errorf("raw finding cannot move to another scan"))
	}
	m.rawFindings[r.ID] = cloneRaw(r)
	return nil
}

func (m *Memory) ListRawFindingsForScan(ctx context.Context, scanID string) ([]*finding.RawFinding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.rawByScan[scanID]
	out := make([]*finding.RawFinding, 0, len(ids))
	for _, id := range ids {
		if r, ok := m.rawFindings[id]; ok {
			out = append(out, cloneRaw(r))
		}
	}
	return out, nil
}

func (m *Memory) CreateScan(ctx context.Context, s *scan.Scan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.Validate(); err != nil {
		return patrowl.NewValidationError("store.CreateScan", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scans[s.ID]; ok {
		return patrowl.NewValidationError("store.CreateScan", fmt.Errorf("scan %s already exists", s.ID))
	}
	c := *s
	m.scans[s.ID] = &c
	return nil
}

func (m *Memory) UpdateScan(ctx context.Context, s *scan.Scan) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scans[s.ID]; !ok {
		return scanNotFound("store.UpdateScan", s.ID)
	}
	c := *s
	m.scans[s.ID] = &c
	return nil
}

func (m *Memory) GetScan(ctx context.Context, id string) (*scan.Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.scans[id]
	if !ok {
		return nil, scanNotFound("store.GetScan", id)
	}
	c := *s
	return &c, nil
}

func (m *Memory) ListFinishedSiblingScans(ctx context.Context, definitionID, excludeScanID string) ([]*scan.Scan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	var out []*scan.Scan
	for _, s := range m.scans {
		if s.DefinitionID != definitionID || s.ID == excludeScanID || !s.IsFinished() {
			continue
		}
		c := *s
		out = append(out, &c)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return scan.Less(out[i], out[j]) })
	return out, nil
}

func (m *Memory) UpsertScanDefinition(ctx context.Context, d *scan.Definition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ID == "" {
		return patrowl.NewValidationError("store.UpsertScanDefinition", fmt.Errorf("definition ID is required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *d
	m.definitions[d.ID] = &c
	return nil
}

func (m *Memory) GetScanDefinition(ctx context.Context, id string) (*scan.Definition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.definitions[id]
	if !ok {
		return nil, patrowl.NewNotFoundError("store.GetScanDefinition", patrowl.ErrScanNotFound).
			WithContext(map[string]any{"definition_id": id})
	}
	c := *d
	return &c, nil
}

func (m *Memory) AppendEvent(ctx context.Context, e *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.FindingID == "" {
		return patrowl.NewValidationError("store.AppendEvent", fmt.Errorf("event requires a finding ID"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c := *e
	m.events[e.FindingID] = append(m.events[e.FindingID], &c)
	return nil
}

func (m *Memory) ListEventsForFinding(ctx context.Context, findingID string) ([]*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.events[findingID]
	out := make([]*event.Event, 0, len(stored))
	for _, e := range stored {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (m *Memory) CreateAsset(ctx context.Context, a *asset.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return patrowl.NewValidationError("store.CreateAsset", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assets[a.ID]; ok {
		return patrowl.NewValidationError("store.CreateAsset", fmt.Errorf("asset %s already exists", a.ID))
	}
	m.assets[a.ID] = cloneAsset(a)
	return nil
}

func (m *Memory) GetAsset(ctx context.Context, id string) (*asset.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.assets[id]
	if !ok {
		return nil, assetNotFound("store.GetAsset", id)
	}
	return cloneAsset(a), nil
}

func (m *Memory) GetAssetByValue(ctx context.Context, ownerID, value string) (*asset.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.assets {
		if a.OwnerID == ownerID && a.Value == value {
			return cloneAsset(a), nil
		}
	}
	return nil, patrowl.NewNotFoundError("store.GetAssetByValue", patrowl.ErrAssetNotFound).
		WithContext(map[string]any{"owner_id": ownerID, "value": value})
}

func (m *Memory) UpdateAsset(ctx context.Context, a *asset.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.assets[a.ID]; !ok {
		return assetNotFound("store.UpdateAsset", a.ID)
	}
	m.assets[a.ID] = cloneAsset(a)
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
