package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/event"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/scan"
)

// DefaultKeyPrefix prefixes every key written by Redis.
const DefaultKeyPrefix = "patrowl"

// Redis is a Store backed by a Redis server. Records are stored as JSON
// strings; ordering and secondary indexes use sets and lists:
//
//	<prefix>:finding:<id>               finding JSON
//	<prefix>:findings                   set of finding ids
//	<prefix>:asset:<id>:findings        set of finding ids of an asset
//	<prefix>:hash:<asset>:<hash>        set of finding ids sharing a hash
//	<prefix>:raw:<id>                   raw finding JSON
//	<prefix>:scan:<id>:raw              list of raw finding ids (insertion order)
//	<prefix>:scan:<id>                  scan JSON
//	<prefix>:definition:<id>:scans      set of scan ids
//	<prefix>:definition:<id>            definition JSON
//	<prefix>:finding:<id>:events        list of event JSON
//	<prefix>:asset:<id>                 asset JSON
//	<prefix>:asset-value:<owner>:<val>  asset id
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis wraps a connected client. An empty prefix uses DefaultKeyPrefix.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

var _ Store = (*Redis)(nil)

func (r *Redis) key(parts ...string) string {
	k := r.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (r *Redis) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (r *Redis) CreateFinding(ctx context.Context, f *finding.Finding) error {
	const op = "store.CreateFinding"
	if err := f.Validate(); err != nil {
		return patrowl.NewValidationError(op, err)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}

	ok, err := r.client.SetNX(ctx, r.key("finding", f.ID), data, 0).Result()
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	if !ok {
		return patrowl.NewValidationError(op, fmt.Errorf("finding %s already exists", f.ID))
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.key("findings"), f.ID)
		pipe.SAdd(ctx, r.key("asset", f.AssetID, "findings"), f.ID)
		pipe.SAdd(ctx, r.key("hash", f.AssetID, f.Hash), f.ID)
		return nil
	})
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) GetFinding(ctx context.Context, id string) (*finding.Finding, error) {
	var f finding.Finding
	ok, err := r.getJSON(ctx, r.key("finding", id), &f)
	if err != nil {
		return nil, patrowl.NewStorageError("store.GetFinding", err)
	}
	if !ok {
		return nil, findingNotFound("store.GetFinding", id)
	}
	return &f, nil
}

func (r *Redis) UpdateFinding(ctx context.Context, f *finding.Finding) error {
	const op = "store.UpdateFinding"

	old, err := r.GetFinding(ctx, f.ID)
	if err != nil {
		if patrowl.IsNotFound(err) {
			return findingNotFound(op, f.ID)
		}
		return err
	}

	data, err := json.Marshal(f)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key("finding", f.ID), data, 0)
		if old.AssetID != f.AssetID || old.Hash != f.Hash {
			pipe.SRem(ctx, r.key("asset", old.AssetID, "findings"), f.ID)
			pipe.SRem(ctx, r.key("hash", old.AssetID, old.Hash), f.ID)
			pipe.SAdd(ctx, r.key("asset", f.AssetID, "findings"), f.ID)
			pipe.SAdd(ctx, r.key("hash", f.AssetID, f.Hash), f.ID)
		}
		return nil
	})
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) DeleteFinding(ctx context.Context, id string) error {
	const op = "store.DeleteFinding"

	old, err := r.GetFinding(ctx, id)
	if err != nil {
		if patrowl.IsNotFound(err) {
			return findingNotFound(op, id)
		}
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key("finding", id))
		pipe.SRem(ctx, r.key("findings"), id)
		pipe.SRem(ctx, r.key("asset", old.AssetID, "findings"), id)
		pipe.SRem(ctx, r.key("hash", old.AssetID, old.Hash), id)
		return nil
	})
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) ListFindings(ctx context.Context) ([]*finding.Finding, error) {
	return r.findingsInSet(ctx, "store.ListFindings", r.key("findings"))
}

func (r *Redis) ListFindingsForAsset(ctx context.Context, assetID string) ([]*finding.Finding, error) {
	return r.findingsInSet(ctx, "store.ListFindingsForAsset", r.key("asset", assetID, "findings"))
}

func (r *Redis) findingsInSet(ctx context.Context, op, setKey string) ([]*finding.Finding, error) {
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, patrowl.NewStorageError(op, err)
	}

	out := make([]*finding.Finding, 0, len(ids))
	err = r.mget(ctx, r.prefixed("finding", ids), func(data []byte) error {
		var f finding.Finding
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		out = append(out, &f)
		return nil
	})
	if err != nil {
		return nil, patrowl.NewStorageError(op, err)
	}

	sortFindings(out)
	return out, nil
}

// FindFindingByHash returns the oldest finding of the asset with that hash,
// matching Memory when several findings share it.
func (r *Redis) FindFindingByHash(ctx context.Context, assetID, hash string) (*finding.Finding, error) {
	const op = "store.FindFindingByHash"

	matches, err := r.findingsInSet(ctx, op, r.key("hash", assetID, hash))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, patrowl.NewNotFoundError(op, patrowl.ErrFindingNotFound).
			WithContext(map[string]any{"asset_id": assetID, "hash": hash})
	}
	return matches[0], nil
}

func (r *Redis) CreateRawFinding(ctx context.Context, rf *finding.RawFinding) error {
	const op = "store.CreateRawFinding"
	if err := rf.Validate(); err != nil {
		return patrowl.NewValidationError(op, err)
	}

	data, err := json.Marshal(rf)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}

	ok, err := r.client.SetNX(ctx, r.key("raw", rf.ID), data, 0).Result()
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	if !ok {
		return patrowl.NewValidationError(op, fmt.Errorf("raw finding %s already exists", rf.ID))
	}

	if err := r.client.RPush(ctx, r.key("scan", rf.ScanID, "raw"), rf.ID).Err(); err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) GetRawFinding(ctx context.Context, id string) (*finding.RawFinding, error) {
	var rf finding.RawFinding
	ok, err := r.getJSON(ctx, r.key("raw", id), &rf)
	if err != nil {
		return nil, patrowl.NewStorageError("store.GetRawFinding", err)
	}
	if !ok {
		return nil, rawFindingNotFound("store.GetRawFinding", id)
	}
	return &rf, nil
}

func (r *Redis) UpdateRawFinding(ctx context.Context, rf *finding.RawFinding) error {
	const op = "store.UpdateRawFinding"

	old, err := r.GetRawFinding(ctx, rf.ID)
	if err != nil {
		if patrowl.IsNotFound(err) {
			return rawFindingNotFound(op, rf.ID)
		}
		return err
	}
	if old.ScanID != rf.ScanID {
		return patrowl.NewValidationError(op, fmt.Errorf("raw finding cannot move to another scan"))
	}

	data, err := json.Marshal(rf)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}
	if err := r.client.Set(ctx, r.key("raw", rf.ID), data, 0).Err(); err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) ListRawFindingsForScan(ctx context.Context, scanID string) ([]*finding.RawFinding, error) {
	const op = "store.ListRawFindingsForScan"

	ids, err := r.client.LRange(ctx, r.key("scan", scanID, "raw"), 0, -1).Result()
	if err != nil {
		return nil, patrowl.NewStorageError(op, err)
	}

	out := make([]*finding.RawFinding, 0, len(ids))
	err = r.mget(ctx, r.prefixed("raw", ids), func(data []byte) error {
		var rf finding.RawFinding
		if err := json.Unmarshal(data, &rf); err != nil {
			return err
		}
		out = append(out, &rf)
		return nil
	})
	if err != nil {
		return nil, patrowl.NewStorageError(op, err)
	}
	return out, nil
}

func (r *Redis) CreateScan(ctx context.Context, s *scan.Scan) error {
	const op = "store.CreateScan"
	if err := s.Validate(); err != nil {
		return patrowl.NewValidationError(op, err)
	}

	data, err := json.Marshal(s)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}

	ok, err := r.client.SetNX(ctx, r.key("scan", s.ID), data, 0).Result()
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	if !ok {
		return patrowl.NewValidationError(op, fmt.Errorf("scan %s already exists", s.ID))
	}

	if s.DefinitionID != "" {
		if err := r.client.SAdd(ctx, r.key("definition", s.DefinitionID, "scans"), s.ID).Err(); err != nil {
			return patrowl.NewStorageError(op, err)
		}
	}
	return nil
}

func (r *Redis) UpdateScan(ctx context.Context, s *scan.Scan) error {
	const op = "store.UpdateScan"

	old, err := r.GetScan(ctx, s.ID)
	if err != nil {
		if patrowl.IsNotFound(err) {
			return scanNotFound(op, s.ID)
		}
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key("scan", s.ID), data, 0)
		if old.DefinitionID != s.DefinitionID {
			if old.DefinitionID != "" {
				pipe.SRem(ctx, r.key("definition", old.DefinitionID, "scans"), s.ID)
			}
			if s.DefinitionID != "" {
				pipe.SAdd(ctx, r.key("definition", s.DefinitionID, "scans"), s.ID)
			}
		}
		return nil
	})
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) GetScan(ctx context.Context, id string) (*scan.Scan, error) {
	var s scan.Scan
	ok, err := r.getJSON(ctx, r.key("scan", id), &s)
	if err != nil {
		return nil, patrowl.NewStorageError("store.GetScan", err)
	}
	if !ok {
		return nil, scanNotFound("store.GetScan", id)
	}
	return &s, nil
}

func (r *Redis) ListFinishedSiblingScans(ctx context.Context, definitionID, excludeScanID string) ([]*scan.Scan, error) {
	const op = "store.ListFinishedSiblingScans"

	ids, err := r.client.SMembers(ctx, r.key("definition", definitionID, "scans")).Result()
	if err != nil {
		return nil, patrowl.NewStorageError(op, err)
	}

	var out []*scan.Scan
	err = r.mget(ctx, r.prefixed("scan", ids), func(data []byte) error {
		var s scan.Scan
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s.ID != excludeScanID && s.IsFinished() {
			out = append(out, &s)
		}
		return nil
	})
	if err != nil {
		return nil, patrowl.NewStorageError(op, err)
	}

	sort.Slice(out, func(i, j int) bool { return scan.Less(out[i], out[j]) })
	return out, nil
}

func (r *Redis) UpsertScanDefinition(ctx context.Context, d *scan.Definition) error {
	const op = "store.UpsertScanDefinition"
	if d.ID == "" {
		return patrowl.NewValidationError(op, fmt.Errorf("definition ID is required"))
	}

	data, err := json.Marshal(d)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}
	if err := r.client.Set(ctx, r.key("definition", d.ID), data, 0).Err(); err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) GetScanDefinition(ctx context.Context, id string) (*scan.Definition, error) {
	var d scan.Definition
	ok, err := r.getJSON(ctx, r.key("definition", id), &d)
	if err != nil {
		return nil, patrowl.NewStorageError("store.GetScanDefinition", err)
	}
	if !ok {
		return nil, patrowl.NewNotFoundError("store.GetScanDefinition", patrowl.ErrScanNotFound).
			WithContext(map[string]any{"definition_id": id})
	}
	return &d, nil
}

func (r *Redis) AppendEvent(ctx context.Context, e *event.Event) error {
	const op = "store.AppendEvent"
	if e.FindingID == "" {
		return patrowl.NewValidationError(op, fmt.Errorf("event requires a finding ID"))
	}

	data, err := json.Marshal(e)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}
	if err := r.client.RPush(ctx, r.key("finding", e.FindingID, "events"), data).Err(); err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) ListEventsForFinding(ctx context.Context, findingID string) ([]*event.Event, error) {
	const op = "store.ListEventsForFinding"

	items, err := r.client.LRange(ctx, r.key("finding", findingID, "events"), 0, -1).Result()
	if err != nil {
		return nil, patrowl.NewStorageError(op, err)
	}

	out := make([]*event.Event, 0, len(items))
	for _, item := range items {
		var e event.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, patrowl.NewStorageError(op, fmt.Errorf("failed to unmarshal event: %w", err))
		}
		out = append(out, &e)
	}
	return out, nil
}

func (r *Redis) CreateAsset(ctx context.Context, a *asset.Asset) error {
	const op = "store.CreateAsset"
	if err := a.Validate(); err != nil {
		return patrowl.NewValidationError(op, err)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}

	ok, err := r.client.SetNX(ctx, r.key("asset-value", a.OwnerID, a.Value), a.ID, 0).Result()
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	if !ok {
		return patrowl.NewValidationError(op, fmt.Errorf("asset %q already exists", a.Value))
	}

	if err := r.client.Set(ctx, r.key("asset", a.ID), data, 0).Err(); err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

func (r *Redis) GetAsset(ctx context.Context, id string) (*asset.Asset, error) {
	var a asset.Asset
	ok, err := r.getJSON(ctx, r.key("asset", id), &a)
	if err != nil {
		return nil, patrowl.NewStorageError("store.GetAsset", err)
	}
	if !ok {
		return nil, assetNotFound("store.GetAsset", id)
	}
	return &a, nil
}

func (r *Redis) GetAssetByValue(ctx context.Context, ownerID, value string) (*asset.Asset, error) {
	const op = "store.GetAssetByValue"

	id, err := r.client.Get(ctx, r.key("asset-value", ownerID, value)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, patrowl.NewNotFoundError(op, patrowl.ErrAssetNotFound).
				WithContext(map[string]any{"owner_id": ownerID, "value": value})
		}
		return nil, patrowl.NewStorageError(op, err)
	}
	return r.GetAsset(ctx, id)
}

func (r *Redis) UpdateAsset(ctx context.Context, a *asset.Asset) error {
	const op = "store.UpdateAsset"

	ok, err := r.exists(ctx, r.key("asset", a.ID))
	if err != nil {
		return patrowl.NewStorageError(op, err)
	}
	if !ok {
		return assetNotFound(op, a.ID)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return patrowl.NewInternalError(op, err)
	}
	if err := r.client.Set(ctx, r.key("asset", a.ID), data, 0).Err(); err != nil {
		return patrowl.NewStorageError(op, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

// prefixed builds <prefix>:<kind>:<id> keys for ids.
func (r *Redis) prefixed(kind string, ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(kind, id)
	}
	return keys
}

// mget fetches keys in one round trip and calls fn for every key that still
// exists, in key order.
func (r *Redis) mget(ctx context.Context, keys []string, fn func([]byte) error) error {
	if len(keys) == 0 {
		return nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return err
	}

	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// deleted between the index read and the fetch
			continue
		}
		if err := fn([]byte(s)); err != nil {
			return err
		}
	}
	return nil
}
