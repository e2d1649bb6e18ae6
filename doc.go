// Package patrowl is the root of the Patrowl findings manager.
//
// The findings manager tracks vulnerability findings reported against
// scanned assets. It lists, imports, edits, compares and deletes findings,
// and explains the history of a finding across the scans of one scan
// definition.
//
// # Packages
//
//   - finding: Finding and RawFinding models, severities, statuses, content hash
//   - scan, event, asset: the records findings refer to
//   - store: repositories (in-memory and Redis)
//   - tracker: occurrence tracking and timeline construction
//   - search: query filters, CEL expressions and pagination
//   - queue, importer: asynchronous report import
//   - service: the application operations
//   - httpapi: JSON HTTP surface
//   - config, health, registry, telemetry: runtime plumbing
//
// This package holds the error taxonomy shared by all of them. Errors carry
// an operation and a kind:
//
//	f, err := store.GetFinding(ctx, id)
//	if patrowl.IsNotFound(err) {
//		// 404
//	}
package patrowl
