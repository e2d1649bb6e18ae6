// Package importer loads scanner reports into the findings store.
//
// An import goes through three steps. The API saves the upload with
// Uploads.Save and queues a queue.ImportJob. A Worker pops the job and
// hands it to a Processor. The Processor parses the report with the
// engine's Parser, records a finished scan and its raw findings, and
// creates or refreshes findings.
//
// Supported engines:
//
//	json   a native list of findings
//	trivy  Trivy JSON reports (trivy image -f json)
//	sarif  SARIF 2.1.0 logs
//
// Each import is a scan of the definition scan.ImportDefinitionID(owner,
// engine). Successive imports of the same kind are therefore siblings, and
// the tracker can tell in which of them a finding reappeared.
package importer
