// Audit logging: structured JSONL events describing each export job, so
// failed or slow exports can be reconstructed after the fact without
// grepping category logs.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies the kind of audit event.
type AuditEventType string

const (
	// Export lifecycle
	AuditExportStart    AuditEventType = "export_start"
	AuditExportStage    AuditEventType = "export_stage"
	AuditExportComplete AuditEventType = "export_complete"
	AuditExportFailed   AuditEventType = "export_failed"

	// Capture operations
	AuditCaptureNode AuditEventType = "capture_node"

	// Output files
	AuditFileWrite AuditEventType = "file_write"
)

// AuditEvent is one JSONL line in the audit log.
type AuditEvent struct {
	Timestamp  int64          `json:"ts"` // Unix milliseconds
	EventType  AuditEventType `json:"event"`
	JobID      string         `json:"job,omitempty"`    // Export job correlation
	Flavor     string         `json:"flavor,omitempty"` // global or report
	Target     string         `json:"target,omitempty"` // selector, stage name, or file path
	Success    bool           `json:"success"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Pages      int            `json:"pages,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"msg,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit log file. No-op unless debug mode is on.
func InitAudit() error {
	optsMu.RLock()
	enabled := opts.DebugMode
	optsMu.RUnlock()
	if !enabled || logsDir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))
	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger scopes audit events to one export job.
type AuditLogger struct {
	jobID  string
	flavor string
}

// AuditForJob creates an audit logger scoped to an export job.
func AuditForJob(jobID, flavor string) *AuditLogger {
	return &AuditLogger{jobID: jobID, flavor: flavor}
}

// Log writes an audit event line.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.JobID == "" {
		event.JobID = a.jobID
	}
	if event.Flavor == "" {
		event.Flavor = a.flavor
	}

	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// Start logs the beginning of an export job.
func (a *AuditLogger) Start(target string) {
	a.Log(AuditEvent{
		EventType: AuditExportStart,
		Target:    target,
		Success:   true,
		Message:   fmt.Sprintf("export started: %s", target),
	})
}

// Stage logs an orchestrator state transition.
func (a *AuditLogger) Stage(stage string) {
	a.Log(AuditEvent{
		EventType: AuditExportStage,
		Target:    stage,
		Success:   true,
	})
}

// Capture logs one rasterization call.
func (a *AuditLogger) Capture(selector string, durationMs int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType:  AuditCaptureNode,
		Target:     selector,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// Complete logs a finished export job.
func (a *AuditLogger) Complete(path string, pages int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditExportComplete,
		Target:     path,
		Success:    true,
		Pages:      pages,
		DurationMs: durationMs,
		Message:    fmt.Sprintf("export complete: %s (%d pages)", path, pages),
	})
}

// Failed logs an aborted export job.
func (a *AuditLogger) Failed(stage string, err error, durationMs int64) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	a.Log(AuditEvent{
		EventType:  AuditExportFailed,
		Target:     stage,
		Success:    false,
		DurationMs: durationMs,
		Error:      msg,
	})
}

// FileWrite logs an output file write.
func (a *AuditLogger) FileWrite(path string, size int64, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditFileWrite,
		Target:    path,
		Success:   success,
		Error:     errMsg,
		Message:   fmt.Sprintf("wrote %s (%d bytes)", path, size),
	})
}
