package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvandessel/funnelsim/internal/constants"
)

// AuditFile is the audit log inside the state directory.
const AuditFile = "audit.jsonl"

// AuditEntry records one MCP tool invocation. It carries run parameters
// but never filesystem paths.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	RunID      string            `json:"run_id,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// AuditLogger appends entries to <root>/.funnelsim/audit.jsonl. It is safe
// for concurrent use, and a nil AuditLogger is a no-op.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
}

// NewAuditLogger opens the audit log under root. If the file cannot be
// created a warning goes to stderr and nil is returned; auditing is never
// fatal.
func NewAuditLogger(root string) *AuditLogger {
	dir := filepath.Join(root, constants.StateDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot create audit log directory %s: %v\n", dir, err)
		return nil
	}

	path := filepath.Join(dir, AuditFile)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot open audit log %s: %v\n", path, err)
		return nil
	}
	return &AuditLogger{file: f}
}

// Log appends entry as one JSON line.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_, _ = a.file.Write(data)
	}
}

// Close closes the log file.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// safeParams are logged with their values; presenceParams only as "(set)".
// Anything else is dropped.
var (
	safeParams = map[string]bool{
		"lambda":      true,
		"decay":       true,
		"users":       true,
		"items":       true,
		"top_k":       true,
		"steps":       true,
		"trials":      true,
		"seed":        true,
		"policy":      true,
		"limit":       true,
		"source":      true,
		"conversions": true,
	}
	presenceParams = map[string]bool{
		"data_dir": true,
		"run_id":   true,
	}
)

// sanitizeToolParams reduces tool arguments to loggable metadata. Nil values
// are omitted; a "_param_count" key records how many were set.
func sanitizeToolParams(params map[string]any) map[string]string {
	if params == nil {
		return nil
	}

	result := make(map[string]string)
	var count int
	for key, val := range params {
		if val == nil {
			continue
		}
		count++
		switch {
		case safeParams[key]:
			result[key] = fmt.Sprintf("%v", val)
		case presenceParams[key]:
			result[key] = "(set)"
		}
	}
	result["_param_count"] = fmt.Sprintf("%d", count)
	return result
}

// auditTool logs a tool invocation.
func (s *Server) auditTool(toolName string, start time.Time, err error, runID string, params map[string]string) {
	status := "success"
	errMsg := ""
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}

	s.auditLogger.Log(AuditEntry{
		Timestamp:  start,
		Tool:       toolName,
		DurationMs: time.Since(start).Milliseconds(),
		Status:     status,
		Error:      errMsg,
		RunID:      runID,
		Params:     params,
	})
}
