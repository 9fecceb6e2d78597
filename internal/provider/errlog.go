package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorLog appends one line per failure to <dir>/<accountId>_error_report.txt.
// The file is created on the first failure only.
type ErrorLog struct {
	dir       string
	accountID string

	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// NewErrorLog returns an error log for one account. An empty dir disables it.
func NewErrorLog(dir, accountID string) *ErrorLog {
	return &ErrorLog{dir: dir, accountID: accountID, now: time.Now}
}

// Path returns the report file path.
func (l *ErrorLog) Path() string {
	return filepath.Join(l.dir, l.accountID+"_error_report.txt")
}

// SetAccount changes the account the report is named after. It has no effect
// once the file exists.
func (l *ErrorLog) SetAccount(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		l.accountID = accountID
	}
}

// Record appends a line for a failed operation. A nil log or nil err is a
// no-op.
func (l *ErrorLog) Record(op string, err error) error {
	if l == nil || err == nil || l.dir == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			return fmt.Errorf("create error report dir: %w", err)
		}
		f, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open error report: %w", err)
		}
		l.file = f
	}

	line := fmt.Sprintf("%s\t%s\t%v\n", l.now().UTC().Format(time.RFC3339), op, err)
	if _, err := l.file.WriteString(line); err != nil {
		return fmt.Errorf("write error report: %w", err)
	}
	return nil
}

// Close closes the report file if it was opened.
func (l *ErrorLog) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
