package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// WebhookLog archives raw webhook bodies under dir/DD-MM-YYYY/, one file per
// delivery, before they are processed.
type WebhookLog struct {
	dir string
	now func() time.Time
}

func NewWebhookLog(dir string) *WebhookLog {
	return &WebhookLog{dir: dir, now: time.Now}
}

// Save writes raw and returns the file path. Files are never overwritten;
// two deliveries in the same second get distinct names.
func (l *WebhookLog) Save(raw []byte) (string, error) {
	at := l.now().UTC()
	day := filepath.Join(l.dir, at.Format("02-01-2006"))
	if err := os.MkdirAll(day, 0o750); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", at.Format("15-04-05"), uuid.NewString()[:8])
	path := filepath.Join(day, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create audit file: %w", err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write audit file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("sync audit file: %w", err)
	}
	return path, f.Close()
}
