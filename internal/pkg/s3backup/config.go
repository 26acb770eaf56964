package s3backup

import (
	"fmt"
	"strings"
	"time"
)

// ObjectKey returns the key of one archive batch:
// <prefix>/YYYY/MM/DD/<first id>-<last id>.jsonl
func ObjectKey(prefix string, day time.Time, firstID, lastID uint) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "webhook-deliveries"
	}
	day = day.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%010d-%010d.jsonl",
		prefix, day.Year(), int(day.Month()), day.Day(), firstID, lastID)
}
