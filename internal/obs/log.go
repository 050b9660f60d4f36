package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	logMu  sync.Once
	logOut *log.Logger
)

// Logger returns the process-wide logger. Output is one JSON object per
// line on stdout so the collector can ingest it without a parser config.
func Logger() *log.Logger {
	logMu.Do(func() {
		logOut = log.New(os.Stdout, "", 0)
	})
	return logOut
}

// LogRequest serializes entry as a single JSON line. Used by the HTTP
// middleware for per-request access logs.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"access log entry not serializable"}`)
		return
	}
	Logger().Println(string(data))
}
