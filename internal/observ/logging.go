package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log emits one structured JSON line to stdout. Every component logs through
// this so the output stays machine-parseable end to end.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// Warn is Log with a level marker for conditions that are tolerated but
// should stand out in the stream (clamped confidence, dropped sessions).
func Warn(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["level"] = "warn"
	Log(event, kv)
}

// Error is Log with a level marker for failed external calls.
func Error(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["level"] = "error"
	if err != nil {
		kv["error"] = err.Error()
	}
	Log(event, kv)
}
