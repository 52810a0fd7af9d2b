package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

type readyReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewBaseMuxWithReady serves /healthz and /readyz. Checks run concurrently
// with a 2s budget each; /readyz answers 503 when any of them fails.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, http.StatusOK, readyReport{Status: "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		report := runChecks(r.Context(), checks)
		status := http.StatusOK
		if report.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		writeReport(w, status, report)
	})
	return mux
}

func runChecks(ctx context.Context, checks []ReadyCheck) readyReport {
	report := readyReport{Status: "ok", Checks: map[string]string{}}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		name := check.Name
		if name == "" {
			name = "dependency"
		}
		wg.Add(1)
		go func(name string, fn func(context.Context) error) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			result := "ok"
			if err := fn(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			if result != "ok" {
				report.Status = "unavailable"
			}
		}(name, check.Check)
	}
	wg.Wait()
	return report
}

func writeReport(w http.ResponseWriter, status int, report readyReport) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(report)
}
