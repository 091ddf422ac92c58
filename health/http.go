package health

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"
)

// Report is the JSON body of /readyz.
type Report struct {
	Status    Status        `json:"status"`
	CheckedAt time.Time     `json:"checked_at"`
	Checks    []CheckReport `json:"checks,omitempty"`
}

// CheckReport is the JSON form of one Result.
type CheckReport struct {
	Name     string         `json:"name"`
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Check returns the report entry for name, if present.
func (r Report) Check(name string) (CheckReport, bool) {
	i := slices.IndexFunc(r.Checks, func(c CheckReport) bool { return c.Name == name })
	if i < 0 {
		return CheckReport{}, false
	}
	return r.Checks[i], true
}

// NewReport summarizes results with checks sorted by name.
func NewReport(results map[string]Result, now time.Time) Report {
	rep := Report{Status: OverallStatus(results), CheckedAt: now.UTC()}
	for name, res := range results {
		c := CheckReport{
			Name:     name,
			Status:   res.Status,
			Message:  res.Message,
			Duration: res.Duration.Round(time.Microsecond).String(),
			Details:  res.Details,
		}
		if res.Error != nil {
			c.Error = res.Error.Error()
		}
		rep.Checks = append(rep.Checks, c)
	}
	slices.SortFunc(rep.Checks, func(a, b CheckReport) int { return strings.Compare(a.Name, b.Name) })
	return rep
}

// LivenessHandler answers 200 while the process can serve requests. It
// runs no checks.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	}
}

// ReadinessHandler runs every registered check and answers with a Report.
// Only an unhealthy chain answers 503; a degraded one still takes logins.
func ReadinessHandler(agg *Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := NewReport(agg.CheckAll(r.Context()), time.Now())
		code := http.StatusOK
		if rep.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(rep)
	}
}

// Router is the subset of a chi router the probes are mounted on.
type Router interface {
	Get(pattern string, h http.HandlerFunc)
}

// RegisterHandlers mounts /healthz and /readyz on r.
func RegisterHandlers(r Router, agg *Aggregator) {
	r.Get("/healthz", LivenessHandler())
	r.Get("/readyz", ReadinessHandler(agg))
}
