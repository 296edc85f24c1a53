package stats

import (
	"sort"
	"strings"
	"time"

	"der/internal/history"
)

type Stats struct {
	Runs      RunStats       `json:"runs"`
	Entities  EntityStats    `json:"entities"`
	Documents int            `json:"documents"`
	Latency   LatencyStats   `json:"latency"`
	Failures  map[string]int `json:"failures_by_stage"`
	TopInputs []InputStats   `json:"top_inputs"`
	Recent    []RecentRun    `json:"recent,omitempty"`
}

type RunStats struct {
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	LastRun   string `json:"last_run,omitempty"`
	// Last7Days counts runs per day, oldest first.
	Last7Days []int `json:"last_7_days"`
}

type EntityStats struct {
	Total      int            `json:"total"`
	PerRun     float64        `json:"per_run"`
	ByLabel    map[string]int `json:"by_label"`
	ByStrategy map[string]int `json:"runs_by_strategy"`
}

type LatencyStats struct {
	TotalMs float64            `json:"total_ms"`
	StageMs map[string]float64 `json:"stage_ms"`
}

type InputStats struct {
	Path string `json:"path"`
	Runs int    `json:"runs"`
}

type RecentRun struct {
	RunID      string  `json:"run_id"`
	Timestamp  string  `json:"timestamp"`
	InputPath  string  `json:"input_path"`
	Recognizer string  `json:"recognizer"`
	Status     string  `json:"status"`
	ErrorStage string  `json:"error_stage,omitempty"`
	Entities   int     `json:"entities"`
	TotalMs    float64 `json:"total_ms"`
}

type Options struct {
	Now     time.Time
	TopN    int
	RecentN int
}

// CollectFromEntries summarizes history entries. Averages cover successful
// runs only.
func CollectFromEntries(entries []history.Entry, opts Options) Stats {
	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = 5
	}
	recentN := opts.RecentN
	if recentN <= 0 {
		recentN = 10
	}

	out := Stats{
		Runs:     RunStats{Last7Days: make([]int, 7)},
		Entities: EntityStats{ByLabel: map[string]int{}, ByStrategy: map[string]int{}},
		Latency:  LatencyStats{StageMs: map[string]float64{}},
		Failures: map[string]int{},
	}

	inputs := map[string]int{}
	stageCount := map[string]int{}
	var totalSum float64
	var totalCount int
	var last time.Time
	recent := make([]RecentRun, 0, len(entries))

	for _, e := range entries {
		out.Runs.Total++
		if p := strings.TrimSpace(e.InputPath); p != "" {
			inputs[p]++
		}
		if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
			if ts.After(last) {
				last = ts
				out.Runs.LastRun = e.Timestamp
			}
			days := int(now.Sub(ts) / (24 * time.Hour))
			if now.Sub(ts) >= 0 && days < 7 {
				out.Runs.Last7Days[6-days]++
			}
		}

		recent = append(recent, RecentRun{
			RunID:      e.RunID,
			Timestamp:  e.Timestamp,
			InputPath:  e.InputPath,
			Recognizer: e.Recognizer,
			Status:     e.Status,
			ErrorStage: e.ErrorStage,
			Entities:   e.Entities,
			TotalMs:    e.TotalMs,
		})

		if e.Status != history.StatusOK {
			out.Runs.Failed++
			stage := e.ErrorStage
			if stage == "" {
				stage = "unknown"
			}
			out.Failures[stage]++
			continue
		}
		out.Runs.Succeeded++
		out.Documents += e.Documents
		out.Entities.Total += e.Entities
		for label, n := range e.ByLabel {
			out.Entities.ByLabel[strings.ToUpper(label)] += n
		}
		if e.Strategy != "" {
			out.Entities.ByStrategy[e.Strategy]++
		}
		if e.TotalMs > 0 {
			totalSum += e.TotalMs
			totalCount++
		}
		for stage, ms := range e.StageMs {
			out.Latency.StageMs[stage] += ms
			stageCount[stage]++
		}
	}

	if out.Runs.Succeeded > 0 {
		out.Entities.PerRun = float64(out.Entities.Total) / float64(out.Runs.Succeeded)
	}
	if totalCount > 0 {
		out.Latency.TotalMs = totalSum / float64(totalCount)
	}
	for stage, sum := range out.Latency.StageMs {
		out.Latency.StageMs[stage] = sum / float64(stageCount[stage])
	}

	for p, c := range inputs {
		out.TopInputs = append(out.TopInputs, InputStats{Path: p, Runs: c})
	}
	sort.Slice(out.TopInputs, func(i, j int) bool {
		if out.TopInputs[i].Runs == out.TopInputs[j].Runs {
			return out.TopInputs[i].Path < out.TopInputs[j].Path
		}
		return out.TopInputs[i].Runs > out.TopInputs[j].Runs
	})
	if len(out.TopInputs) > topN {
		out.TopInputs = out.TopInputs[:topN]
	}

	for i := len(recent) - 1; i >= 0 && len(out.Recent) < recentN; i-- {
		out.Recent = append(out.Recent, recent[i])
	}
	return out
}
