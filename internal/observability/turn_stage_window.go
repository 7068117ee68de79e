package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Pipeline stage names observed per call turn.
const (
	StageDownload   = "recording_download"
	StageTranscribe = "transcribe"
	StageGenerate   = "generate"
	StageSynthesize = "synthesize"
	StageSummarize  = "summarize"
	StageTurnTotal  = "turn_total"
)

// p95 latency targets in milliseconds.
var stageTargetsMS = map[string]float64{
	StageDownload:   1500,
	StageTranscribe: 2500,
	StageGenerate:   3000,
	StageSynthesize: 2500,
	StageSummarize:  5000,
	StageTurnTotal:  8000,
}

type TurnStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	OverTarget  int     `json:"over_target,omitempty"`
}

type TurnIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TurnStageSnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Stages      []TurnStageStats `json:"stages"`
	Indicators  []TurnIndicator  `json:"indicators,omitempty"`
}

// sampleRing keeps the most recent samples of one stage.
type sampleRing struct {
	buf  []float64
	head int
	size int
}

func (r *sampleRing) add(v float64) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

func (r *sampleRing) last() float64 {
	return r.buf[(r.head-1+len(r.buf))%len(r.buf)]
}

// sorted returns a sorted copy of the retained samples.
func (r *sampleRing) sorted() []float64 {
	out := slices.Clone(r.buf[:r.size])
	slices.Sort(out)
	return out
}

// turnStageWindow keeps the recent per-stage latencies served by /v1/perf/latency.
type turnStageWindow struct {
	mu         sync.Mutex
	capacity   int
	rings      map[string]*sampleRing
	indicators map[string]int
}

func newTurnStageWindow(capacity int) *turnStageWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &turnStageWindow{
		capacity:   capacity,
		rings:      make(map[string]*sampleRing),
		indicators: make(map[string]int),
	}
}

func (w *turnStageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 || math.IsNaN(ms) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	r := w.rings[stage]
	if r == nil {
		r = &sampleRing{buf: make([]float64, w.capacity)}
		w.rings[stage] = r
	}
	r.add(ms)
}

func (w *turnStageWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	if name = strings.TrimSpace(name); name == "" {
		return
	}
	w.mu.Lock()
	w.indicators[name]++
	w.mu.Unlock()
}

func (w *turnStageWindow) Snapshot() TurnStageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := TurnStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.capacity,
		Stages:      make([]TurnStageStats, 0, len(w.rings)),
	}
	for _, stage := range slices.Sorted(maps.Keys(w.rings)) {
		r := w.rings[stage]
		if r.size == 0 {
			continue
		}
		snap.Stages = append(snap.Stages, summarizeStage(stage, r))
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		if n := w.indicators[name]; n > 0 {
			snap.Indicators = append(snap.Indicators, TurnIndicator{Name: name, Count: n})
		}
	}
	return snap
}

func summarizeStage(stage string, r *sampleRing) TurnStageStats {
	samples := r.sorted()
	target := stageTargetsMS[stage]

	var sum float64
	over := 0
	for _, v := range samples {
		sum += v
		if target > 0 && v > target {
			over++
		}
	}
	return TurnStageStats{
		Stage:       stage,
		Samples:     len(samples),
		LastMS:      round2(r.last()),
		AvgMS:       round2(sum / float64(len(samples))),
		P50MS:       round2(percentile(samples, 50)),
		P95MS:       round2(percentile(samples, 95)),
		P99MS:       round2(percentile(samples, 99)),
		TargetP95MS: target,
		OverTarget:  over,
	}
}

func (w *turnStageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.rings)
	clear(w.indicators)
}

// percentile interpolates linearly between the closest ranks of sorted.
func percentile(sorted []float64, p float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo, frac := math.Modf(rank)
	i := int(lo)
	if i+1 >= len(sorted) {
		return sorted[i]
	}
	return sorted[i] + (sorted[i+1]-sorted[i])*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
