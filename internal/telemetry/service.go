// Package telemetry records and aggregates structured events about agent
// invocations. It is a log, not a relational store: outcomes reference
// invocations by id without enforcement, and consumers must tolerate
// orphaned or duplicate outcome records.
package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/basket/agenthub/internal/eventlog"
	"github.com/google/uuid"
)

// InvocationEvent is one discrete request to perform work, logged before its
// outcome is known. Immutable after append.
type InvocationEvent struct {
	Timestamp       string         `json:"timestamp"`
	AgentName       string         `json:"agent_name"`
	TaskDescription string         `json:"task_description"`
	StateFeatures   map[string]any `json:"state_features,omitempty"`
	InvocationID    string         `json:"invocation_id"`
}

// OutcomeEvent is a later-arriving record describing how an invocation
// concluded. An invocation may have zero, one, or many outcomes.
type OutcomeEvent struct {
	Timestamp       string   `json:"timestamp"`
	InvocationID    string   `json:"invocation_id"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Outcome         string   `json:"outcome,omitempty"`
	QualityScore    *int     `json:"quality_score,omitempty"`
}

// GapEvent records a task no agent could be routed to.
type GapEvent struct {
	Timestamp       string `json:"timestamp"`
	TaskDescription string `json:"task_description"`
	Reason          string `json:"reason,omitempty"`
}

// AgentMetrics is the per-agent aggregate served by Metrics.
type AgentMetrics struct {
	InvocationCount int      `json:"invocation_count"`
	MeanDuration    *float64 `json:"mean_duration_seconds,omitempty"`
	MeanQuality     *float64 `json:"mean_quality_score,omitempty"`
}

// QueryFilter holds the conjunctive optional predicates for Query.
type QueryFilter struct {
	AgentName string
	Start     time.Time
	End       time.Time
	Limit     int
}

// Service validates and appends events to the store and answers point and
// aggregate queries over them.
type Service struct {
	store  *eventlog.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store *eventlog.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// RecordInvocation appends one InvocationEvent and returns its generated id.
func (s *Service) RecordInvocation(agentName, task string, features map[string]any) (string, error) {
	if strings.TrimSpace(agentName) == "" {
		return "", fmt.Errorf("agent_name is required")
	}
	ev := InvocationEvent{
		Timestamp:       s.now().UTC().Format(time.RFC3339Nano),
		AgentName:       agentName,
		TaskDescription: task,
		StateFeatures:   features,
		InvocationID:    uuid.NewString(),
	}
	if err := s.store.Append(eventlog.StreamInvocations, ev); err != nil {
		return "", err
	}
	s.logger.Debug("invocation recorded", "agent", agentName, "invocation_id", ev.InvocationID)
	return ev.InvocationID, nil
}

// RecordOutcome appends one OutcomeEvent. The invocation id is a soft
// reference: it is never checked against previously issued ids.
func (s *Service) RecordOutcome(invocationID string, duration *float64, outcome string, quality *int) error {
	if strings.TrimSpace(invocationID) == "" {
		return fmt.Errorf("invocation_id is required")
	}
	switch outcome {
	case "", "success", "failure", "partial":
	default:
		return fmt.Errorf("invalid outcome %q (want success, failure, or partial)", outcome)
	}
	if quality != nil && (*quality < 1 || *quality > 5) {
		return fmt.Errorf("quality_score %d out of range 1-5", *quality)
	}
	ev := OutcomeEvent{
		Timestamp:       s.now().UTC().Format(time.RFC3339Nano),
		InvocationID:    invocationID,
		DurationSeconds: duration,
		Outcome:         outcome,
		QualityScore:    quality,
	}
	return s.store.Append(eventlog.StreamOutcomes, ev)
}

// RecordGap appends one routing-gap record.
func (s *Service) RecordGap(task, reason string) error {
	ev := GapEvent{
		Timestamp:       s.now().UTC().Format(time.RFC3339Nano),
		TaskDescription: task,
		Reason:          reason,
	}
	return s.store.Append(eventlog.StreamRoutingGaps, ev)
}

// Query returns invocations from today's partition in append order, filtered
// by the supplied predicates, truncated to the most recent limit. The
// partition is fully loaded then filtered in memory; partitions are bounded
// by the calendar day so this stays cheap.
func (s *Service) Query(f QueryFilter) ([]InvocationEvent, error) {
	raw, err := s.store.ReadToday(eventlog.StreamInvocations)
	if err != nil {
		return nil, err
	}

	var out []InvocationEvent
	for _, line := range raw {
		var ev InvocationEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if f.AgentName != "" && ev.AgentName != f.AgentName {
			continue
		}
		if !f.Start.IsZero() || !f.End.IsZero() {
			ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
			if err != nil {
				continue
			}
			if !f.Start.IsZero() && ts.Before(f.Start) {
				continue
			}
			if !f.End.IsZero() && ts.After(f.End) {
				continue
			}
		}
		out = append(out, ev)
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}

// Metrics aggregates today's partition per agent in one pass over each
// stream. Outcomes join to invocations through the soft invocation_id
// reference; orphans are skipped and duplicates count each time. Agents with
// no recorded durations are excluded from the duration mean rather than
// averaged as zero, and likewise for quality.
func (s *Service) Metrics() (map[string]*AgentMetrics, error) {
	rawInv, err := s.store.ReadToday(eventlog.StreamInvocations)
	if err != nil {
		return nil, err
	}

	metrics := make(map[string]*AgentMetrics)
	agentByID := make(map[string]string)
	for _, line := range rawInv {
		var ev InvocationEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		m := metrics[ev.AgentName]
		if m == nil {
			m = &AgentMetrics{}
			metrics[ev.AgentName] = m
		}
		m.InvocationCount++
		agentByID[ev.InvocationID] = ev.AgentName
	}

	rawOut, err := s.store.ReadToday(eventlog.StreamOutcomes)
	if err != nil {
		return nil, err
	}
	type acc struct {
		durSum  float64
		durN    int
		qualSum int
		qualN   int
	}
	accs := make(map[string]*acc)
	for _, line := range rawOut {
		var ev OutcomeEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		agent, ok := agentByID[ev.InvocationID]
		if !ok {
			continue
		}
		a := accs[agent]
		if a == nil {
			a = &acc{}
			accs[agent] = a
		}
		if ev.DurationSeconds != nil {
			a.durSum += *ev.DurationSeconds
			a.durN++
		}
		if ev.QualityScore != nil {
			a.qualSum += *ev.QualityScore
			a.qualN++
		}
	}
	for agent, a := range accs {
		m := metrics[agent]
		if a.durN > 0 {
			mean := a.durSum / float64(a.durN)
			m.MeanDuration = &mean
		}
		if a.qualN > 0 {
			mean := float64(a.qualSum) / float64(a.qualN)
			m.MeanQuality = &mean
		}
	}
	return metrics, nil
}

// Gaps returns the raw contents of today's routing-gap stream, empty when
// the stream does not yet exist.
func (s *Service) Gaps() ([]json.RawMessage, error) {
	return s.store.ReadToday(eventlog.StreamRoutingGaps)
}

// AgentNames returns the agents present in a metrics map in sorted order,
// for stable rendering.
func AgentNames(m map[string]*AgentMetrics) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
