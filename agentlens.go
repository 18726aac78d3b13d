// Package agentlens reconstructs semantically meaningful task hierarchies
// from distributed-tracing spans of agentic workloads (LLM calls, tool
// calls, sub-agent invocations) and computes rollup statistics over the
// resulting trees.
package agentlens

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultConcurrency bounds how many traces are analyzed in parallel.
const DefaultConcurrency = 4

// Option is a functional option for configuring an Analyzer.
type Option func(*Analyzer)

// WithFrameworks registers the framework variants whose spans the
// analyzer understands.
func WithFrameworks(frameworks ...Framework) Option {
	return func(a *Analyzer) {
		a.frameworks = append(a.frameworks, frameworks...)
	}
}

// WithLogger sets the logger. Default discards all output.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithRepository sets the persistence collaborator. When set, finished
// tasks and metrics are stored after each trace completes, and prior
// related-element records are consulted during traversal.
func WithRepository(repo Repository) Option {
	return func(a *Analyzer) {
		a.repo = repo
	}
}

// WithConcurrency bounds the number of traces analyzed in parallel.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// Analyzer is the entry point of the package: it builds span trees,
// reconstructs task hierarchies per trace and computes metric rollups.
type Analyzer struct {
	frameworks  []Framework
	repo        Repository
	logger      *slog.Logger
	concurrency int
}

// New creates an Analyzer.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		logger:      defaultLogger,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// TraceResult is the outcome of analyzing one trace.
type TraceResult struct {
	TraceID string

	// Tasks is the flattened task map, keyed by task ID.
	Tasks map[string]*FlatTask

	// Metrics holds the per-task rollup records, keyed by task ID.
	Metrics map[string]*TaskMetrics

	// Records holds the typed metric entities derived from Metrics.
	Records []*Metric
}

// Analyze reconstructs task trees and computes metrics for every trace in
// the given span list. Traces are independent and run concurrently, each
// with its own traversal context. A failing trace is dropped from the
// result map and reported in the returned error; successful traces are
// unaffected.
func (a *Analyzer) Analyze(ctx context.Context, spans []*Span) (map[string]*TraceResult, error) {
	ctx = ctxWithLogger(ctx, a.logger)

	reg := NewRegistry()
	for _, f := range a.frameworks {
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}

	byTrace := make(map[string][]*Span)
	for _, s := range spans {
		byTrace[s.TraceID] = append(byTrace[s.TraceID], s)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]*TraceResult, len(byTrace))
		errs    []error
		sem     = make(chan struct{}, a.concurrency)
	)

	for traceID, traceSpans := range byTrace {
		wg.Add(1)
		sem <- struct{}{}
		go func(traceID string, traceSpans []*Span) {
			defer wg.Done()
			defer func() { <-sem }()

			// A structurally broken trace fails alone, never the batch.
			result, err := a.analyzeTrace(ctx, reg, traceID, traceSpans)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.logger.Error("trace analysis failed", "trace_id", traceID, "error", err)
				errs = append(errs, goerr.Wrap(err, "trace analysis failed", goerr.V("trace_id", traceID)))
				return
			}
			results[traceID] = result
		}(traceID, traceSpans)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}

// analyzeTrace runs the full pipeline for one trace: tree linking,
// traversal, rollup, metric records, optional persistence.
func (a *Analyzer) analyzeTrace(ctx context.Context, reg *Registry, traceID string, spans []*Span) (*TraceResult, error) {
	roots, err := linkSpans(spans)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build span tree")
	}

	var visitorOpts []VisitorOption
	if a.repo != nil {
		visitorOpts = append(visitorOpts, WithVisitorRepository(a.repo))
	}

	visitors := make([]*Visitor, 0, len(reg.Frameworks()))
	for _, f := range reg.Frameworks() {
		visitors = append(visitors, NewVisitor(f, visitorOpts...))
	}

	tc, err := NewWalker(visitors...).Walk(ctx, traceID, roots)
	if err != nil {
		return nil, err
	}

	metrics, err := ComputeTaskMetrics(ctx, tc.Tasks)
	if err != nil {
		return nil, err
	}

	records, err := MetricRecords(traceID, tc.Tasks, metrics)
	if err != nil {
		return nil, err
	}

	if a.repo != nil {
		tasks := make([]*FlatTask, 0, len(tc.Tasks))
		for _, t := range tc.Tasks {
			tasks = append(tasks, t)
		}
		if err := a.repo.SaveTasks(ctx, traceID, tasks); err != nil {
			return nil, goerr.Wrap(err, "failed to persist tasks")
		}
		if err := a.repo.SaveMetrics(ctx, traceID, records); err != nil {
			return nil, goerr.Wrap(err, "failed to persist metrics")
		}
	}

	return &TraceResult{
		TraceID: traceID,
		Tasks:   tc.Tasks,
		Metrics: metrics,
		Records: records,
	}, nil
}
