package main

import (
	"context"
	"time"

	"github.com/agentlens/agentlens"
)

// traceSummary is a lightweight representation of a stored trace, derived
// from object metadata without reading the file contents.
type traceSummary struct {
	TraceID   string    `json:"trace_id"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

type listRequest struct {
	pageSize  int
	pageToken string
}

type listResponse struct {
	traces        []traceSummary
	nextPageToken string
}

// spanSource provides access to recorded span data from various backends.
// Each trace is stored as a JSON array of spans under {trace_id}.json.
type spanSource interface {
	List(ctx context.Context, req listRequest) (*listResponse, error)
	Get(ctx context.Context, traceID string) ([]*agentlens.Span, error)
}
