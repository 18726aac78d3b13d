package agentlens

import "errors"

var (
	ErrSpanCycle          = errors.New("span tree contains a reference cycle")
	ErrInvalidMetric      = errors.New("invalid metric value")
	ErrDuplicateFramework = errors.New("framework already registered")
)
