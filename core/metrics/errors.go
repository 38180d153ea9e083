package metrics

import (
	"fmt"
	"strings"
)

// FormatError reports a results document whose shape is not recognized
type FormatError struct {
	Shape  string // JSON shape that was encountered
	Detail string
}

func (e *FormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("unrecognized results format: %s (%s)", e.Shape, e.Detail)
	}
	return fmt.Sprintf("unrecognized results format: %s", e.Shape)
}

// MetricNotFoundError reports a final row that carries none of the accepted keys
type MetricNotFoundError struct {
	Accepted  []string
	Available []string // sorted keys of the final row
}

func (e *MetricNotFoundError) Error() string {
	return fmt.Sprintf("metric not found in final row (accepted %s); available keys: [%s]",
		strings.Join(e.Accepted, ", "), strings.Join(e.Available, ", "))
}
