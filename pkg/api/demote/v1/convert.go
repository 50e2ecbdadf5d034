package demotev1

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// Status is the GetStatus payload.
type Status struct {
	PID         int                 `json:"pid"`
	Version     string              `json:"version"`
	StartedAt   time.Time           `json:"started_at"`
	State       string              `json:"state"`
	Interval    int                 `json:"interval"`
	Priority    string              `json:"priority"`
	Targets     []string            `json:"targets"`
	Ticks       uint64              `json:"ticks"`
	Subscribers int                 `json:"subscribers"`
	Elevated    bool                `json:"elevated"`
	History     bool                `json:"history"`
	Results     []types.CheckResult `json:"results"`
}

// RefreshResult is the Refresh payload.
type RefreshResult struct {
	Results []types.CheckResult `json:"results"`
}

// WatchRequest is the Watch request payload.
type WatchRequest struct {
	Names []string `json:"names,omitempty"`
}

// HistoryResult is the History payload.
type HistoryResult struct {
	Records []types.HistoryRecord `json:"records"`
}

// Encode converts v to a Struct through its JSON form.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return s, nil
}

// Decode fills v from a Struct produced by Encode. A nil Struct leaves v
// untouched.
func Decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}
