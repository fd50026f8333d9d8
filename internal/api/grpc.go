package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// MotionService names. The service uses the JSON codec; no generated code
// is involved.
const (
	MotionServiceName  = "homewatch.v1.MotionService"
	ListEventsMethod   = "/" + MotionServiceName + "/ListEvents"
	StreamEventsMethod = "/" + MotionServiceName + "/StreamEvents"

	// WatcherHealthService is the gRPC health service name that follows the
	// motion watcher.
	WatcherHealthService = "homewatch.watcher"
)

type ListEventsRequest struct {
	Filter model.EventFilter `json:"filter"`
}

type ListEventsResponse struct {
	Events []*model.MotionEvent `json:"events"`
}

// StreamEventsRequest starts a live feed. When Replay is set, logged events
// after SinceID are sent before live ones.
type StreamEventsRequest struct {
	Replay  bool  `json:"replay,omitempty"`
	SinceID int64 `json:"since_id,omitempty"`
}

// CodecName is the gRPC content subtype of the JSON codec.
const CodecName = "json"

// Codec marshals gRPC messages as JSON.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
