// Package detect labels objects in event snapshots. Detection is optional
// and pluggable: Noop returns nothing, HTTPDetector asks a remote inference
// service.
package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/homewatch/internal/model"
)

// Detector returns the labelled objects found in a JPEG frame.
type Detector interface {
	Detect(ctx context.Context, jpeg []byte) ([]model.Detection, error)
}

// Noop never detects anything.
type Noop struct{}

func (Noop) Detect(ctx context.Context, jpeg []byte) ([]model.Detection, error) {
	return nil, nil
}

// Options tunes an HTTPDetector.
type Options struct {
	Confidence    float64       // drop detections below this score
	MaxDetections int           // keep at most this many, highest first
	MinInterval   time.Duration // minimum spacing between requests
	Client        *http.Client
	Logger        *slog.Logger
}

// HTTPDetector posts frames to an inference endpoint that answers with
//
//	{"image_width": 640, "image_height": 480,
//	 "detections": [{"label": "person", "confidence": 0.91, "xyxy": [x1, y1, x2, y2]}]}
//
// where xyxy is in pixels. Requests beyond the rate limit are skipped, not
// queued.
type HTTPDetector struct {
	url     string
	opts    Options
	limiter *rate.Limiter
}

func NewHTTPDetector(url string, opts Options) *HTTPDetector {
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxDetections <= 0 {
		opts.MaxDetections = 3
	}
	limit := rate.Inf
	if opts.MinInterval > 0 {
		limit = rate.Every(opts.MinInterval)
	}
	return &HTTPDetector{url: url, opts: opts, limiter: rate.NewLimiter(limit, 1)}
}

type inferenceResponse struct {
	ImageWidth  float64 `json:"image_width"`
	ImageHeight float64 `json:"image_height"`
	Detections  []struct {
		Label      string    `json:"label"`
		Confidence float64   `json:"confidence"`
		XYXY       []float64 `json:"xyxy"`
	} `json:"detections"`
}

func (d *HTTPDetector) Detect(ctx context.Context, jpeg []byte) ([]model.Detection, error) {
	if !d.limiter.Allow() {
		d.opts.Logger.Debug("detection skipped by rate limit")
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(jpeg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := d.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	dets := make([]model.Detection, 0, len(out.Detections))
	for _, r := range out.Detections {
		if r.Confidence < d.opts.Confidence {
			continue
		}
		det := model.Detection{Label: r.Label, Confidence: r.Confidence}
		if len(r.XYXY) == 4 && out.ImageWidth > 0 && out.ImageHeight > 0 {
			det.BBox = &model.BBox{
				X1: clamp01(r.XYXY[0] / out.ImageWidth),
				Y1: clamp01(r.XYXY[1] / out.ImageHeight),
				X2: clamp01(r.XYXY[2] / out.ImageWidth),
				Y2: clamp01(r.XYXY[3] / out.ImageHeight),
			}
		}
		dets = append(dets, det)
	}
	return TopN(dets, d.opts.MaxDetections), nil
}

// TopN sorts detections by descending confidence and keeps the first n.
func TopN(dets []model.Detection, n int) []model.Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	if n > 0 && len(dets) > n {
		dets = dets[:n]
	}
	return dets
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
