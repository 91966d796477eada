package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"vigil/internal/frame"
	"vigil/internal/metrics"
)

const healthCacheTTL = 30 * time.Second

// HTTPConfig holds configuration for the HTTP analyzer
type HTTPConfig struct {
	Endpoint            string
	ConfidenceThreshold float64
	JPEGQuality         int
	Timeout             time.Duration
}

// HTTPAnalyzer posts JPEG frames to a multipart /analyze endpoint.
type HTTPAnalyzer struct {
	cfg         HTTPConfig
	client      *http.Client
	healthCheck time.Time
	mu          sync.RWMutex
	logger      *slog.Logger
}

// NewHTTPAnalyzer creates an HTTP analyzer.
func NewHTTPAnalyzer(cfg HTTPConfig, logger *slog.Logger) *HTTPAnalyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPAnalyzer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "analyzer", "analyzer", "http"),
	}
}

// Name implements pipeline.Analyzer
func (a *HTTPAnalyzer) Name() string { return "http" }

// IsHealthy checks /health, caching a positive answer for 30 seconds.
func (a *HTTPAnalyzer) IsHealthy(ctx context.Context) bool {
	a.mu.RLock()
	if time.Since(a.healthCheck) < healthCacheTTL {
		a.mu.RUnlock()
		return true
	}
	a.mu.RUnlock()

	health, err := a.Health(ctx)
	if err != nil || !health.ModelLoaded {
		if err != nil {
			a.logger.Warn("health check failed", "error", err)
		}
		return false
	}
	a.mu.Lock()
	a.healthCheck = time.Now()
	a.mu.Unlock()
	return true
}

// Health returns the service health document.
func (a *HTTPAnalyzer) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer health returned status %d", resp.StatusCode)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}
	return &health, nil
}

// Analyze implements pipeline.Analyzer
func (a *HTTPAnalyzer) Analyze(ctx context.Context, img image.Image) (metrics.FrameContext, error) {
	if !a.IsHealthy(ctx) {
		return metrics.FrameContext{}, ErrUnavailable
	}
	data, err := frame.EncodeJPEG(img, a.cfg.JPEGQuality)
	if err != nil {
		return metrics.FrameContext{}, err
	}

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return metrics.FrameContext{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return metrics.FrameContext{}, err
	}
	w.WriteField("conf_threshold", fmt.Sprintf("%.3f", a.cfg.ConfidenceThreshold))
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/analyze", &b)
	if err != nil {
		return metrics.FrameContext{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := a.client.Do(req)
	if err != nil {
		a.invalidate()
		return metrics.FrameContext{}, fmt.Errorf("analyze request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return metrics.FrameContext{}, fmt.Errorf("analyze failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result AnalysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return metrics.FrameContext{}, fmt.Errorf("decode analysis: %w", err)
	}
	return result.FrameContext(a.cfg.ConfidenceThreshold)
}

func (a *HTTPAnalyzer) invalidate() {
	a.mu.Lock()
	a.healthCheck = time.Time{}
	a.mu.Unlock()
}

// Close implements pipeline.Analyzer
func (a *HTTPAnalyzer) Close() error {
	a.client.CloseIdleConnections()
	return nil
}
