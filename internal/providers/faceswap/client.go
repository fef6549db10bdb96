package faceswap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ErrMissingAPIToken indicates that the client was configured without credentials.
var ErrMissingAPIToken = errors.New("faceswap: api token is required")

// DefaultModelVersion pins the LivePortrait model on Replicate.
const DefaultModelVersion = "9f15898c2cd6e85e9e5807f2ead2d5c7f0f2c285c3e7a42e1f0e2028acdf9e76"

// Options configures the Replicate client.
type Options struct {
	APIToken     string
	BaseURL      string
	ModelVersion string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       zerolog.Logger
}

// Client runs face-swap predictions on Replicate.
type Client struct {
	apiToken     string
	baseURL      string
	modelVersion string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

// Input is one face-swap job.
type Input struct {
	FaceImage   []byte
	FaceMIME    string
	SourceVideo string
}

// Params are the model knobs. The service always runs with DefaultParams.
type Params struct {
	LipSync      bool    `json:"lip_sync"`
	EyeOpenRatio float64 `json:"eye_open_ratio"`
	CheekPuff    float64 `json:"cheek_puff"`
	Wink         string  `json:"wink"`
	OutputFormat string  `json:"output_format"`
}

// DefaultParams returns lip sync on, neutral expression and mp4 output.
func DefaultParams() Params {
	return Params{
		LipSync:      true,
		EyeOpenRatio: 1.0,
		CheekPuff:    0,
		Wink:         "none",
		OutputFormat: "mp4",
	}
}

type predictionInput struct {
	FaceImage   string `json:"face_image"`
	SourceVideo string `json:"source_video"`
	Params
}

type predictionRequest struct {
	Version string          `json:"version"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		// Per-call deadlines come from the context.
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	version := strings.TrimSpace(opts.ModelVersion)
	if version == "" {
		version = DefaultModelVersion
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Client{
		apiToken:     strings.TrimSpace(opts.APIToken),
		baseURL:      baseURL,
		modelVersion: version,
		pollInterval: poll,
		httpClient:   httpClient,
		logger:       opts.Logger,
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiToken != ""
}

// Run creates a prediction and waits for it to finish. The returned value is
// the decoded prediction output exactly as the model produced it; callers
// validate its shape.
func (c *Client) Run(ctx context.Context, in Input) (any, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIToken
	}
	if len(in.FaceImage) == 0 {
		return nil, errors.New("faceswap: face image is required")
	}
	if strings.TrimSpace(in.SourceVideo) == "" {
		return nil, errors.New("faceswap: source video is required")
	}

	payload := predictionRequest{
		Version: c.modelVersion,
		Input: predictionInput{
			FaceImage:   dataURI(in.FaceMIME, in.FaceImage),
			SourceVideo: in.SourceVideo,
			Params:      DefaultParams(),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("faceswap: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predictions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("faceswap: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Hold the connection open while the model runs instead of polling right away.
	req.Header.Set("Prefer", "wait")

	pred, err := c.do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("prediction_id", pred.ID).Str("status", pred.Status).Msg("faceswap: prediction created")

	for !terminal(pred.Status) {
		if pred.URLs.Get == "" {
			return nil, fmt.Errorf("faceswap: prediction %s has no poll url", pred.ID)
		}
		select {
		case <-ctx.Done():
			c.cancel(pred)
			return nil, fmt.Errorf("faceswap: prediction %s: %w", pred.ID, ctx.Err())
		case <-time.After(c.pollInterval):
		}
		pollReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pred.URLs.Get, nil)
		if err != nil {
			return nil, fmt.Errorf("faceswap: build poll request: %w", err)
		}
		if pred, err = c.do(pollReq); err != nil {
			return nil, err
		}
	}

	if pred.Status != "succeeded" {
		return nil, fmt.Errorf("faceswap: prediction %s %s: %s", pred.ID, pred.Status, describe(pred.Error))
	}
	if len(pred.Output) == 0 || string(pred.Output) == "null" {
		return nil, fmt.Errorf("faceswap: prediction %s returned no output", pred.ID)
	}
	var out any
	if err := json.Unmarshal(pred.Output, &out); err != nil {
		return nil, fmt.Errorf("faceswap: decode output: %w", err)
	}
	c.logger.Debug().Str("prediction_id", pred.ID).Msg("faceswap: prediction succeeded")
	return out, nil
}

func (c *Client) do(req *http.Request) (*prediction, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("faceswap: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("faceswap: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return nil, fmt.Errorf("faceswap: status %d: %s", resp.StatusCode, detail.Detail)
		}
		return nil, fmt.Errorf("faceswap: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var pred prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, fmt.Errorf("faceswap: decode response: %w", err)
	}
	return &pred, nil
}

// cancel asks Replicate to stop a prediction we no longer wait for so it does
// not keep billing. Best effort.
func (c *Client) cancel(pred *prediction) {
	if pred.URLs.Cancel == "" {
		return
	}
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pred.URLs.Cancel, nil)
	if err != nil {
		return
	}
	if _, err := c.do(req); err != nil {
		c.logger.Warn().Err(err).Str("prediction_id", pred.ID).Msg("faceswap: cancel failed")
	}
}

func terminal(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

func describe(v any) string {
	switch e := v.(type) {
	case nil:
		return "no error detail"
	case string:
		return e
	default:
		b, _ := json.Marshal(e)
		return string(b)
	}
}

func dataURI(mime string, data []byte) string {
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
