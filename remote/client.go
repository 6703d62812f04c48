package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VideoMetadata is the delivery record pushed to the remote backend once a
// video has been uploaded.
type VideoMetadata struct {
	UserID          string    `json:"user_id"`
	CameraID        string    `json:"camera_id"`
	BookingID       string    `json:"booking_id"`
	RecordingID     string    `json:"recording_id"`
	VideoURL        string    `json:"video_url"`
	Filename        string    `json:"filename"`
	StoragePath     string    `json:"storage_path"`
	Date            string    `json:"date"`
	DurationSeconds float64   `json:"duration_seconds"`
	SizeBytes       int64     `json:"size_bytes"`
	UploadedAt      time.Time `json:"uploaded_at"`
}

// Client talks to the remote backend that owns bookings and the video catalog.
type Client interface {
	UpdateBookingStatus(bookingID, status, errMsg string) error
	InsertVideoMetadata(meta VideoMetadata) error
	GetUserMediaURLs(userID string) (MediaURLs, error)
}

// MediaURLs lists the branding assets configured for a user.
type MediaURLs struct {
	LogoURL     string   `json:"logo_url"`
	SponsorURLs []string `json:"sponsor_urls"`
	IntroURL    string   `json:"intro_url"`
}

// HTTPClient is the production Client implementation.
type HTTPClient struct {
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the remote backend API.
func NewHTTPClient(baseURL, apiToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:  baseURL,
		apiToken: apiToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *HTTPClient) doJSON(method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("request to %s returned %d: %s", path, resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %v", path, err)
		}
	}
	return nil
}

// UpdateBookingStatus mirrors a local booking status to the backend.
func (c *HTTPClient) UpdateBookingStatus(bookingID, status, errMsg string) error {
	payload := map[string]string{
		"booking_id": bookingID,
		"status":     status,
	}
	if errMsg != "" {
		payload["error_message"] = errMsg
	}
	return c.doJSON(http.MethodPost, "/api/bookings/status", payload, nil)
}

// InsertVideoMetadata registers a delivered video in the backend catalog.
func (c *HTTPClient) InsertVideoMetadata(meta VideoMetadata) error {
	return c.doJSON(http.MethodPost, "/api/videos", meta, nil)
}

// GetUserMediaURLs fetches branding asset URLs for a user.
func (c *HTTPClient) GetUserMediaURLs(userID string) (MediaURLs, error) {
	var out MediaURLs
	err := c.doJSON(http.MethodGet, "/api/users/"+userID+"/media", nil, &out)
	return out, err
}
