// Package cloudinary talks to the image storage provider. Handlers depend
// on the Uploader interface so tests can swap in a fake.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

const (
	// TransformAvatar crops avatars to a filled 250x250 square.
	TransformAvatar = "c_fill,h_250,w_250"

	FolderImages  = "images_app"
	FolderAvatars = "images_app/avatars"
)

type UploadResult struct {
	URL      string
	PublicID string
	Version  string
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, folder string) (*UploadResult, error)
	FormatURL(publicID, version, transform string) string
	Delete(ctx context.Context, publicID string) error
}

type Client struct {
	cloudName string
	apiKey    string
	apiSecret string
	client    *http.Client
	baseURL   string
}

func NewClient(cloudName, apiKey, apiSecret string) (*Client, error) {
	if cloudName == "" || apiKey == "" || apiSecret == "" {
		return nil, errors.New("cloudinary credentials are not set")
	}

	return &Client{
		cloudName: cloudName,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: "https://api.cloudinary.com/v1_1",
	}, nil
}

func (c *Client) Upload(ctx context.Context, data []byte, folder string) (*UploadResult, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := c.sign("folder=" + folder + "&timestamp=" + timestamp)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "upload")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	w.WriteField("folder", folder)
	w.WriteField("timestamp", timestamp)
	w.WriteField("api_key", c.apiKey)
	w.WriteField("signature", signature)
	if err := w.Close(); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/image/upload", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("cloudinary upload failed: %s: %s", resp.Status, errBody)
	}

	var res struct {
		SecureURL string `json:"secure_url"`
		PublicID  string `json:"public_id"`
		Version   int64  `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}

	return &UploadResult{
		URL:      res.SecureURL,
		PublicID: res.PublicID,
		Version:  strconv.FormatInt(res.Version, 10),
	}, nil
}

func (c *Client) FormatURL(publicID, version, transform string) string {
	if transform == "" {
		return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/v%s/%s", c.cloudName, version, publicID)
	}
	return fmt.Sprintf("https://res.cloudinary.com/%s/image/upload/%s/v%s/%s", c.cloudName, transform, version, publicID)
}

func (c *Client) Delete(ctx context.Context, publicID string) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := c.sign("public_id=" + publicID + "&timestamp=" + timestamp)

	payload := map[string]string{
		"public_id": publicID,
		"timestamp": timestamp,
		"api_key":   c.apiKey,
		"signature": signature,
	}
	b, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/%s/image/destroy", c.baseURL, c.cloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("cloudinary destroy failed: %s: %s", resp.Status, errBody)
	}
	return nil
}

func (c *Client) sign(params string) string {
	sum := sha1.Sum([]byte(params + c.apiSecret))
	return hex.EncodeToString(sum[:])
}
