package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/blacktop/comicpost/internal/logutil"
	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/media/upload"
	uploadtypes "github.com/michimani/gotwi/media/upload/types"
	"github.com/michimani/gotwi/resources"
	"github.com/michimani/gotwi/tweet/managetweet"
	managetweettypes "github.com/michimani/gotwi/tweet/managetweet/types"
)

const (
	envAPIKey       = "COMICPOST_TWITTER_CONSUMER_KEY"
	envAPISecret    = "COMICPOST_TWITTER_CONSUMER_SECRET"
	envAccessToken  = "COMICPOST_TWITTER_ACCESS_TOKEN"
	envAccessSecret = "COMICPOST_TWITTER_ACCESS_TOKEN_SECRET"

	providerName = "twitter"
	maxTweetLen  = 280
	maxAltLen    = 1000

	metadataEndpoint = "https://upload.twitter.com/1.1/media/metadata/create.json"
)

const requestTimeout = 30 * time.Second

// Config captures the credentials required for OAuth 1.0a user-context requests.
type Config struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

// Client mirrors comics to X (Twitter).
type Client struct {
	api *gotwi.Client
}

// New constructs a Twitter mirror using gotwi and OAuth 1.0a credentials.
// A non-positive timeout selects the default.
func New(ctx context.Context, timeout time.Duration) (comicpost.Poster, error) {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = requestTimeout
	}

	client, err := gotwi.NewClient(&gotwi.NewClientInput{
		HTTPClient:           &http.Client{Timeout: timeout},
		AuthenticationMethod: gotwi.AuthenMethodOAuth1UserContext,
		OAuthToken:           cfg.AccessToken,
		OAuthTokenSecret:     cfg.AccessSecret,
		APIKey:               cfg.APIKey,
		APIKeySecret:         cfg.APISecret,
		Debug:                os.Getenv("COMICPOST_TWITTER_DEBUG") == "1" || logutil.Verbose(),
	})
	if err != nil {
		return nil, fmt.Errorf("create X client: %w", err)
	}
	if !client.IsReady() {
		return nil, fmt.Errorf("twitter client not ready")
	}

	return &Client{api: client}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Post tweets the comic image with its caption and permalink.
func (c *Client) Post(ctx context.Context, req comicpost.Request) error {
	data, err := req.Asset.Bytes()
	if err != nil {
		return err
	}

	mediaID, err := c.uploadMedia(ctx, req.Asset.Filename, data)
	if err != nil {
		return err
	}
	logutil.Debugf("media uploaded: media_id=%s", mediaID)

	if alt := comicpost.ComposeStatus(req.Message, "", maxAltLen); alt != "" {
		if err := c.setAltText(ctx, mediaID, alt); err != nil {
			return err
		}
	}

	text := comicpost.ComposeStatus(req.Message, req.Link, maxTweetLen)
	input := &managetweettypes.CreateInput{
		Text:  gotwi.String(text),
		Media: &managetweettypes.CreateInputMedia{MediaIDs: []string{mediaID}},
	}
	if _, err := managetweet.Create(ctx, c.api, input); err != nil {
		return fmt.Errorf("post tweet: %w", unwrapGotwiError(err))
	}
	logutil.Debugf("tweet posted: chars=%d", len([]rune(text)))

	return nil
}

func (c *Client) uploadMedia(ctx context.Context, filename string, data []byte) (string, error) {
	mediaType, category, err := resolveMediaType(filename, data)
	if err != nil {
		return "", err
	}

	initRes, err := upload.Initialize(ctx, c.api, &uploadtypes.InitializeInput{
		MediaType:     mediaType,
		TotalBytes:    len(data),
		MediaCategory: category,
	})
	if err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	if err := partialError(initRes.Errors); err != nil {
		return "", fmt.Errorf("initialize upload: %w", err)
	}
	mediaID := initRes.Data.MediaID

	appendIn := &uploadtypes.AppendInput{
		MediaID:      mediaID,
		Media:        bytes.NewReader(data),
		SegmentIndex: 0,
	}
	appendIn.GenerateBoundary()

	appendRes, err := upload.Append(ctx, c.api, appendIn)
	if err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}
	if err := partialError(appendRes.Errors); err != nil {
		return "", fmt.Errorf("append upload: %w", err)
	}

	finalizeRes, err := upload.Finalize(ctx, c.api, &uploadtypes.FinalizeInput{MediaID: mediaID})
	if err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}
	if err := partialError(finalizeRes.Errors); err != nil {
		return "", fmt.Errorf("finalize upload: %w", err)
	}

	// Still images normally finish synchronously; wait once if X asks us to.
	switch state := finalizeRes.Data.ProcessingInfo.State; state {
	case "", resources.ProcessingInfoStateSucceeded:
	case resources.ProcessingInfoStateInProgress, resources.ProcessingInfoStatePending:
		timer := time.NewTimer(time.Duration(finalizeRes.Data.ProcessingInfo.CheckAfterSecs) * time.Second)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	default:
		return "", fmt.Errorf("media processing failed: state=%s", state)
	}

	return mediaID, nil
}

func (c *Client) setAltText(ctx context.Context, mediaID, altText string) error {
	params := &metadataParameters{mediaID: mediaID, altText: altText}
	ctx = context.WithValue(ctx, "Content-Type", "application/json;charset=UTF-8")

	if err := c.api.CallAPI(ctx, metadataEndpoint, http.MethodPost, params, &metadataResponse{}); err != nil {
		return fmt.Errorf("set alt text: %w", unwrapGotwiError(err))
	}
	return nil
}

func loadConfigFromEnv() (Config, error) {
	cfg := Config{
		APIKey:       strings.TrimSpace(os.Getenv(envAPIKey)),
		APISecret:    strings.TrimSpace(os.Getenv(envAPISecret)),
		AccessToken:  strings.TrimSpace(os.Getenv(envAccessToken)),
		AccessSecret: strings.TrimSpace(os.Getenv(envAccessSecret)),
	}

	var missing []string
	for _, v := range []struct{ name, value string }{
		{envAPIKey, cfg.APIKey},
		{envAPISecret, cfg.APISecret},
		{envAccessToken, cfg.AccessToken},
		{envAccessSecret, cfg.AccessSecret},
	} {
		if v.value == "" {
			missing = append(missing, v.name)
		}
	}
	if len(missing) > 0 {
		return Config{}, comicpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}

// xkcd serves PNG and JPEG, with the odd GIF.
func resolveMediaType(filename string, data []byte) (uploadtypes.MediaType, uploadtypes.MediaCategory, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case ".png":
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case ".gif":
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case ".webp":
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}

	switch detected := http.DetectContentType(data); {
	case strings.Contains(detected, "jpeg"):
		return uploadtypes.MediaTypeJPEG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(detected, "png"):
		return uploadtypes.MediaTypePNG, uploadtypes.MediaCategoryTweetImage, nil
	case strings.Contains(detected, "gif"):
		return uploadtypes.MediaTypeGIF, uploadtypes.MediaCategoryTweetGIF, nil
	case strings.Contains(detected, "webp"):
		return uploadtypes.MediaTypeWebP, uploadtypes.MediaCategoryTweetImage, nil
	}

	return "", "", comicpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("unsupported image type for %q", filename)}
}

func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprintf("%v", *pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		return errors.New("unknown error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

func unwrapGotwiError(err error) error {
	var gwErr *gotwi.GotwiError
	if !errors.As(err, &gwErr) || gwErr == nil {
		return err
	}

	parts := make([]string, 0, 4)
	if gwErr.Title != "" {
		parts = append(parts, gwErr.Title)
	}
	if gwErr.Detail != "" {
		parts = append(parts, gwErr.Detail)
	}
	for _, apiErr := range gwErr.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		return errors.New("X API request failed")
	}
	return errors.New(strings.Join(parts, "; "))
}

type metadataParameters struct {
	mediaID     string
	altText     string
	accessToken string
}

func (p *metadataParameters) SetAccessToken(token string) { p.accessToken = token }

func (p *metadataParameters) AccessToken() string { return p.accessToken }

func (p *metadataParameters) ResolveEndpoint(endpointBase string) string { return endpointBase }

func (p *metadataParameters) Body() (io.Reader, error) {
	body := struct {
		MediaID string `json:"media_id"`
		AltText struct {
			Text string `json:"text"`
		} `json:"alt_text"`
	}{MediaID: p.mediaID}
	body.AltText.Text = p.altText

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(buf), nil
}

func (p *metadataParameters) ParameterMap() map[string]string { return map[string]string{} }

type metadataResponse struct{}

func (metadataResponse) HasPartialError() bool { return false }
