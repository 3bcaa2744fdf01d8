package mastodon

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blacktop/comicpost/internal/comicpost"
	mastodonapi "github.com/mattn/go-mastodon"
)

const (
	envServer       = "COMICPOST_MASTODON_SERVER"
	envAccessToken  = "COMICPOST_MASTODON_ACCESS_TOKEN"
	envClientID     = "COMICPOST_MASTODON_CLIENT_ID"
	envClientSecret = "COMICPOST_MASTODON_CLIENT_SECRET"

	providerName   = "mastodon"
	requestTimeout = 30 * time.Second
	maxStatusLen   = 500
	maxAltLen      = 1500
)

// Config contains the settings needed to reach a Mastodon server.
type Config struct {
	Server       string
	AccessToken  string
	ClientID     string
	ClientSecret string
}

// Client mirrors comics to a Mastodon account.
type Client struct {
	client *mastodonapi.Client
}

// New constructs a Mastodon mirror from environment configuration.
// A non-positive timeout selects the default.
func New(ctx context.Context, timeout time.Duration) (comicpost.Poster, error) {
	cfg, err := loadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return newClient(cfg, timeout), nil
}

func newClient(cfg Config, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = requestTimeout
	}
	client := mastodonapi.NewClient(&mastodonapi.Config{
		Server:       cfg.Server,
		AccessToken:  cfg.AccessToken,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
	})
	client.Timeout = timeout
	return &Client{client: client}
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Post publishes a toot carrying the comic image and its permalink.
func (c *Client) Post(ctx context.Context, req comicpost.Request) error {
	data, err := req.Asset.Bytes()
	if err != nil {
		return err
	}

	attachment, err := c.client.UploadMediaFromMedia(ctx, &mastodonapi.Media{
		File:        bytes.NewReader(data),
		Description: comicpost.ComposeStatus(req.Message, "", maxAltLen),
	})
	if err != nil {
		return fmt.Errorf("upload media %s: %w", req.Asset.Filename, err)
	}

	_, err = c.client.PostStatus(ctx, &mastodonapi.Toot{
		Status:   comicpost.ComposeStatus(req.Message, req.Link, maxStatusLen),
		MediaIDs: []mastodonapi.ID{attachment.ID},
	})
	if err != nil {
		return fmt.Errorf("post status: %w", err)
	}

	return nil
}

func loadConfigFromEnv() (Config, error) {
	cfg := Config{
		Server:       strings.TrimSpace(os.Getenv(envServer)),
		AccessToken:  strings.TrimSpace(os.Getenv(envAccessToken)),
		ClientID:     strings.TrimSpace(os.Getenv(envClientID)),
		ClientSecret: strings.TrimSpace(os.Getenv(envClientSecret)),
	}

	var missing []string
	if cfg.Server == "" {
		missing = append(missing, envServer)
	}
	if cfg.AccessToken == "" {
		missing = append(missing, envAccessToken)
	}

	if len(missing) > 0 {
		return Config{}, comicpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}
