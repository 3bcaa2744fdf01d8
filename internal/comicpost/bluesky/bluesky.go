package bluesky

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/bluesky-social/indigo/api/atproto"
	"github.com/bluesky-social/indigo/api/bsky"
	"github.com/bluesky-social/indigo/lex/util"
	"github.com/bluesky-social/indigo/xrpc"
)

const (
	envHandle      = "COMICPOST_BLUESKY_HANDLE"
	envAppPassword = "COMICPOST_BLUESKY_APP_PASSWORD"
	envPDSURL      = "COMICPOST_BLUESKY_PDS_URL"

	DefaultPDSURL = "https://bsky.social"

	providerName   = "bluesky"
	requestTimeout = 30 * time.Second
	maxPostLen     = 300
	maxAltLen      = 2000
	postCollection = "app.bsky.feed.post"
)

// Config allows the caller to supply defaults prior to reading environment variables.
type Config struct {
	PDSURL  string
	Timeout time.Duration
}

// Client mirrors comics to Bluesky.
type Client struct {
	client *xrpc.Client
}

// New logs in to the PDS and returns a Bluesky mirror.
func New(ctx context.Context, base Config) (comicpost.Poster, error) {
	cfg, err := loadConfig(base)
	if err != nil {
		return nil, err
	}

	userAgent := "comicpost/1"
	xrpcClient := &xrpc.Client{
		Client:    &http.Client{Timeout: cfg.Timeout},
		Host:      cfg.PDSURL,
		UserAgent: &userAgent,
	}

	session, err := atproto.ServerCreateSession(ctx, xrpcClient, &atproto.ServerCreateSession_Input{
		Identifier: cfg.Handle,
		Password:   cfg.AppPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	xrpcClient.Auth = &xrpc.AuthInfo{
		AccessJwt:  session.AccessJwt,
		RefreshJwt: session.RefreshJwt,
		Handle:     session.Handle,
		Did:        session.Did,
	}

	return &Client{client: xrpcClient}, nil
}

// Name identifies the provider.
func (c *Client) Name() string { return providerName }

// Post creates a Bluesky post embedding the comic image.
func (c *Client) Post(ctx context.Context, req comicpost.Request) error {
	data, err := req.Asset.Bytes()
	if err != nil {
		return err
	}

	resp, err := atproto.RepoUploadBlob(ctx, c.client, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload blob %s: %w", req.Asset.Filename, err)
	}
	if resp.Blob == nil {
		return fmt.Errorf("upload blob %s: empty response", req.Asset.Filename)
	}

	_, err = atproto.RepoCreateRecord(ctx, c.client, &atproto.RepoCreateRecord_Input{
		Collection: postCollection,
		Repo:       c.client.Auth.Did,
		Record:     &util.LexiconTypeDecoder{Val: newFeedPost(req, resp.Blob, time.Now())},
	})
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}

	return nil
}

func newFeedPost(req comicpost.Request, blob *util.LexBlob, now time.Time) *bsky.FeedPost {
	return &bsky.FeedPost{
		CreatedAt: now.UTC().Format(time.RFC3339),
		Text:      comicpost.ComposeStatus(req.Message, req.Link, maxPostLen),
		Embed: &bsky.FeedPost_Embed{
			EmbedImages: &bsky.EmbedImages{
				Images: []*bsky.EmbedImages_Image{{
					Alt:   comicpost.ComposeStatus(req.Message, "", maxAltLen),
					Image: blob,
				}},
			},
		},
	}
}

// ProviderConfig merges defaults with environment-defined values.
type ProviderConfig struct {
	Handle      string
	AppPassword string
	PDSURL      string
	Timeout     time.Duration
}

func loadConfig(base Config) (ProviderConfig, error) {
	cfg := ProviderConfig{
		Handle:      strings.TrimSpace(os.Getenv(envHandle)),
		AppPassword: strings.TrimSpace(os.Getenv(envAppPassword)),
		PDSURL:      strings.TrimSpace(os.Getenv(envPDSURL)),
		Timeout:     base.Timeout,
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = requestTimeout
	}
	if cfg.PDSURL == "" {
		cfg.PDSURL = strings.TrimSpace(base.PDSURL)
	}
	if cfg.PDSURL == "" {
		cfg.PDSURL = DefaultPDSURL
	}

	var missing []string
	if cfg.Handle == "" {
		missing = append(missing, envHandle)
	}
	if cfg.AppPassword == "" {
		missing = append(missing, envAppPassword)
	}
	if len(missing) > 0 {
		return ProviderConfig{}, comicpost.MissingEnvError{Provider: providerName, Variables: missing}
	}

	return cfg, nil
}
