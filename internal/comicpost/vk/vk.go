package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/blacktop/comicpost/internal/logutil"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

const (
	providerName = "vk"

	DefaultBaseURL    = "https://api.vk.com"
	DefaultAPIVersion = "5.131"

	methodGetWallUploadServer = "photos.getWallUploadServer"
	methodSaveWallPhoto       = "photos.saveWallPhoto"
	methodWallPost            = "wall.post"
	opUpload                  = "upload photo"

	uploadField    = "photo"
	requestTimeout = 30 * time.Second
)

// Config carries the credentials and addressing for one VK community.
type Config struct {
	AccessToken string
	GroupID     string
	APIVersion  string
	BaseURL     string
	Timeout     time.Duration
	// TargetRetries bounds how many times photos.getWallUploadServer is
	// retried on transport failures. Later steps are never retried.
	TargetRetries uint64
}

// Client talks to the VK API on behalf of a single community.
type Client struct {
	cfg        Config
	http       *resty.Client
	newBackOff func() backoff.BackOff
}

// New validates cfg and constructs a VK client.
func New(cfg Config) (*Client, error) {
	cfg.AccessToken = strings.TrimSpace(cfg.AccessToken)
	cfg.GroupID = strings.TrimSpace(cfg.GroupID)
	if cfg.AccessToken == "" {
		return nil, comicpost.ValidationError{Provider: providerName, Reason: "access token is empty"}
	}
	if id, err := strconv.ParseUint(cfg.GroupID, 10, 64); err != nil || id == 0 {
		return nil, comicpost.ValidationError{Provider: providerName, Reason: fmt.Sprintf("group id %q is not a positive integer", cfg.GroupID)}
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = requestTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "comicpost/1")

	return &Client{
		cfg:  cfg,
		http: httpClient,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}, nil
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Publish runs a fresh upload session for asset.
func (c *Client) Publish(ctx context.Context, asset comicpost.MediaAsset) (comicpost.WallPost, error) {
	return c.NewSession().Run(ctx, asset)
}

// RequestUploadTarget asks VK for a wall upload URL for the community.
func (c *Client) RequestUploadTarget(ctx context.Context) (comicpost.UploadTarget, error) {
	var target comicpost.UploadTarget
	op := func() error {
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(c.params(map[string]string{"group_id": c.cfg.GroupID})).
			Get("/method/" + methodGetWallUploadServer)
		out, err := decode[uploadServerResponse](methodGetWallUploadServer, res, err)
		if err != nil {
			var transportErr comicpost.TransportError
			if errors.As(err, &transportErr) {
				logutil.Debugf("%s failed, may retry: %v", methodGetWallUploadServer, err)
				return err
			}
			return backoff.Permanent(err)
		}
		if out.UploadURL == "" {
			return backoff.Permanent(comicpost.RemoteAPIError{Method: methodGetWallUploadServer, Message: "empty upload_url"})
		}
		target = comicpost.UploadTarget{URL: out.UploadURL}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.cfg.TargetRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		var transportErr comicpost.TransportError
		var apiErr comicpost.RemoteAPIError
		if !errors.As(err, &transportErr) && !errors.As(err, &apiErr) {
			// cancellation surfaces as a bare ctx.Err()
			err = comicpost.TransportError{Op: methodGetWallUploadServer, Err: err}
		}
		return comicpost.UploadTarget{}, err
	}
	return target, nil
}

// UploadAsset sends the asset to the upload server as multipart form data.
func (c *Client) UploadAsset(ctx context.Context, target comicpost.UploadTarget, asset comicpost.MediaAsset) (comicpost.UploadReceipt, error) {
	body, closeBody, err := openAsset(asset)
	if err != nil {
		return comicpost.UploadReceipt{}, err
	}
	defer closeBody()

	res, err := c.http.R().
		SetContext(ctx).
		SetFileReader(uploadField, asset.Filename, body).
		Post(target.URL)
	if err != nil {
		return comicpost.UploadReceipt{}, comicpost.TransportError{Op: opUpload, Err: err}
	}
	if !res.IsSuccess() {
		return comicpost.UploadReceipt{}, comicpost.TransportError{Op: opUpload, StatusCode: res.StatusCode()}
	}

	var out uploadResponse
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return comicpost.UploadReceipt{}, comicpost.TransportError{Op: opUpload, StatusCode: res.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
	}

	return comicpost.UploadReceipt{
		Server: string(out.Server),
		Photo:  out.Photo,
		Hash:   out.Hash,
	}, nil
}

// SaveToAlbum stores an uploaded photo in the community's wall album.
func (c *Client) SaveToAlbum(ctx context.Context, receipt comicpost.UploadReceipt) (comicpost.AlbumPlacement, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(c.params(map[string]string{
			"group_id": c.cfg.GroupID,
			"server":   receipt.Server,
			"photo":    receipt.Photo,
			"hash":     receipt.Hash,
		})).
		Post("/method/" + methodSaveWallPhoto)
	photos, err := decode[[]savedPhoto](methodSaveWallPhoto, res, err)
	if err != nil {
		return comicpost.AlbumPlacement{}, err
	}
	if len(photos) == 0 {
		return comicpost.AlbumPlacement{}, comicpost.RemoteAPIError{Method: methodSaveWallPhoto, Message: "no photo saved"}
	}

	return comicpost.AlbumPlacement{
		OwnerID: string(photos[0].OwnerID),
		PhotoID: string(photos[0].ID),
	}, nil
}

// PublishPost creates the wall post that carries the saved photo.
func (c *Client) PublishPost(ctx context.Context, placement comicpost.AlbumPlacement, caption string) (comicpost.WallPost, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(c.params(map[string]string{
			"owner_id":    WallOwnerID(c.cfg.GroupID),
			"from_group":  "1",
			"attachments": placement.Attachment(),
			"message":     caption,
		})).
		Post("/method/" + methodWallPost)
	out, err := decode[wallPostResponse](methodWallPost, res, err)
	if err != nil {
		return comicpost.WallPost{}, err
	}
	if out.PostID == "" {
		return comicpost.WallPost{}, comicpost.RemoteAPIError{Method: methodWallPost, Message: "empty post_id"}
	}

	return comicpost.WallPost{ID: string(out.PostID)}, nil
}

// WallOwnerID returns the owner_id that addresses a community wall.
// VK uses negative ids for communities and positive ids for users.
func WallOwnerID(groupID string) string {
	return "-" + strings.TrimPrefix(strings.TrimSpace(groupID), "-")
}

func (c *Client) params(extra map[string]string) map[string]string {
	out := map[string]string{
		"access_token": c.cfg.AccessToken,
		"v":            c.cfg.APIVersion,
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func openAsset(asset comicpost.MediaAsset) (io.Reader, func(), error) {
	if asset.Path == "" {
		return bytes.NewReader(asset.Data), func() {}, nil
	}
	file, err := os.Open(asset.Path)
	if err != nil {
		return nil, nil, comicpost.NewLocalIOError("open", asset.Path, err)
	}
	return file, func() { file.Close() }, nil
}
