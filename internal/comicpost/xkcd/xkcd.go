package xkcd

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/blacktop/comicpost/internal/logutil"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://xkcd.com"

	requestTimeout = 30 * time.Second

	// The content API never served #404.
	missingComic = 404
)

// Client fetches comics from the xkcd JSON API.
type Client struct {
	base string
	http *resty.Client
	intN func(n int) int
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeout overrides the HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithRand replaces the random source used by Random. intN must return a
// value in [0, n).
func WithRand(intN func(n int) int) Option {
	return func(c *Client) { c.intN = intN }
}

// New constructs a content API client rooted at base.
func New(base string, opts ...Option) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	base = strings.TrimRight(base, "/")
	c := &Client{
		base: base,
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(requestTimeout).
			SetHeader("User-Agent", "comicpost/1"),
		intN: rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the root the client talks to.
func (c *Client) BaseURL() string { return c.base }

type comicResponse struct {
	Num       int    `json:"num"`
	Img       string `json:"img"`
	Alt       string `json:"alt"`
	SafeTitle string `json:"safe_title"`
	Title     string `json:"title"`
}

// Latest returns the most recent comic.
func (c *Client) Latest(ctx context.Context) (comicpost.Comic, error) {
	return c.get(ctx, "/info.0.json")
}

// Comic returns comic number num.
func (c *Client) Comic(ctx context.Context, num int) (comicpost.Comic, error) {
	if num < 1 {
		return comicpost.Comic{}, comicpost.ValidationError{Provider: "xkcd", Reason: fmt.Sprintf("comic number %d out of range", num)}
	}
	return c.get(ctx, fmt.Sprintf("/%d/info.0.json", num))
}

// Random picks a comic uniformly from [1, latest].
func (c *Client) Random(ctx context.Context) (comicpost.Comic, error) {
	latest, err := c.Latest(ctx)
	if err != nil {
		return comicpost.Comic{}, err
	}
	if latest.Num <= 1 {
		return latest, nil
	}

	num := c.intN(latest.Num) + 1
	for num == missingComic {
		num = c.intN(latest.Num) + 1
	}
	logutil.Debugf("random comic: num=%d latest=%d", num, latest.Num)
	if num == latest.Num {
		return latest, nil
	}
	return c.Comic(ctx, num)
}

// Download fetches the comic image and returns it as a media asset captioned
// with the comic's alt text.
func (c *Client) Download(ctx context.Context, comic comicpost.Comic) (comicpost.MediaAsset, error) {
	name, err := FilenameFromURL(comic.ImageURL)
	if err != nil {
		return comicpost.MediaAsset{}, err
	}

	op := "download " + comic.ImageURL
	res, err := c.http.R().SetContext(ctx).Get(comic.ImageURL)
	if err != nil {
		return comicpost.MediaAsset{}, comicpost.TransportError{Op: op, Err: err}
	}
	if !res.IsSuccess() {
		return comicpost.MediaAsset{}, comicpost.TransportError{Op: op, StatusCode: res.StatusCode()}
	}
	logutil.Debugf("downloaded %s: bytes=%d", name, len(res.Body()))

	return comicpost.MediaAsset{
		Data:     res.Body(),
		Filename: name,
		Caption:  comic.Alt,
	}, nil
}

// FilenameFromURL returns the last path segment of an image URL.
func FilenameFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", comicpost.ValidationError{Provider: "xkcd", Reason: fmt.Sprintf("bad image url %q: %v", raw, err)}
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", comicpost.ValidationError{Provider: "xkcd", Reason: fmt.Sprintf("image url %q has no file name", raw)}
	}
	return name, nil
}

func (c *Client) get(ctx context.Context, endpoint string) (comicpost.Comic, error) {
	op := "GET " + endpoint
	res, err := c.http.R().SetContext(ctx).Get(endpoint)
	if err != nil {
		return comicpost.Comic{}, comicpost.TransportError{Op: op, Err: err}
	}
	if !res.IsSuccess() {
		return comicpost.Comic{}, comicpost.TransportError{Op: op, StatusCode: res.StatusCode()}
	}

	var out comicResponse
	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return comicpost.Comic{}, comicpost.TransportError{Op: op, StatusCode: res.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
	}

	title := out.SafeTitle
	if title == "" {
		title = out.Title
	}
	return comicpost.Comic{
		Num:      out.Num,
		Title:    title,
		ImageURL: out.Img,
		Alt:      out.Alt,
	}, nil
}
