package vk

import (
	"encoding/json"
	"fmt"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/go-resty/resty/v2"
)

// VK reports failures inside a 200 response, so every method call goes
// through decode before any field is read.
type envelope[T any] struct {
	Response *T        `json:"response"`
	Error    *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func decode[T any](method string, res *resty.Response, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, comicpost.TransportError{Op: method, Err: err}
	}
	if !res.IsSuccess() {
		return zero, comicpost.TransportError{Op: method, StatusCode: res.StatusCode()}
	}

	var env envelope[T]
	if err := json.Unmarshal(res.Body(), &env); err != nil {
		return zero, comicpost.TransportError{Op: method, StatusCode: res.StatusCode(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if env.Error != nil {
		return zero, comicpost.RemoteAPIError{Method: method, Code: env.Error.Code, Message: env.Error.Message}
	}
	if env.Response == nil {
		return zero, comicpost.RemoteAPIError{Method: method, Message: "response missing"}
	}

	return *env.Response, nil
}

// token keeps a server-issued identifier as an opaque string whether VK
// encodes it as a JSON string or a number.
type token string

func (t *token) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = token(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("token: %w", err)
	}
	*t = token(n.String())
	return nil
}

type uploadServerResponse struct {
	UploadURL string `json:"upload_url"`
}

type uploadResponse struct {
	Server token  `json:"server"`
	Photo  string `json:"photo"`
	Hash   string `json:"hash"`
}

type savedPhoto struct {
	ID      token `json:"id"`
	OwnerID token `json:"owner_id"`
}

type wallPostResponse struct {
	PostID token `json:"post_id"`
}
