package vk

import (
	"context"
	"errors"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/blacktop/comicpost/internal/logutil"
)

// ErrSessionUsed is returned when Run is called on a session that already ran.
var ErrSessionUsed = errors.New("vk: upload session already used")

// State is the position of a Session in the publish chain.
type State int

const (
	StateIdle State = iota
	StateTargetRequested
	StateUploaded
	StatePlaced
	StatePublished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTargetRequested:
		return "target-requested"
	case StateUploaded:
		return "uploaded"
	case StatePlaced:
		return "placed"
	case StatePublished:
		return "published"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Session threads the tokens of one upload through the four VK calls.
// A Session is single-use.
type Session struct {
	client *Client
	state  State
	err    error
}

// NewSession returns an idle session bound to c.
func (c *Client) NewSession() *Session {
	return &Session{client: c}
}

// State reports the current state.
func (s *Session) State() State { return s.state }

// Err returns the reason the session failed, if it did.
func (s *Session) Err() error { return s.err }

// Run uploads asset and publishes it on the community wall. Any failing
// step aborts the chain; nothing already done on the VK side is undone.
func (s *Session) Run(ctx context.Context, asset comicpost.MediaAsset) (comicpost.WallPost, error) {
	if s.state != StateIdle {
		return comicpost.WallPost{}, ErrSessionUsed
	}

	target, err := s.client.RequestUploadTarget(ctx)
	if err != nil {
		return s.fail(err)
	}
	s.advance(StateTargetRequested)

	receipt, err := s.client.UploadAsset(ctx, target, asset)
	if err != nil {
		return s.fail(err)
	}
	s.advance(StateUploaded)

	placement, err := s.client.SaveToAlbum(ctx, receipt)
	if err != nil {
		return s.fail(err)
	}
	s.advance(StatePlaced)
	logutil.Debugf("photo saved: attachment=%s", placement.Attachment())

	post, err := s.client.PublishPost(ctx, placement, asset.Caption)
	if err != nil {
		return s.fail(err)
	}
	s.advance(StatePublished)

	return post, nil
}

func (s *Session) advance(next State) {
	logutil.Debugf("upload session: %s -> %s", s.state, next)
	s.state = next
}

func (s *Session) fail(err error) (comicpost.WallPost, error) {
	logutil.Debugf("upload session: %s -> %s: %v", s.state, StateFailed, err)
	s.state = StateFailed
	s.err = err
	return comicpost.WallPost{}, err
}
