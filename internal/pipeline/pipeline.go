package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/blacktop/comicpost/internal/logutil"
	"github.com/blacktop/comicpost/internal/stage"
	"github.com/google/uuid"
)

// Source finds comics and downloads their images.
type Source interface {
	BaseURL() string
	Latest(ctx context.Context) (comicpost.Comic, error)
	Comic(ctx context.Context, num int) (comicpost.Comic, error)
	Random(ctx context.Context) (comicpost.Comic, error)
	Download(ctx context.Context, comic comicpost.Comic) (comicpost.MediaAsset, error)
}

// Publisher turns a staged asset into a wall post.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, asset comicpost.MediaAsset) (comicpost.WallPost, error)
}

// Selection chooses which comic to post. The zero value picks one at random.
type Selection struct {
	Num    int
	Latest bool
}

func (s Selection) String() string {
	switch {
	case s.Num > 0:
		return fmt.Sprintf("#%d", s.Num)
	case s.Latest:
		return "latest"
	}
	return "random"
}

// Options tune a single run.
type Options struct {
	// Caption replaces the comic's alt text when set.
	Caption string
	DryRun  bool
}

// Result describes a finished run.
type Result struct {
	RunID string
	Comic comicpost.Comic
	Post  comicpost.WallPost
}

// Pipeline fetches a comic, stages it and publishes it.
type Pipeline struct {
	Source    Source
	Publisher Publisher
	Mirrors   []comicpost.Poster
	StageDir  string
	Out       io.Writer
}

// Run executes one fetch-stage-publish cycle. The staged file is removed
// before Run returns, whatever the outcome.
func (p *Pipeline) Run(ctx context.Context, sel Selection, opts Options) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	out := p.Out
	if out == nil {
		out = io.Discard
	}

	comic, err := p.selectComic(ctx, sel)
	if err != nil {
		return res, fmt.Errorf("select %s comic: %w", sel, err)
	}
	res.Comic = comic
	logutil.Infof("run %s: comic #%d %q", res.RunID, comic.Num, comic.Title)

	caption := comic.Alt
	if opts.Caption != "" {
		caption = opts.Caption
	}

	if opts.DryRun {
		fmt.Fprintf(out, "[dry-run] would post comic #%d %q to %s\n", comic.Num, comic.Title, p.Publisher.Name())
		fmt.Fprintf(out, "[dry-run] image: %s\n", comic.ImageURL)
		fmt.Fprintf(out, "[dry-run] caption: %q\n", caption)
		for _, mirror := range p.Mirrors {
			fmt.Fprintf(out, "[dry-run] would mirror to %s\n", mirror.Name())
		}
		return res, nil
	}

	asset, err := p.Source.Download(ctx, comic)
	if err != nil {
		return res, fmt.Errorf("download comic #%d: %w", comic.Num, err)
	}
	asset.Caption = caption

	staged, err := stage.Write(p.StageDir, asset.Filename, asset.Data)
	if err != nil {
		return res, err
	}
	defer staged.Cleanup()
	asset.Path = staged.Path

	fmt.Fprintf(out, "posting to %s...\n", p.Publisher.Name())
	post, err := p.Publisher.Publish(ctx, asset)
	if err != nil {
		return res, fmt.Errorf("%s: %w", p.Publisher.Name(), err)
	}
	res.Post = post
	fmt.Fprintf(out, "posted to %s: post_id=%s\n", p.Publisher.Name(), post.ID)

	req := comicpost.Request{
		Message: caption,
		Link:    comic.Permalink(p.Source.BaseURL()),
		Asset:   asset,
	}
	return res, p.mirror(ctx, req, out)
}

func (p *Pipeline) selectComic(ctx context.Context, sel Selection) (comicpost.Comic, error) {
	switch {
	case sel.Num > 0:
		return p.Source.Comic(ctx, sel.Num)
	case sel.Latest:
		return p.Source.Latest(ctx)
	}
	return p.Source.Random(ctx)
}

// mirror cross-posts to every configured network. One failure does not stop
// the others; all failures are returned together.
func (p *Pipeline) mirror(ctx context.Context, req comicpost.Request, out io.Writer) error {
	var errs []error
	for _, poster := range p.Mirrors {
		fmt.Fprintf(out, "mirroring to %s...\n", poster.Name())
		if err := poster.Post(ctx, req); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", poster.Name(), err))
			continue
		}
		fmt.Fprintf(out, "mirrored to %s\n", poster.Name())
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
