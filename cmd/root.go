/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/blacktop/comicpost/internal/comicpost"
	"github.com/blacktop/comicpost/internal/comicpost/bluesky"
	"github.com/blacktop/comicpost/internal/comicpost/mastodon"
	"github.com/blacktop/comicpost/internal/comicpost/twitter"
	"github.com/blacktop/comicpost/internal/comicpost/vk"
	"github.com/blacktop/comicpost/internal/comicpost/xkcd"
	"github.com/blacktop/comicpost/internal/config"
	"github.com/blacktop/comicpost/internal/logutil"
	"github.com/blacktop/comicpost/internal/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type options struct {
	comicNum int
	latest   bool
	random   bool
	caption  string
	mirrors  []string
	stageDir string
	envFile  string
	dryRun   bool
	verbose  bool
}

var supportedMirrors = []string{"bluesky", "mastodon", "twitter"}

// Execute runs the root command.
func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "comicpost",
		Short: "Post an xkcd comic to a VK community wall",
		Long: "comicpost fetches an xkcd comic, uploads the image to a VK community wall album " +
			"and publishes it as a wall post. The same comic can be mirrored to Twitter/X, Mastodon and Bluesky.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
		Example: `  comicpost --random
  comicpost --comic 353 --mirror twitter --mirror mastodon
  echo "Monday mood" | comicpost --latest --dry-run`,
	}

	cmd.Flags().IntVar(&opts.comicNum, "comic", 0, "Post comic number N")
	cmd.Flags().BoolVar(&opts.latest, "latest", false, "Post the latest comic")
	cmd.Flags().BoolVar(&opts.random, "random", false, "Post a random comic (default)")
	cmd.Flags().StringVar(&opts.caption, "caption", "", "Post text (defaults to the comic's alt text, or piped stdin)")
	cmd.Flags().StringSliceVar(&opts.mirrors, "mirror", nil, "Also post to (twitter, mastodon, bluesky, or all)")
	cmd.Flags().StringVar(&opts.stageDir, "stage-dir", "", "Directory the image is staged in (overrides COMICPOST_STAGE_DIR)")
	cmd.Flags().StringVar(&opts.envFile, "env-file", config.DefaultEnvFile, "Environment file to load")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print actions without posting")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	cmd.MarkFlagsMutuallyExclusive("comic", "latest", "random")
	cmd.Flags().SortFlags = false

	cmd.AddCommand(newCompletionCommand())

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	ctx := cmd.Context()
	logutil.SetVerbose(opts.verbose)

	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}
	if opts.stageDir != "" {
		cfg.StageDir = opts.stageDir
	}
	if !opts.dryRun {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	sel, err := resolveSelection(opts)
	if err != nil {
		return err
	}

	caption, err := resolveCaption(cmd, opts.caption)
	if err != nil {
		return err
	}

	mirrorNames, err := normalizeMirrors(opts.mirrors)
	if err != nil {
		return err
	}

	publisher, err := buildPublisher(cfg, opts.dryRun)
	if err != nil {
		return err
	}

	var mirrors []comicpost.Poster
	if opts.dryRun {
		mirrors = dryRunMirrors(mirrorNames)
	} else if mirrors, err = buildMirrors(ctx, mirrorNames, cfg.HTTPTimeout); err != nil {
		return err
	}

	p := &pipeline.Pipeline{
		Source:    xkcd.New(cfg.XKCDURL, xkcd.WithTimeout(cfg.HTTPTimeout)),
		Publisher: publisher,
		Mirrors:   mirrors,
		StageDir:  cfg.StageDir,
		Out:       cmd.OutOrStdout(),
	}

	res, err := p.Run(ctx, sel, pipeline.Options{Caption: caption, DryRun: opts.dryRun})
	if err != nil {
		return err
	}
	if !opts.dryRun {
		logutil.Infof("run %s: published comic #%d as post %s", res.RunID, res.Comic.Num, res.Post.ID)
	}
	return nil
}

func resolveSelection(opts *options) (pipeline.Selection, error) {
	switch {
	case opts.comicNum < 0:
		return pipeline.Selection{}, fmt.Errorf("--comic must be positive, got %d", opts.comicNum)
	case opts.comicNum > 0:
		return pipeline.Selection{Num: opts.comicNum}, nil
	case opts.latest:
		return pipeline.Selection{Latest: true}, nil
	}
	return pipeline.Selection{}, nil
}

func resolveCaption(cmd *cobra.Command, flagValue string) (string, error) {
	if caption := strings.TrimSpace(flagValue); caption != "" {
		return caption, nil
	}

	file, ok := cmd.InOrStdin().(*os.File)
	if !ok || term.IsTerminal(int(file.Fd())) {
		return "", nil
	}
	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func normalizeMirrors(values []string) ([]string, error) {
	result := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, raw := range values {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if raw == "all" {
			return append([]string(nil), supportedMirrors...), nil
		}
		if !isSupportedMirror(raw) {
			return nil, fmt.Errorf("unsupported mirror %q", raw)
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		result = append(result, raw)
	}

	sort.Strings(result)
	return result, nil
}

func isSupportedMirror(name string) bool {
	for _, m := range supportedMirrors {
		if m == name {
			return true
		}
	}
	return false
}

func buildPublisher(cfg config.Config, dryRun bool) (pipeline.Publisher, error) {
	if dryRun {
		return dryRunPublisher{}, nil
	}
	client, err := vk.New(cfg.VKConfig())
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildMirrors(ctx context.Context, names []string, timeout time.Duration) ([]comicpost.Poster, error) {
	constructors := map[string]func(context.Context, time.Duration) (comicpost.Poster, error){
		"bluesky": func(ctx context.Context, timeout time.Duration) (comicpost.Poster, error) {
			return bluesky.New(ctx, bluesky.Config{PDSURL: bluesky.DefaultPDSURL, Timeout: timeout})
		},
		"mastodon": mastodon.New,
		"twitter":  twitter.New,
	}

	posters := make([]comicpost.Poster, 0, len(names))
	var errs []error
	for _, name := range names {
		constructor, ok := constructors[name]
		if !ok {
			errs = append(errs, fmt.Errorf("mirror %q is not implemented", name))
			continue
		}
		poster, err := constructor(ctx, timeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		posters = append(posters, poster)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return posters, nil
}

// Dry runs never touch the network, so they need no credentials.
type dryRunPublisher struct{}

func (dryRunPublisher) Name() string { return "vk" }

func (dryRunPublisher) Publish(context.Context, comicpost.MediaAsset) (comicpost.WallPost, error) {
	return comicpost.WallPost{}, errors.New("dry-run publisher cannot publish")
}

type dryRunMirror string

func (m dryRunMirror) Name() string { return string(m) }

func (m dryRunMirror) Post(context.Context, comicpost.Request) error {
	return fmt.Errorf("dry-run mirror %s cannot post", string(m))
}

func dryRunMirrors(names []string) []comicpost.Poster {
	out := make([]comicpost.Poster, 0, len(names))
	for _, name := range names {
		out = append(out, dryRunMirror(name))
	}
	return out
}
