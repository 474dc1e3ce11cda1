package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/alanbriolat/track-archiver"
	"github.com/alanbriolat/track-archiver/asset"
	"github.com/alanbriolat/track-archiver/async"
	"github.com/alanbriolat/track-archiver/download"
	"github.com/alanbriolat/track-archiver/generic"
	"github.com/alanbriolat/track-archiver/internal/boltdb"
	"github.com/alanbriolat/track-archiver/internal/sync_"
	_ "github.com/alanbriolat/track-archiver/providers/manifest"
	_ "github.com/alanbriolat/track-archiver/providers/raw"
	"github.com/alanbriolat/track-archiver/source"
	"github.com/alanbriolat/track-archiver/tagging"
)

func main() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "track-archiver",
		Usage: "download tracks, optionally tagging them on the way",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "read configuration from `FILE` (default: " + track_archiver.DefaultConfigPath() + ")",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "download",
				Usage:     "download one or more tracks",
				ArgsUsage: "INPUT...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "base-path",
						Usage: "resolve folders relative to `DIR` (overrides config)",
					},
					&cli.StringFlag{
						Name:  "folder",
						Usage: "save into `DIR`, relative to the base path",
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "save as `FILE` instead of using the file name template (single input only)",
					},
					&cli.StringFlag{
						Name:  "provider",
						Usage: "only try to match inputs with the `NAME`d provider",
					},
					&cli.StringSliceFlag{
						Name:  "tag",
						Usage: "embed a `KEY=VALUE` tag (repeatable)",
					},
					&cli.StringFlag{
						Name:  "cover",
						Usage: "embed cover art from `URL`",
					},
				},
				Action: func(c *cli.Context) error {
					return downloadCommand(ctx, c)
				},
			},
			{
				Name:  "history",
				Usage: "list completed downloads",
				Action: func(c *cli.Context) error {
					return historyCommand(c)
				},
			},
			{
				Name:  "providers",
				Usage: "list input providers in match order",
				Action: func(c *cli.Context) error {
					for _, name := range track_archiver.DefaultProviderRegistry.List() {
						fmt.Println(name)
					}
					return nil
				},
			},
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		err = <-result
		if err != nil {
			logger.Fatal(err.Error())
		}
	}
}

func loadConfig(c *cli.Context) (*track_archiver.Config, error) {
	return track_archiver.LoadConfig(c.String("config"))
}

func parseTagSpec(c *cli.Context) (*asset.TagSpec, error) {
	tags := c.StringSlice("tag")
	cover := c.String("cover")
	if len(tags) == 0 && cover == "" {
		return nil, nil
	}
	spec := &asset.TagSpec{Tags: make(map[string]string), CoverURL: cover}
	for _, tag := range tags {
		key, value, ok := strings.Cut(tag, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid tag %q, expected KEY=VALUE", tag)
		}
		spec.Tags[key] = value
	}
	return spec, nil
}

func downloadCommand(ctx context.Context, c *cli.Context) error {
	logger := zap.S()
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("base-path") {
		cfg.BasePath = c.String("base-path")
	}
	inputs := c.Args().Slice()
	if len(inputs) == 0 {
		return fmt.Errorf("nothing to download")
	}
	if c.IsSet("name") && len(inputs) > 1 {
		return fmt.Errorf("--name can only be used with a single input")
	}
	tagSpec, err := parseTagSpec(c)
	if err != nil {
		return err
	}

	if err := download.EnsureFolder(filepath.Dir(cfg.HistoryPath)); err != nil {
		return err
	}
	history, err := boltdb.New(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer history.Close()

	client := &http.Client{Timeout: cfg.HTTPTimeoutDuration()}
	downloader, err := download.New(download.Config{
		Source:   source.NewHTTPSource(client),
		Tagger:   tagging.NewInjector(source.NewHTTPCoverFetcher(client, cfg.MaxCoverBytes)),
		Registry: download.NewRegistry(cfg.ProgressInterval()),
		History:  history,
		FileName: cfg.FileNamer(),
	})
	if err != nil {
		return err
	}

	events, err := downloader.Registry().Subscribe()
	if err != nil {
		return err
	}
	var eventsDone sync_.Event
	go func() {
		defer eventsDone.Set()
		showProgress(events)
	}()
	defer func() {
		downloader.Registry().Close()
		<-eventsDone.Wait()
	}()

	for _, input := range inputs {
		match, err := matchInput(c.String("provider"), input)
		if err != nil {
			return err
		}
		logger.Infof("Matched %s with provider %s", match.Source, match.ProviderName)
		desc, err := match.Source.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve %v: %w", match.Source, err)
		}
		pathSpec := download.PathSpec{
			FileName:   c.String("name"),
			FolderPath: c.String("folder"),
			BasePath:   cfg.BasePath,
		}
		if err := downloader.Start(ctx, desc, pathSpec, tagSpec); err != nil {
			return err
		}
	}
	return nil
}

func matchInput(provider string, input string) (*track_archiver.Match, error) {
	if provider != "" {
		return track_archiver.DefaultProviderRegistry.MatchWith(provider, input)
	}
	return track_archiver.DefaultProviderRegistry.Match(input)
}

// showProgress renders registry events until the registry is closed: as progress bars on a terminal, otherwise as
// log lines.
func showProgress(events download.EventReceiver) {
	logger := zap.S()
	interactive := isatty.IsTerminal(os.Stdout.Fd())
	bars := make(map[string]*progressbar.ProgressBar)
	for event := range events.Receive() {
		entry := event.Entry()
		switch e := event.(type) {
		case download.DownloadStarted:
			logger.Debugf("started %v (%v)", entry.Key, entry.ID)
			if interactive {
				bars[entry.Key] = progressbar.DefaultBytes(-1, entry.Path)
			}
		case download.ProgressUpdated:
			changes, err := diff.Diff(e.OldProgress, e.NewProgress)
			if err != nil {
				logger.Errorf("failed to diff old and new progress: %v", err)
			} else {
				for _, change := range changes {
					logger.Debugf("%v: %v: %#v -> %#v", entry.Key, change.Path, change.From, change.To)
				}
			}
			if bar, ok := bars[entry.Key]; ok {
				if e.NewProgress.Expected > 0 && bar.GetMax64() != e.NewProgress.Expected {
					bar.ChangeMax64(e.NewProgress.Expected)
				}
				generic.Unwrap_(bar.Set64(e.NewProgress.Downloaded))
			} else if !interactive {
				logger.Infof("%v: %v", entry.Key, e.NewProgress)
			}
		case download.DownloadStopped:
			if bar, ok := bars[entry.Key]; ok {
				if e.Err == nil {
					_ = bar.Finish()
				}
				delete(bars, entry.Key)
				fmt.Println()
			}
			if e.Err != nil {
				logger.Errorf("%v failed after %v: %v", entry.Key, entry.Progress, e.Err)
			} else {
				logger.Infof("%v done (%v)", entry.Key, humanize.Bytes(uint64(entry.Progress.Downloaded)))
			}
		}
	}
}

func historyCommand(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if !download.Exists(cfg.HistoryPath) {
		return nil
	}
	history, err := boltdb.New(cfg.HistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer history.Close()
	records, err := history.ListDownloads()
	if err != nil {
		return err
	}
	for _, r := range records {
		tagged := ""
		if r.Tagged {
			tagged = " [tagged]"
		}
		fmt.Printf("%s  %-8s  %s (%s)%s\n", humanize.Time(r.CompletedAt), humanize.Bytes(uint64(r.Bytes)), r.Path, r.AssetID, tagged)
	}
	return nil
}
