package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.aimuz.me/slidemark/cache"
	"go.aimuz.me/slidemark/config"
	"go.aimuz.me/slidemark/document"
	"go.aimuz.me/slidemark/internal/app"
	"go.aimuz.me/slidemark/internal/types"
	"go.aimuz.me/slidemark/pointer"
	"go.aimuz.me/slidemark/speech"
	"go.aimuz.me/slidemark/stt"
	"go.aimuz.me/slidemark/surface"
	"go.aimuz.me/slidemark/tracker"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// App wires the presentation coordinator to its devices.
type App struct {
	cfg     *config.Config
	cache   *cache.Cache
	doc     document.Document
	base    *surface.Raster
	overlay *surface.Raster

	sttRegistry *stt.Registry
	service     *app.Service
}

// Init builds every collaborator from cfg and opens the document at path.
func (a *App) Init(cfg *config.Config, path string) error {
	a.cfg = cfg
	a.setupCache()

	doc, err := a.openDocument(path)
	if err != nil {
		return err
	}
	a.doc = doc

	if a.base, err = surface.New(cfg.Display.Width, cfg.Display.Height); err != nil {
		return fmt.Errorf("create base layer: %w", err)
	}
	if a.overlay, err = surface.New(cfg.Display.Width, cfg.Display.Height); err != nil {
		return fmt.Errorf("create overlay: %w", err)
	}

	deps := app.Deps{
		Base:       a.base,
		Overlay:    a.overlay,
		Tracker:    a.setupTracker(),
		Recognizer: a.setupSpeech(),
		Listener:   logEvent,
	}
	if cfg.Pointer.CaptureEnabled {
		deps.Pointer = pointer.NewHook(cfg.Display.OriginX, cfg.Display.OriginY, cfg.Display.Width, cfg.Display.Height)
	}

	a.service, err = app.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	return nil
}

// Shutdown cleans up resources.
func (a *App) Shutdown() {
	if a.sttRegistry != nil {
		a.sttRegistry.Close()
	}
	if a.doc != nil {
		if err := a.doc.Close(); err != nil {
			slog.Error("close document", "error", err)
		}
	}
	for _, r := range []*surface.Raster{a.base, a.overlay} {
		if r != nil {
			r.Close()
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Error("close cache", "error", err)
		}
	}
}

func (a *App) setupCache() {
	if !a.cfg.Cache.Enabled {
		return
	}
	cachePath := a.cfg.Cache.Path
	if cachePath == "" {
		cachePath = config.DefaultCachePath()
	}
	if cachePath == "" {
		slog.Warn("no cache directory, page cache disabled")
		return
	}

	c, err := cache.New(cachePath)
	if err != nil {
		slog.Error("init cache", "error", err)
		return
	}
	a.cache = c
	slog.Info("cache initialized", "path", cachePath)
}

func (a *App) openDocument(path string) (document.Document, error) {
	f, err := document.OpenFitzFile(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	slog.Info("document opened", "path", path, "pages", f.NumPages())
	if a.cache == nil {
		return f, nil
	}
	return document.NewCached(f, a.cache, f.Digest(), a.cfg.Cache.TTL.Duration), nil
}

func (a *App) setupTracker() tracker.Tracker {
	g := a.cfg.Gesture
	w, err := tracker.NewWorker(tracker.Config{
		Command:                []string{g.Python, g.WorkerScript},
		MinDetectionConfidence: g.MinDetectionConfidence,
		MinTrackingConfidence:  g.MinTrackingConfidence,
		MaxHands:               g.MaxHands,
		Camera:                 g.Camera,
		ReadyTimeout:           g.ReadyTimeout.Duration,
	})
	if err != nil {
		slog.Error("init hand tracker", "error", err)
		return nil
	}
	return w
}

func (a *App) setupSpeech() speech.Recognizer {
	v := a.cfg.Voice
	a.sttRegistry = stt.NewRegistry()
	a.sttRegistry.Register(stt.NewOpenAI(stt.OpenAIConfig{
		APIKey:  v.STT.APIKey,
		BaseURL: v.STT.BaseURL,
		Model:   v.STT.Model,
	}))

	provider := a.sttRegistry.Ready()
	if provider == nil {
		slog.Warn("no speech-to-text provider configured, voice commands will not start")
		provider = a.sttRegistry.Get("openai")
	}

	source, err := speech.NewCommandSource(speech.CommandSourceConfig{
		Command:    v.CaptureCommand,
		SampleRate: v.SampleRate,
	})
	if err != nil {
		slog.Error("init audio capture", "error", err)
		return nil
	}

	cfg := speech.DefaultConfig()
	cfg.Language = v.Language
	cfg.VADThreshold = v.VAD.Threshold
	cfg.MinSpeechDur = v.VAD.MinSpeech.Duration
	cfg.MaxSpeechDur = v.VAD.MaxSpeech.Duration
	cfg.SilenceDur = v.VAD.Silence.Duration
	cfg.TranscribeDelay = v.VAD.TranscribeDelay.Duration
	return speech.NewService(cfg, source, provider)
}

// logEvent reports coordinator events in the log; this build has no
// graphical shell.
func logEvent(name string, data any) {
	switch name {
	case app.EventNotice:
		// Already logged at its own level.
	case app.EventPointer, app.EventDrawMode:
		slog.Debug("event", "name", name, "data", data)
	default:
		slog.Info("event", "name", name, "data", data)
	}
}

// readCommands drives the coordinator from line commands on r.
func (a *App) readCommands(ctx context.Context, r *os.File) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := a.command(strings.Fields(sc.Text())); err != nil {
			if errors.Is(err, app.ErrStopped) {
				return
			}
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func (a *App) command(args []string) error {
	if len(args) == 0 {
		return nil
	}
	s := a.service
	switch args[0] {
	case "n", "next":
		return s.NextPage()
	case "p", "prev":
		return s.PrevPage()
	case "l", "last":
		return s.LastPage()
	case "c", "clear":
		return s.ClearAnnotations()
	case "g", "goto":
		if len(args) < 2 {
			return errors.New("usage: goto <page>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid page: %w", err)
		}
		return s.GotoPage(n)
	case "m", "modality":
		if len(args) < 2 {
			return errors.New("usage: modality pointer|gesture|voice")
		}
		m, ok := types.ParseModality(args[1])
		if !ok {
			return fmt.Errorf("unknown modality: %s", args[1])
		}
		return s.SetModality(m)
	case "t", "tool":
		if len(args) < 2 {
			return errors.New("usage: tool draw|highlight|erase|laser")
		}
		tool, ok := types.ParseDrawMode(args[1])
		if !ok {
			return fmt.Errorf("unknown tool: %s", args[1])
		}
		return s.SetTool(tool)
	case "s", "status":
		st, err := s.Status()
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", st)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func main() {
	configPath := flag.String("config", "", "config file (default: user config dir)")
	modality := flag.String("modality", "", "override the startup modality")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] document.pdf\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *modality, flag.Arg(0)); err != nil {
		slog.Error("slidemark", "error", err)
		os.Exit(1)
	}
}

func run(configPath, modality, docPath string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if modality != "" {
		cfg.Modality = modality
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	slog.Info("starting slidemark", "version", version, "commit", commit, "date", date)

	a := &App{}
	defer a.Shutdown()
	if err := a.Init(cfg, docPath); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- a.service.Run(ctx) }()

	if err := a.service.LoadDocument(a.doc); err != nil {
		stop()
		<-done
		return err
	}
	go a.readCommands(ctx, os.Stdin)

	return <-done
}
