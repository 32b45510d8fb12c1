package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ivlev/chat2video/internal/config"
	"github.com/ivlev/chat2video/internal/engine"
	"github.com/ivlev/chat2video/internal/httpapi"
	"github.com/ivlev/chat2video/internal/jobs"
	"github.com/ivlev/chat2video/internal/source"
	"github.com/ivlev/chat2video/internal/system"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	input        string
	output       string
	fps          int
	preset       string
	speed        string
	theme        string
	exportType   string
	dark         bool
	keyboard     bool
	indicator    bool
	sounds       bool
	quality      int
	stats        bool
	supersample  int
	yieldEvery   int
	workers      int
	dumpTimeline string
	sendSound    string
	receiveSound string
	verbose      bool
}

func main() {
	// Увеличиваем лимиты системы (для macOS/Linux)
	system.InitResourceLimits()

	var opts options
	flag.StringVar(&opts.input, "input", "", "Путь к сценарию переписки .yaml/.json (по умолчанию: самый свежий файл в input/scripts/)")
	flag.StringVar(&opts.output, "output", "", "Путь к видео (если пусто, генерируется автоматически в output/)")
	flag.IntVar(&opts.fps, "fps", config.DefaultFPS, "FPS")
	flag.StringVar(&opts.preset, "preset", "", "Формат: 9:16 (TikTok), 1:1 (Instagram), 16:9 (YouTube)")
	flag.StringVar(&opts.speed, "speed", "", "Скорость печати: slow, normal, fast")
	flag.StringVar(&opts.theme, "theme", "", "Тема: imessage, whatsapp, messenger, discord")
	flag.StringVar(&opts.exportType, "type", "", "Тип экспорта: video или screenshot")
	flag.BoolVar(&opts.dark, "dark", false, "Тёмная тема")
	flag.BoolVar(&opts.keyboard, "keyboard", true, "Показывать клавиатуру")
	flag.BoolVar(&opts.indicator, "indicator", true, "Показывать индикатор набора")
	flag.BoolVar(&opts.sounds, "sounds", true, "Звуки отправки и получения")
	flag.IntVar(&opts.quality, "quality", 0, "Качество видео (0 - авто, x264: CRF 1-51, VideoToolbox: битрейт = Q*100кбит/с)")
	flag.BoolVar(&opts.stats, "stats", false, "Отчёт о производительности (дописывается в benchmark.log)")
	flag.IntVar(&opts.supersample, "supersample", 1, "Суперсэмплинг 1-4 (рендер в N раз больше и уменьшение)")
	flag.IntVar(&opts.yieldEvery, "yield-every", config.DefaultYieldEvery, "Уступать планировщику каждые N кадров")
	flag.IntVar(&opts.workers, "workers", runtime.NumCPU(), "Потоки (для screenshot)")
	flag.StringVar(&opts.dumpTimeline, "dump-timeline", "", "Сохранить таймлайн в YAML")
	flag.StringVar(&opts.sendSound, "send-sound", "", "WAV вместо синтезированного звука отправки")
	flag.StringVar(&opts.receiveSound, "receive-sound", "", "WAV вместо синтезированного звука получения")
	flag.BoolVar(&opts.verbose, "verbose", false, "Подробный вывод")
	watch := flag.Bool("watch", false, "Перерендеривать при изменении сценария")
	serve := flag.Bool("serve", false, "Запустить HTTP сервер рендеринга (настройки из CHAT2VIDEO_*)")

	flag.Parse()

	// Ctrl+C корректно прерывает экспорт и удаляет временные файлы
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *serve {
		if err := runServer(ctx); err != nil {
			log.Fatalf("[-] Ошибка сервера: %v", err)
		}
		return
	}

	// Создаем нужные директории, если их нет
	for _, d := range []string{"input/scripts", "output"} {
		os.MkdirAll(d, 0755)
	}

	if opts.input == "" {
		latest, err := system.FindLatestScript("input/scripts")
		if err != nil {
			log.Fatalf("[-] Ошибка: %v. Положите сценарий в input/scripts/", err)
		}
		opts.input = latest
		fmt.Printf("[*] Выбран файл: %s\n", opts.input)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !*watch {
		if err := export(ctx, opts, set); err != nil {
			log.Fatalf("[-] %s", engine.ExportError(err))
		}
		return
	}

	if err := export(ctx, opts, set); err != nil {
		log.Printf("[!] %s", engine.ExportError(err))
	}
	fmt.Printf("[*] Слежу за %s (Ctrl+C для выхода)\n", opts.input)
	err := system.WatchFile(ctx, opts.input, func() {
		fmt.Println("[*] Сценарий изменён, перерендер...")
		if err := export(ctx, opts, set); err != nil {
			log.Printf("[!] %s", engine.ExportError(err))
		}
	})
	if err != nil {
		log.Fatalf("[-] Ошибка наблюдения: %v", err)
	}
	<-ctx.Done()
}

func export(ctx context.Context, opts options, set map[string]bool) error {
	script, err := source.Load(opts.input)
	if err != nil {
		return err
	}
	snap, err := script.Snapshot(filepath.Dir(opts.input))
	if err != nil {
		return err
	}

	cfg := config.Default()
	cfg.Settings = script.ExportSettings()
	applyFlags(&cfg.Settings, opts, set)

	cfg.InputPath = opts.input
	cfg.FPS = opts.fps
	cfg.Supersample = opts.supersample
	cfg.YieldEvery = opts.yieldEvery
	cfg.Workers = opts.workers
	cfg.ShowStats = opts.stats
	cfg.BuildVersion = version
	cfg.TimelineDump = opts.dumpTimeline
	cfg.SendSound = opts.sendSound
	cfg.ReceiveSound = opts.receiveSound
	cfg.OutputVideo = opts.output
	if cfg.OutputVideo == "" {
		cfg.OutputVideo = defaultOutput(opts.input)
	}

	// Автоопределение аппаратного энкодера
	cfg.VideoEncoder = system.GetBestH264Encoder()
	if cfg.VideoEncoder != "libx264" {
		fmt.Printf("[*] Обнаружено аппаратное ускорение: %s\n", cfg.VideoEncoder)
	}
	cfg.Quality = opts.quality
	if cfg.Quality == 0 {
		cfg.Quality = defaultQuality(cfg.VideoEncoder)
	}

	project := engine.NewExportProject(&cfg, snap)
	project.Verbose = opts.verbose
	last := -10
	// Печатаем прогресс каждые 10%
	project.OnProgress = func(v float64) {
		if pct := int(v * 100); pct/10 != last/10 {
			last = pct
			fmt.Printf("[>] Прогресс: %d%%\n", pct)
		}
	}

	paths, err := project.Execute(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Printf("[+++] Успех! Результат: %s\n", p)
	}
	if cfg.Settings.Type == config.ExportVideo {
		if d, err := system.GetMediaDuration(paths[0]); err == nil {
			fmt.Printf("[*] Длительность видео: %.2fs\n", d)
		}
	}
	return nil
}

// applyFlags overrides script settings with flags given on the command line.
func applyFlags(s *config.ExportSettings, opts options, set map[string]bool) {
	if set["preset"] {
		p, ok := config.ParsePreset(opts.preset)
		if !ok {
			log.Printf("[!] Неизвестный формат %q, используется %s", opts.preset, p)
		}
		s.Preset = p
	}
	if set["speed"] {
		s.Speed, _ = config.ParseSpeed(opts.speed)
	}
	if set["theme"] {
		s.Theme, _ = config.ParseTheme(opts.theme)
	}
	if set["type"] {
		s.Type, _ = config.ParseExportType(opts.exportType)
	}
	if set["dark"] {
		s.DarkMode = opts.dark
	}
	if set["keyboard"] {
		s.ShowKeyboard = opts.keyboard
	}
	if set["indicator"] {
		s.ShowTypingIndicator = opts.indicator
	}
	if set["sounds"] {
		s.EnableSounds = opts.sounds
	}
}

func defaultOutput(input string) string {
	baseName := filepath.Base(input)
	nameOnly := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	cleanName := strings.ReplaceAll(nameOnly, " ", "_")
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join("output", fmt.Sprintf("%s_%s.mp4", cleanName, timestamp))
}

func defaultQuality(encoder string) int {
	switch encoder {
	case "h264_videotoolbox":
		return 75 // Хорошее качество для VideoToolbox
	case "h264_nvenc":
		return 28 // Эквивалент CRF для NVENC
	default:
		return 23 // Стандартный CRF для x264
	}
}

func runServer(ctx context.Context) error {
	cfg := config.LoadServer()
	log.Printf("[*] server config: %s", cfg.SummaryJSON())

	cfg.Export.BuildVersion = version
	if os.Getenv("CHAT2VIDEO_ENCODER") == "" {
		cfg.Export.VideoEncoder = system.GetBestH264Encoder()
	}
	if os.Getenv("CHAT2VIDEO_QUALITY") == "" {
		cfg.Export.Quality = defaultQuality(cfg.Export.VideoEncoder)
	}

	var store jobs.Store = jobs.NewMemoryStore()
	if cfg.DBPath != "" {
		db, err := jobs.OpenSQLite(cfg.DBPath)
		if err != nil {
			return err
		}
		store = db
	}
	defer store.Close()

	metrics := httpapi.NewMetrics()
	manager, err := jobs.NewManager(store, jobs.Options{
		OutputDir:     cfg.OutputDir,
		MaxConcurrent: cfg.MaxConcurrent,
		TTL:           cfg.JobTTL,
		ErrorText:     engine.ExportError,
		OnFinish: func(job jobs.Job, took time.Duration) {
			metrics.ObserveExport(job.ExportType, string(job.Status), took)
		},
	})
	if err != nil {
		return err
	}
	defer manager.Close()
	go manager.RunJanitor(ctx, time.Minute)

	srv := httpapi.New(manager, metrics, httpapi.Options{
		Addr:           cfg.Addr,
		PublicURL:      cfg.PublicURL,
		Export:         cfg.Export,
		RateRPS:        cfg.RateRPS,
		RateBurst:      cfg.RateBurst,
		OriginPatterns: cfg.WSOrigins,
		TrustProxy:     cfg.TrustProxy,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[*] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
