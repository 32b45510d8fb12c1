package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Addr          string
	PublicURL     string
	OutputDir     string
	DBPath        string
	MaxConcurrent int
	JobTTL        time.Duration
	RateRPS       int
	RateBurst     int
	// WSOrigins are host patterns allowed to open the progress websocket
	// from another origin.
	WSOrigins  []string
	TrustProxy bool
	Export     Config
}

const (
	defaultAddr          = ":8000"
	defaultOutputDir     = "output/jobs"
	defaultMaxConcurrent = 2
	defaultJobTTLMinutes = 60
	defaultRateRPS       = 2
	defaultRateBurst     = 5
)

// LoadServer reads CHAT2VIDEO_* variables. A .env file in the working
// directory is loaded first; variables already set in the environment win.
func LoadServer() ServerConfig {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[!] .env: %v", err)
	}

	cfg := ServerConfig{Export: Default()}
	cfg.Addr = readString("CHAT2VIDEO_ADDR", defaultAddr)
	cfg.PublicURL = strings.TrimRight(readString("CHAT2VIDEO_PUBLIC_URL", ""), "/")
	cfg.OutputDir = readString("CHAT2VIDEO_OUTPUT_DIR", defaultOutputDir)
	cfg.DBPath = readString("CHAT2VIDEO_DB_PATH", "")
	cfg.MaxConcurrent = readInt("CHAT2VIDEO_MAX_CONCURRENT", defaultMaxConcurrent)
	cfg.JobTTL = time.Duration(readInt("CHAT2VIDEO_JOB_TTL_MINUTES", defaultJobTTLMinutes)) * time.Minute
	cfg.RateRPS = readInt("CHAT2VIDEO_RATE_RPS", defaultRateRPS)
	cfg.RateBurst = readInt("CHAT2VIDEO_RATE_BURST", defaultRateBurst)
	cfg.WSOrigins = readList("CHAT2VIDEO_WS_ORIGINS")
	cfg.TrustProxy = readBool("CHAT2VIDEO_TRUST_PROXY", false)

	cfg.Export.FPS = readInt("CHAT2VIDEO_FPS", cfg.Export.FPS)
	cfg.Export.Supersample = readInt("CHAT2VIDEO_SUPERSAMPLE", cfg.Export.Supersample)
	cfg.Export.VideoEncoder = readString("CHAT2VIDEO_ENCODER", cfg.Export.VideoEncoder)
	cfg.Export.Quality = readInt("CHAT2VIDEO_QUALITY", cfg.Export.Quality)
	cfg.Export.ShowStats = readBool("CHAT2VIDEO_STATS", false)
	return cfg
}

func readString(name, def string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	return raw
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// readList splits a comma separated variable, dropping empty items.
func readList(name string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SummaryJSON is logged once at startup.
func (c ServerConfig) SummaryJSON() []byte {
	payload := map[string]any{
		"addr":           c.Addr,
		"public_url":     c.PublicURL,
		"output_dir":     c.OutputDir,
		"db":             c.DBPath != "",
		"max_concurrent": c.MaxConcurrent,
		"job_ttl":        c.JobTTL.String(),
		"rate_rps":       c.RateRPS,
		"rate_burst":     c.RateBurst,
		"ws_origins":     c.WSOrigins,
		"trust_proxy":    c.TrustProxy,
		"fps":            c.Export.FPS,
		"encoder":        c.Export.VideoEncoder,
	}
	data, _ := json.Marshal(payload)
	return data
}
