package system

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ScriptExtensions are the conversation script formats the loader accepts.
var ScriptExtensions = []string{".yaml", ".yml", ".json"}

func InitResourceLimits() {
	var rLimit syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit)
	if err != nil {
		log.Printf("[!] Не удалось получить лимит файлов: %v", err)
		return
	}

	if rLimit.Cur >= 2048 {
		return
	}
	rLimit.Cur = min(2048, rLimit.Max)

	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		log.Printf("[!] Не удалось установить лимит файлов: %v", err)
	} else {
		fmt.Printf("[*] Лимит открытых файлов: %d\n", rLimit.Cur)
	}
}

// FindLatest returns the most recently modified file in dir whose name ends
// with one of exts (case-insensitive).
func FindLatest(dir string, exts ...string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !hasExt(f.Name(), exts) {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("в папке %s нет файлов %s", dir, strings.Join(exts, "/"))
	}
	return latestFile, nil
}

// FindLatestScript picks the newest conversation script in dir.
func FindLatestScript(dir string) (string, error) {
	return FindLatest(dir, ScriptExtensions...)
}

func hasExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// GetMediaDuration asks ffprobe for the container duration in seconds.
func GetMediaDuration(path string) (float64, error) {
	cmd := exec.Command("ffprobe", "-v", "error", "-show_entries", "format=duration", "-of", "default=noprint_wrappers=1:nokey=1", path)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return 0, err
	}

	var duration float64
	_, err = fmt.Sscanf(strings.TrimSpace(string(out)), "%f", &duration)
	if err != nil {
		return 0, err
	}

	return duration, nil
}

var encoderList = sync.OnceValue(func() string {
	out, err := exec.Command("ffmpeg", "-hide_banner", "-encoders").CombinedOutput()
	if err != nil {
		return ""
	}
	return string(out)
})

// GetBestH264Encoder prefers hardware encoders: VideoToolbox on macOS, then
// NVENC, falling back to libx264.
func GetBestH264Encoder() string {
	list := encoderList()
	for _, name := range []string{"h264_videotoolbox", "h264_nvenc"} {
		if strings.Contains(list, name) {
			return name
		}
	}
	return "libx264"
}

// MoveFile renames src to dst, copying across filesystems when rename fails.
// On failure dst does not exist.
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(err, "open source")
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrap(err, "create destination")
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.Wrap(err, "copy")
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return errors.Wrap(err, "close destination")
	}
	in.Close()
	return errors.Wrap(os.Remove(src), "remove source")
}
