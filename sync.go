package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

// syncEntry describes one file offered to badges.
type syncEntry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// listSyncDir enumerates the regular files in dir. Subdirectories and
// dotfiles are skipped; sync is a flat, one-way namespace.
func listSyncDir(dir string) ([]syncEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	out := make([]syncEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}

		out = append(out, syncEntry{
			Name:     e.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}

	return out, nil
}

func serveSyncList(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		files, err := listSyncDir(cfg.syncDir)
		if err != nil {
			writeJSON(cfg, w, http.StatusInternalServerError, map[string]string{"error": "sync directory unavailable"})
			return
		}

		writeJSON(cfg, w, http.StatusOK, files)
	}
}

func serveSyncFile(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		name := p.ByName("name")
		if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
			http.Error(w, "invalid file name", http.StatusBadRequest)
			return
		}

		data, err := os.ReadFile(filepath.Join(cfg.syncDir, name))
		if err != nil {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		written, err := w.Write(data)
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SYNC: %s (%s) to %s in %s",
			name,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// syncStatus is the count-plus-payload summary for the sync namespace.
type syncStatus struct {
	Count      int    `json:"count"`
	TotalBytes int64  `json:"totalBytes"`
	TotalHuman string `json:"totalHuman"`
}

func serveSyncStatus(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		files, err := listSyncDir(cfg.syncDir)
		if err != nil {
			writeJSON(cfg, w, http.StatusInternalServerError, map[string]string{"error": "sync directory unavailable"})
			return
		}

		var total int64
		for _, f := range files {
			total += f.Size
		}

		writeJSON(cfg, w, http.StatusOK, syncStatus{
			Count:      len(files),
			TotalBytes: total,
			TotalHuman: humanReadableSize(total),
		})
	}
}

func registerSync(cfg *Config, mux *httprouter.Router, errs chan<- error) {
	mux.GET(cfg.prefix+"/sync/list", serveSyncList(cfg))
	mux.GET(cfg.prefix+"/sync/file/:name", serveSyncFile(cfg, errs))
	mux.GET(cfg.prefix+"/sync/status", serveSyncStatus(cfg))
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}
