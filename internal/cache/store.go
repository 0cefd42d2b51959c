package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hbomb79/Iris/pkg/logger"
)

var log = logger.Get("MediaCache")

// ErrEmptyDownload indicates a streamed write completed without
// delivering any bytes; the partial file has already been removed.
var ErrEmptyDownload = errors.New("downloaded video file is empty or missing")

const partSuffix = ".part"

// Store is the filesystem-backed media cache. It maps a stable unique
// identifier to a tuple of sibling files (<id>.mp4, <id>.mp3, <id>.json,
// <id>.txt) inside one flat directory, and enforces bounded retention
// via oldest-first trimming.
//
// The presence of <id>.mp4 alone decides whether an item is cached;
// sidecars are strictly best-effort.
type Store struct {
	dirPath string
}

// NewStore validates that the media directory exists (creating it when
// missing) and returns the store. A path pointing at an existing file is
// rejected.
func NewStore(dirPath string) (*Store, error) {
	if info, err := os.Stat(dirPath); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("media path '%s' is not a directory", dirPath)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if mkErr := os.MkdirAll(dirPath, 0o755); mkErr != nil {
			return nil, fmt.Errorf("media path '%s' could not be created: %w", dirPath, mkErr)
		}
	} else {
		return nil, fmt.Errorf("media path '%s' could not be accessed: %w", dirPath, err)
	}

	return &Store{dirPath: dirPath}, nil
}

func (store *Store) DirPath() string { return store.dirPath }

func (store *Store) VideoPath(id string) string {
	return filepath.Join(store.dirPath, id+".mp4")
}

func (store *Store) AudioPath(id string) string {
	return filepath.Join(store.dirPath, id+".mp3")
}

func (store *Store) metadataPath(id string) string {
	return filepath.Join(store.dirPath, id+".json")
}

func (store *Store) captionPath(id string) string {
	return filepath.Join(store.dirPath, id+".txt")
}

// Exists reports whether the primary video file for this ID is present.
// This is the fast-path check; size validation happens at write time.
func (store *Store) Exists(id string) bool {
	_, err := os.Stat(store.VideoPath(id))
	return err == nil
}

// WriteVideo streams source into <id>.mp4.part and renames it into place
// once it is known to be complete and non-empty. A stale .part file left
// behind by an earlier failed attempt for the same ID is purged before
// writing so it can never block a future fetch.
//
// If the rename fails (e.g. an exotic filesystem), the contents are
// copied into the final path and the temp file removed.
func (store *Store) WriteVideo(id string, source io.Reader) (string, error) {
	finalPath := store.VideoPath(id)
	tempPath := finalPath + partSuffix

	if _, err := os.Stat(tempPath); err == nil {
		log.Emit(logger.REMOVE, "Purging stale partial file %s\n", tempPath)
		os.Remove(tempPath)
	}

	temp, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("cannot create partial file for %s: %w", id, err)
	}

	written, copyErr := io.Copy(temp, source)
	closeErr := temp.Close()
	if copyErr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("streaming download for %s failed: %w", id, copyErr)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("cannot finalise partial file for %s: %w", id, closeErr)
	}

	if written == 0 {
		os.Remove(tempPath)
		return "", ErrEmptyDownload
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		log.Emit(logger.WARNING, "Rename of %s failed (%v), falling back to copy\n", tempPath, err)
		if err := copyFile(tempPath, finalPath); err != nil {
			os.Remove(tempPath)
			return "", fmt.Errorf("cannot move download for %s into place: %w", id, err)
		}
		os.Remove(tempPath)
	}

	log.Emit(logger.SUCCESS, "Stored %s (%d bytes)\n", filepath.Base(finalPath), written)
	return finalPath, nil
}

// WriteSidecars persists the JSON metadata and caption text next to the
// video. Failures are logged and swallowed: sidecars must never block a
// successful download from being returned.
func (store *Store) WriteSidecars(id string, meta SidecarMetadata, caption string) {
	if data, err := json.Marshal(meta); err != nil {
		log.Emit(logger.WARNING, "Failed to marshal metadata sidecar for %s: %v\n", id, err)
	} else if err := os.WriteFile(store.metadataPath(id), data, 0o644); err != nil {
		log.Emit(logger.WARNING, "Failed to write metadata sidecar for %s: %v\n", id, err)
	}

	if err := os.WriteFile(store.captionPath(id), []byte(caption), 0o644); err != nil {
		log.Emit(logger.WARNING, "Failed to write caption sidecar for %s: %v\n", id, err)
	}
}

// Read assembles the cached item for an ID, preferring sidecar content
// and degrading gracefully: a missing caption file yields an empty
// caption, a missing or unparseable metadata date yields the video
// file's modification time.
func (store *Store) Read(id string) (*Item, error) {
	videoPath := store.VideoPath(id)
	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, fmt.Errorf("cached video for %s is not readable: %w", id, err)
	}

	item := &Item{
		ID:        id,
		VideoPath: videoPath,
		CreatedAt: info.ModTime(),
		Author:    "unknown",
	}

	if _, err := os.Stat(store.AudioPath(id)); err == nil {
		item.AudioPath = store.AudioPath(id)
	}

	if raw, err := os.ReadFile(store.captionPath(id)); err == nil {
		item.CaptionPath = store.captionPath(id)
		item.Caption = strings.TrimSpace(string(raw))
	}

	if raw, err := os.ReadFile(store.metadataPath(id)); err == nil {
		item.MetadataPath = store.metadataPath(id)

		var meta SidecarMetadata
		if err := json.Unmarshal(raw, &meta); err == nil {
			if !meta.Date.IsZero() {
				item.CreatedAt = meta.Date
			}
			if meta.Author != "" {
				item.Author = meta.Author
			}
			item.Kind = meta.Kind
		}
	}

	return item, nil
}

// Trim deletes the oldest video files beyond maxFiles, along with each
// evicted item's JSON/caption sidecars. Returns the deleted primary
// paths. Per-file deletion failures are logged and never abort the
// sweep.
func (store *Store) Trim(maxFiles int) []string {
	return store.trimExtension(".mp4", maxFiles, true)
}

// TrimAudio applies the same keep-newest policy to the audio sidecar
// collection, independent of video retention: extraction is
// opportunistic and audio files may outlive or lag their source videos.
func (store *Store) TrimAudio(maxFiles int) []string {
	return store.trimExtension(".mp3", maxFiles, false)
}

func (store *Store) trimExtension(ext string, maxFiles int, removeSidecars bool) []string {
	candidates, err := store.listByModTime(ext)
	if err != nil {
		log.Emit(logger.ERROR, "Cannot list media directory for trimming: %v\n", err)
		return nil
	}

	if len(candidates) <= maxFiles {
		return nil
	}

	deleted := make([]string, 0, len(candidates)-maxFiles)
	for _, victim := range candidates[maxFiles:] {
		if err := os.Remove(victim.path); err != nil {
			log.Emit(logger.WARNING, "Failed to delete %s during trim: %v\n", victim.path, err)
			continue
		}

		log.Emit(logger.REMOVE, "Evicted %s (%d bytes, modified %s)\n",
			filepath.Base(victim.path), victim.size, victim.modTime.Format("2006-01-02 15:04:05"))
		deleted = append(deleted, victim.path)

		if !removeSidecars {
			continue
		}

		id := strings.TrimSuffix(filepath.Base(victim.path), ext)
		for _, sidecar := range []string{store.metadataPath(id), store.captionPath(id)} {
			if err := os.Remove(sidecar); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Emit(logger.WARNING, "Failed to delete sidecar %s: %v\n", sidecar, err)
			}
		}
	}

	if len(deleted) > 0 {
		log.Emit(logger.INFO, "Trim complete: evicted %d %s file(s), retaining newest %d\n", len(deleted), ext, maxFiles)
	}

	return deleted
}

type trimCandidate struct {
	path    string
	size    int64
	modTime time.Time
}

func (store *Store) listByModTime(ext string) ([]trimCandidate, error) {
	entries, err := os.ReadDir(store.dirPath)
	if err != nil {
		return nil, err
	}

	candidates := make([]trimCandidate, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		candidates = append(candidates, trimCandidate{
			path:    filepath.Join(store.dirPath, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}

	// Newest first. Equal timestamps keep the directory listing's order,
	// which is stable within a single process run but otherwise arbitrary.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	return candidates, nil
}

func copyFile(src string, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	return os.WriteFile(dst, data, 0o644)
}
