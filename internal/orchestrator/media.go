package orchestrator

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var videoExtensions = map[string]bool{
	".mp4": true,
	".flv": true,
	".avi": true,
	".mov": true,
	".mkv": true,
}

// Videos lists the streamable files in the media directory, sorted by name.
func (s *Service) Videos() ([]Video, error) {
	entries, err := os.ReadDir(s.cfg.MediaDir)
	if err != nil {
		return nil, fmt.Errorf("read media dir: %w", err)
	}
	out := make([]Video, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !videoExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Video{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// resolveVideo maps a requested video onto an existing regular file.
func (s *Service) resolveVideo(video string) (string, error) {
	video = strings.TrimSpace(video)
	if video == "" {
		return "", fmt.Errorf("%w: video is required", ErrInvalidRequest)
	}
	path := video
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.cfg.MediaDir, filepath.Clean(video))
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrVideoNotFound, video)
	}
	if err != nil {
		return "", fmt.Errorf("stat video: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidRequest, video)
	}
	return path, nil
}

// SaveVideo writes an uploaded video into the media directory. name must be a
// bare file name with a streamable extension. An existing file is never replaced.
func (s *Service) SaveVideo(name string, r io.Reader) (Video, error) {
	if s.cfg.DisableUploads {
		return Video{}, ErrUploadsDisabled
	}
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return Video{}, fmt.Errorf("%w: invalid file name %q", ErrInvalidRequest, name)
	}
	if !videoExtensions[strings.ToLower(filepath.Ext(name))] {
		return Video{}, fmt.Errorf("%w: unsupported video type %q", ErrInvalidRequest, filepath.Ext(name))
	}

	path := filepath.Join(s.cfg.MediaDir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return Video{}, fmt.Errorf("%w: %s", ErrVideoExists, name)
	}
	if err != nil {
		return Video{}, fmt.Errorf("create video: %w", err)
	}
	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return Video{}, fmt.Errorf("write video: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Video{}, fmt.Errorf("stat video: %w", err)
	}
	s.logger.Info("video uploaded", slog.String("video", name), slog.Int64("size", info.Size()))
	return Video{Name: name, Size: info.Size(), ModTime: info.ModTime().UTC()}, nil
}
