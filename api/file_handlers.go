package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"frigate-commander/render"

	"github.com/gin-gonic/gin"
)

// FileInfo describes one file in the output directory
type FileInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	IsVideo  bool      `json:"is_video"`
}

var videoExtensions = map[string]bool{".mp4": true, ".mkv": true, ".mov": true, ".webm": true}

// outputPath resolves a file name inside the output directory. Hidden files
// and anything outside the directory are refused.
func (s *Server) outputPath(name string) (string, bool) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", false
	}
	return filepath.Join(s.cfg.GetConfig().OutputDir, name), true
}

// GET /api/files?sort=modified|name|size&desc=true&videos_only=false
func (s *Server) listFiles(c *gin.Context) {
	entries, err := os.ReadDir(s.cfg.GetConfig().OutputDir)
	if err != nil && !os.IsNotExist(err) {
		respondError(c, err)
		return
	}

	videosOnly := queryBool(c, "videos_only", false)
	files := []FileInfo{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		isVideo := videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))]
		if videosOnly && !isVideo {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
			IsVideo:  isVideo,
		})
	}

	desc := queryBool(c, "desc", true)
	var less func(a, b FileInfo) bool
	switch c.DefaultQuery("sort", "modified") {
	case "name":
		less = func(a, b FileInfo) bool { return a.Name < b.Name }
	case "size":
		less = func(a, b FileInfo) bool { return a.Size < b.Size }
	case "modified":
		less = func(a, b FileInfo) bool { return a.Modified.Before(b.Modified) }
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be name, modified or size"})
		return
	}
	sort.SliceStable(files, func(i, j int) bool {
		if desc {
			return less(files[j], files[i])
		}
		return less(files[i], files[j])
	})
	c.JSON(http.StatusOK, files)
}

// GET /api/files/:name?download=true
func (s *Server) getFile(c *gin.Context) {
	path, ok := s.outputPath(c.Param("name"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file name"})
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	if queryBool(c, "download", false) {
		c.FileAttachment(path, filepath.Base(path))
		return
	}
	c.File(path)
}

// DELETE /api/files/:name
func (s *Server) deleteFile(c *gin.Context) {
	path, ok := s.outputPath(c.Param("name"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file name"})
		return
	}
	if err := os.Remove(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found or could not be deleted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// GET /api/files/:name/info probes a rendered file with ffprobe
func (s *Server) getFileInfo(c *gin.Context) {
	path, ok := s.outputPath(c.Param("name"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file name"})
		return
	}
	stat, err := os.Stat(path)
	if err != nil || stat.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	resp := gin.H{
		"name":     filepath.Base(path),
		"size":     stat.Size(),
		"modified": stat.ModTime(),
		"is_video": videoExtensions[strings.ToLower(filepath.Ext(path))],
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	media, err := render.ProbeMedia(ctx, render.FFprobePath(s.cfg.GetConfig().FFmpegPath), path)
	if err != nil {
		resp["probe_error"] = err.Error()
	} else {
		resp["media"] = media
	}
	c.JSON(http.StatusOK, resp)
}
