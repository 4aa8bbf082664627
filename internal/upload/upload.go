// Package upload implements the file upload service that sits behind the
// policy guard: a health check, an index, and multipart upload endpoints
// that accept a single file field and report what they received.
package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ProfileNote is attached to /profile responses; the edge policy blocks
// multipart requests to that path, so reaching it means the guard is off.
const ProfileNote = "In production behind WAF, this path is expected to be blocked."

var (
	errMissingFile     = errors.New("file field is required")
	errFileTooLarge    = errors.New("file too large")
	errUnexpectedField = errors.New("unexpected field")
)

// Endpoint is one upload route.
type Endpoint struct {
	Path string
	Note string
}

// DefaultEndpoints are the routes the demo application exposes.
func DefaultEndpoints() []Endpoint {
	return []Endpoint{
		{Path: "/upload"},
		{Path: "/profile", Note: ProfileNote},
	}
}

// Config configures the upload handlers.
type Config struct {
	MaxFileSizeMB int
	FieldName     string
	// FormOverhead bounds the non-file bytes of a multipart body.
	FormOverhead int64
	StaticDir    string
	Endpoints    []Endpoint
}

// FileInfo describes a received file.
type FileInfo struct {
	OriginalName string `json:"originalname"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
}

// Receipt is the success body for an upload endpoint.
type Receipt struct {
	Path    string   `json:"path"`
	Message string   `json:"message"`
	Note    string   `json:"note,omitempty"`
	File    FileInfo `json:"file"`
}

// Service serves the upload application.
type Service struct {
	cfg      Config
	maxBytes int64
	logger   zerolog.Logger
}

// New creates a Service. FieldName defaults to "file" and Endpoints to
// DefaultEndpoints.
func New(cfg Config, logger zerolog.Logger) (*Service, error) {
	if cfg.MaxFileSizeMB <= 0 {
		return nil, fmt.Errorf("max file size must be positive, got %d MB", cfg.MaxFileSizeMB)
	}
	if cfg.FieldName == "" {
		cfg.FieldName = "file"
	}
	if cfg.FormOverhead <= 0 {
		cfg.FormOverhead = 1 << 20
	}
	if len(cfg.Endpoints) == 0 {
		cfg.Endpoints = DefaultEndpoints()
	}
	return &Service{
		cfg:      cfg,
		maxBytes: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		logger:   logger.With().Str("component", "upload").Logger(),
	}, nil
}

// Register adds the application routes to mux.
func (s *Service) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /{$}", s.index)
	for _, ep := range s.cfg.Endpoints {
		mux.Handle("POST "+ep.Path, s.uploadHandler(ep))
	}
	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}
}

// Handler returns a mux with only the application routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

func (s *Service) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Field  string `json:"field,omitempty"`
}

// index serves StaticDir/index.html when present, else a route listing.
func (s *Service) index(w http.ResponseWriter, r *http.Request) {
	if s.cfg.StaticDir != "" {
		page := filepath.Join(s.cfg.StaticDir, "index.html")
		if _, err := os.Stat(page); err == nil {
			http.ServeFile(w, r, page)
			return
		}
	}

	routes := make(map[string]route, len(s.cfg.Endpoints)+1)
	for _, ep := range s.cfg.Endpoints {
		routes[routeName(ep.Path)] = route{Method: http.MethodPost, Path: ep.Path, Field: s.cfg.FieldName}
	}
	routes["health"] = route{Method: http.MethodGet, Path: "/health"}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "ALB+WAF file upload demo app",
		"hints":   "Place public/index.html to enable the HTML form.",
		"routes":  routes,
	})
}

func routeName(p string) string {
	name := path.Base(p)
	if name == "/" || name == "." {
		return "root"
	}
	return name
}

func (s *Service) uploadHandler(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := s.receive(w, r)
		switch {
		case err == nil:
		case errors.Is(err, errMissingFile):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		case errors.Is(err, errFileTooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
				"error":   err.Error(),
				"limitMb": s.cfg.MaxFileSizeMB,
			})
			return
		default:
			s.logger.Error().Err(err).Str("path", ep.Path).Msg("upload failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error":  "internal error",
				"detail": err.Error(),
			})
			return
		}

		s.logger.Info().
			Str("path", ep.Path).
			Str("file", info.OriginalName).
			Int64("size", info.Size).
			Msg("upload received")

		writeJSON(w, http.StatusOK, Receipt{
			Path:    ep.Path,
			Message: "received",
			Note:    ep.Note,
			File:    info,
		})
	}
}

// receive streams the multipart body, measuring the single file in the
// configured field without buffering it. Non-file fields are skipped.
func (s *Service) receive(w http.ResponseWriter, r *http.Request) (FileInfo, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+s.cfg.FormOverhead)

	reader, err := r.MultipartReader()
	if errors.Is(err, http.ErrNotMultipart) {
		return FileInfo{}, errMissingFile
	}
	if err != nil {
		return FileInfo{}, err
	}

	var (
		info  FileInfo
		found bool
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return FileInfo{}, classify(err)
		}

		if part.FileName() == "" {
			_, err = io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				return FileInfo{}, classify(err)
			}
			continue
		}

		if part.FormName() != s.cfg.FieldName || found {
			part.Close()
			return FileInfo{}, errUnexpectedField
		}

		info, err = s.measure(part)
		part.Close()
		if err != nil {
			return FileInfo{}, err
		}
		found = true
	}

	if !found {
		return FileInfo{}, errMissingFile
	}
	return info, nil
}

func (s *Service) measure(part *multipart.Part) (FileInfo, error) {
	n, err := io.Copy(io.Discard, io.LimitReader(part, s.maxBytes+1))
	if err != nil {
		return FileInfo{}, classify(err)
	}
	if n > s.maxBytes {
		return FileInfo{}, errFileTooLarge
	}
	mimeType := part.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return FileInfo{OriginalName: part.FileName(), MimeType: mimeType, Size: n}, nil
}

func classify(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errFileTooLarge
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
