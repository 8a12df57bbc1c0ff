// Package server shows the live scene in a browser and exposes the
// component registry over HTTP.
//
// GET / serves a page that renders scene snapshots pushed on /ws. The JSON
// API lists components and triggers reloads.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/zot/hotswap/internal/config"
	"github.com/zot/hotswap/internal/hotswap"
	"github.com/zot/hotswap/internal/scene"
)

//go:embed site
var site embed.FS

// Message is what viewers receive on every scene change.
type Message struct {
	Type       string                  `json:"type"`
	Scene      *scene.NodeSnapshot     `json:"scene,omitempty"`
	Components []hotswap.ComponentInfo `json:"components"`
	Stylesheet string                  `json:"stylesheet,omitempty"`
	Seq        int64                   `json:"seq"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the live view server for one scene.
type Server struct {
	config     *config.Config
	service    *hotswap.Service
	scene      *scene.Scene
	assets     string
	stylesheet string
	mux        *http.ServeMux
	hub        *Hub
	batcher    *PushBatcher
	sub        scene.Subscription
	seq        atomic.Int64
	httpServer *http.Server
	listener   net.Listener
}

// New creates a server for sc. Files under assets (usually the unit root)
// are served below /assets/; stylesheet, relative to assets, is linked
// into the page.
func New(cfg *config.Config, svc *hotswap.Service, sc *scene.Scene, assets, stylesheet string) *Server {
	s := &Server{
		config:     cfg,
		service:    svc,
		scene:      sc,
		assets:     assets,
		stylesheet: stylesheet,
		mux:        http.NewServeMux(),
	}
	s.hub = NewHub(cfg, s.message)
	s.batcher = NewPushBatcher(DefaultPushInterval, s.push)
	s.sub = sc.OnChange(s.batcher.Trigger)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
	s.mux.HandleFunc("GET /api/scene", s.handleScene)
	s.mux.HandleFunc("GET /api/components", s.handleComponents)
	s.mux.HandleFunc("GET /api/components/{id}", s.handleComponent)
	s.mux.HandleFunc("POST /api/components/{id}/reload", s.handleReload)
	s.mux.HandleFunc("GET /assets/", s.handleAsset)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Hub returns the viewer hub.
func (s *Server) Hub() *Hub { return s.hub }

// message builds the payload pushed to viewers.
func (s *Server) message() ([]byte, error) {
	msg := Message{
		Type:       "scene",
		Components: s.components(),
		Seq:        s.seq.Add(1),
	}
	if snap, ok := s.scene.Snapshot(); ok {
		msg.Scene = &snap
	}
	if s.stylesheet != "" {
		msg.Stylesheet = "/assets/" + s.stylesheet
	}
	return json.Marshal(msg)
}

func (s *Server) push() {
	msg, err := s.message()
	if err != nil {
		s.config.Log(0, "Server: encode snapshot: %v", err)
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) components() []hotswap.ComponentInfo {
	components := s.service.Components()
	infos := make([]hotswap.ComponentInfo, 0, len(components))
	for _, c := range components {
		infos = append(infos, c.Info())
	}
	return infos
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(site, "site/index.html")
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.scene.Snapshot()
	if !ok {
		s.writeError(w, "scene is empty", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleComponents(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.components())
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	c, ok := s.service.Component(r.PathValue("id"))
	if !ok {
		s.writeError(w, "unknown component: "+r.PathValue("id"), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, c.Info())
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.service.Reload(id)
	switch {
	case errors.Is(err, hotswap.ErrUnknownID):
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	c, _ := s.service.Component(id)
	s.writeJSON(w, http.StatusOK, c.Info())
}

// handleAsset serves files under the asset root. Only plain files whose
// real path is inside the real root are reachable.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, "/assets/")
	if s.assets == "" || rel == "" || !fs.ValidPath(rel) {
		http.NotFound(w, r)
		return
	}
	path, ok := s.resolveAsset(rel)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if ct := mime.TypeByExtension(filepath.Ext(rel)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

// resolveAsset follows symlinks and reports the real path of rel when it
// is a regular file below the asset root.
func (s *Server) resolveAsset(rel string) (string, bool) {
	root, err := filepath.EvalSymlinks(s.assets)
	if err != nil {
		return "", false
	}
	path, err := filepath.EvalSymlinks(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return "", false
	}
	inside, err := filepath.Rel(root, path)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		s.config.Log(1, "Server: refusing asset %s outside %s", rel, root)
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.config.Log(0, "Server: encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

// Start listens on the configured host and port and serves in the
// background. It returns the base URL. Port 0 picks a free port.
func (s *Server) Start() (string, error) {
	addr := net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.config.Log(1, "Server: listening on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.config.Log(0, "Server: %v", err)
		}
	}()
	return s.URL(), nil
}

// URL returns the base URL once the server is listening.
func (s *Server) URL() string {
	if s.listener == nil {
		return ""
	}
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	host := s.config.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Serve runs the server until ctx is done, then shuts it down.
func (s *Server) Serve(ctx context.Context) error {
	if _, err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdown)
}

// Shutdown stops pushing, disconnects viewers and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sub.Cancel()
	s.batcher.Stop()
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
