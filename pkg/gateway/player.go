package gateway

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"mediagate/pkg/types"
)

var playerTemplate = template.Must(template.New("player").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Name}} - Stream Player</title>
<style>
body { font-family: Arial, sans-serif; background: #f0f0f0; margin: 0; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
.container { background: white; border-radius: 8px; box-shadow: 0 4px 8px rgba(0, 0, 0, 0.1); overflow: hidden; width: 90%; max-width: 800px; }
.title { background: #2196F3; color: white; padding: 15px; text-align: center; font-size: 18px; margin: 0; word-break: break-all; }
.player { padding: 20px; }
video { width: 100%; max-height: 500px; background: #000; }
audio { width: 100%; margin: 20px 0; }
.download { display: block; text-align: center; background: #4CAF50; color: white; padding: 10px; text-decoration: none; border-radius: 4px; margin: 20px auto; width: 200px; }
</style>
</head>
<body>
<div class="container">
<h2 class="title">{{.Name}}</h2>
<div class="player">
{{- if .Video}}
<video controls autoplay><source src="{{.StreamURL}}" type="{{.MimeType}}">Your browser does not support the video tag.</video>
{{- else if .Audio}}
<audio controls autoplay><source src="{{.StreamURL}}" type="{{.MimeType}}">Your browser does not support the audio tag.</audio>
{{- else}}
<p>This file type ({{.MimeType}}) is not supported for streaming playback.</p>
{{- end}}
</div>
<a class="download" href="{{.DownloadURL}}">Download File</a>
</div>
</body>
</html>
`))

type playerPage struct {
	Name        string
	MimeType    string
	StreamURL   string
	DownloadURL string
	Video       bool
	Audio       bool
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseObjectID(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	_, meta, err := s.descriptors.Resolve(r.Context(), id)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		s.writeError(w, r, err)
		return
	}

	streamURL := s.baseURL(r) + "/" + id.String() + "/" + url.PathEscape(meta.Name)
	page := playerPage{
		Name:        meta.Name,
		MimeType:    meta.MimeType,
		StreamURL:   streamURL,
		DownloadURL: streamURL + "?download=1",
	}
	if meta.Streamable() {
		page.Video = meta.IsVideo()
		page.Audio = !page.Video
	}

	var buf bytes.Buffer
	if err := playerTemplate.Execute(&buf, page); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		w.Write(buf.Bytes())
	}
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.PublicURL != "" {
		return strings.TrimRight(s.cfg.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
