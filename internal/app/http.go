package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/auth"
	"rollcall/internal/export"
	"rollcall/internal/importer"
	"rollcall/internal/rbac"
	"rollcall/internal/roster"
	"rollcall/internal/util"
)

// maxJSONBody bounds JSON request bodies; shared payloads can be large.
const maxJSONBody = 10 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *slog.Logger
	requests   *prometheus.CounterVec
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        service.log.With("component", "http"),
		requests:   requestCounter(service.Registry()),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		backend := map[string]any{"status": "ok", "name": s.service.Roster().Backend}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			backend["status"] = "error"
			backend["error"] = err.Error()
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": map[string]any{"backend": backend},
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		promhttp.HandlerFor(s.service.Registry(), promhttp.HandlerOpts{}).ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/live" {
		s.service.Live().Serve(w, r, s.service.Snapshot())
		return
	}

	if action := requiredAction(r); action != rbac.ActionRead {
		if err := s.service.Authorize(auth.BearerToken(r.Header.Get("Authorization")), action); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/roster" {
		writeJSON(w, http.StatusOK, s.service.Roster())
		return
	}

	if r.Method == http.MethodPut && r.URL.Path == "/api/roster/event" {
		var body struct {
			CurrentEvent string `json:"currentEvent"`
			EventDate    string `json:"eventDate"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.service.SetEvent(body.CurrentEvent, body.EventDate)
		writeJSON(w, http.StatusOK, s.service.Roster())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/roster/clear" {
		s.service.Clear()
		writeJSON(w, http.StatusOK, s.service.Roster())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/roster/reload" {
		if err := s.service.Reload(r.Context()); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s.service.Roster())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/summary" {
		writeJSON(w, http.StatusOK, s.service.Summary())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/participants" {
		var body struct {
			Name   string `json:"name"`
			Entity string `json:"entity"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		participant, err := s.service.AddParticipant(body.Name, body.Entity)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, participant)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "participants" {
		id, err := strconv.Atoi(parts[2])
		if err != nil || id <= 0 {
			writeError(w, http.StatusNotFound, "PARTICIPANT_NOT_FOUND", "Participant not found", nil)
			return
		}
		s.handleParticipant(w, r, id, parts[3:])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "import" {
		s.handleImport(w, r, parts[2])
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		query := r.URL.Query()
		limit := 0
		if raw := query.Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a non-negative integer", nil)
				return
			}
			limit = parsed
		}
		response, err := s.service.Search(query.Get("q"), query.Get("attendance"), limit)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, response)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/search/reindex" {
		s.service.Reindex()
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 3 && parts[0] == "api" && parts[1] == "export" {
		format, err := export.ParseFormat(parts[2])
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		result, err := s.service.Export(r.Context(), format)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeFile(w, result)
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "share" {
		s.handleShare(w, r, parts[2])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "archive" {
		s.handleArchive(w, r)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleParticipant(w http.ResponseWriter, r *http.Request, id int, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			participant, err := s.service.roster.Get(id)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, participant)
		case http.MethodDelete:
			if err := s.service.RemoveParticipant(id); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "attendance" && r.Method == http.MethodPost {
		var body struct {
			Attendance string `json:"attendance"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		participant, err := s.service.MarkAttendance(id, body.Attendance)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, participant)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleImport(w http.ResponseWriter, r *http.Request, action string) {
	switch {
	case action == "preview" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"preview": nonNilCandidates(s.service.ImportPreview())})

	case action == "stage" && r.Method == http.MethodPost:
		staged, err := s.stage(w, r)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"preview": staged, "count": len(staged)})

	case action == "confirm" && r.Method == http.MethodPost:
		added := s.service.ConfirmImport()
		writeJSON(w, http.StatusOK, map[string]any{"added": added, "summary": s.service.Summary()})

	case action == "cancel" && r.Method == http.MethodPost:
		s.service.CancelImport()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// stage accepts a multipart upload in the "file" field or a JSON body of
// rows whose first row is a header.
func (s *HTTPServer) stage(w http.ResponseWriter, r *http.Request) ([]roster.Candidate, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, importer.MaxFileSize+1<<20)
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "INVALID_BODY", "multipart field \"file\" is required", nil)
		}
		defer file.Close()
		return s.service.StageFile(file, header.Filename, header.Size)
	}

	var body struct {
		Rows [][]any `json:"rows"`
	}
	if err := decodeBody(r, &body); err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
	}
	return s.service.StageRows(body.Rows)
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request, action string) {
	switch {
	case action == "json" && r.Method == http.MethodGet:
		result, err := s.service.Export(r.Context(), export.FormatJSON)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeFile(w, result)

	case action == "url" && r.Method == http.MethodGet:
		link, err := s.service.ShareURL(r.URL.Query().Get("base"))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": link})

	case action == "load" && r.Method == http.MethodPost:
		var (
			result LoadResult
			err    error
		)
		if data := r.URL.Query().Get(roster.ShareParam); data != "" {
			result, err = s.service.LoadSharedURL("?" + url.Values{roster.ShareParam: {data}}.Encode())
		} else {
			var payload []byte
			payload, err = io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
			if err == nil {
				result, err = s.service.LoadShared(payload)
			}
		}
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"loaded": result, "roster": s.service.Roster()})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/archive" {
		switch r.Method {
		case http.MethodGet:
			objects, err := s.service.ListArchives(r.Context())
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"archives": objects})
		case http.MethodPost:
			obj, err := s.service.Archive(r.Context())
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, obj)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// Keys contain slashes: /api/archive/{eventID}/{name}.json/load
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/load") {
		key := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/archive/"), "/load")
		result, err := s.service.LoadArchive(r.Context(), key)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"loaded": result, "roster": s.service.Roster()})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.requests.WithLabelValues(r.Method, strconv.Itoa(writer.status)).Inc()
		s.log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the live feed upgrade through the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func requestCounter(reg prometheus.Registerer) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status.",
	}, []string{"method", "status"})
	if err := reg.Register(counter); err != nil {
		var existing prometheus.AlreadyRegisteredError
		if errors.As(err, &existing) {
			return existing.ExistingCollector.(*prometheus.CounterVec)
		}
	}
	return counter
}

// requiredAction classifies a request. Routes that wipe or replace the whole
// roster need admin rights; other mutations need write rights.
func requiredAction(r *http.Request) rbac.Action {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return rbac.ActionRead
	}
	switch {
	case r.URL.Path == "/api/roster/clear",
		r.URL.Path == "/api/roster/reload",
		r.URL.Path == "/api/share/load",
		strings.HasPrefix(r.URL.Path, "/api/archive/") && strings.HasSuffix(r.URL.Path, "/load"):
		return rbac.ActionAdmin
	}
	return rbac.ActionWrite
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// writeFile sends an export as a download.
func writeFile(w http.ResponseWriter, result *export.Result) {
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func nonNilCandidates(c []roster.Candidate) []roster.Candidate {
	if c == nil {
		return []roster.Candidate{}
	}
	return c
}
