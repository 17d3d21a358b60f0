package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shouni/archsheet-kit/pkg/consistency"
	"github.com/shouni/archsheet-kit/pkg/dna"
	"github.com/shouni/archsheet-kit/pkg/domain"
	"github.com/shouni/archsheet-kit/pkg/store"
	"github.com/shouni/archsheet-kit/pkg/workflow"
)

const (
	maxBodyBytes = 1 << 20
	signedURLTTL = time.Hour
)

// Service はシート生成ワークフローです。
type Service interface {
	Generate(ctx context.Context, brief *domain.ProjectBrief) (*domain.SheetResult, error)
	Modify(ctx context.Context, req domain.ModifyRequest) (*domain.SheetResult, error)
	Check(ctx context.Context, designID string, version int) (*consistency.Report, error)
}

// History は保存済みの設計履歴を参照します。
type History interface {
	ListDesigns(ctx context.Context) ([]store.DesignSummary, error)
	ListVersions(ctx context.Context, designID string) ([]store.VersionSummary, error)
	LatestVersion(ctx context.Context, designID string) (*domain.SheetResult, error)
	GetVersion(ctx context.Context, designID string, version int) (*domain.SheetResult, error)
}

// URLSigner は成果物の閲覧用 URL を発行します。
type URLSigner interface {
	PublicURL(ctx context.Context, uri string, ttl time.Duration) string
}

// Server は JSON HTTP API を提供します。
type Server struct {
	svc     Service
	history History
	signer  URLSigner
	mux     *http.ServeMux
}

// New は依存関係を注入して Server を初期化します。signer は nil を許容します。
func New(svc Service, history History, signer URLSigner) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("service is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history is required")
	}
	s := &Server{svc: svc, history: history, signer: signer, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/designs", s.handleGenerate)
	s.mux.HandleFunc("GET /api/designs", s.handleListDesigns)
	s.mux.HandleFunc("GET /api/designs/{id}", s.handleGetDesign)
	s.mux.HandleFunc("GET /api/designs/{id}/versions", s.handleListVersions)
	s.mux.HandleFunc("POST /api/designs/{id}/modify", s.handleModify)
	s.mux.HandleFunc("GET /api/designs/{id}/check", s.handleCheck)
}

// Handler はアクセスログ付きのハンドラを返します。
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
}

// Run は ctx が終了するまでサーバーを起動し、終了時はグレースフルシャットダウンします。
func (s *Server) Run(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP サーバーを起動します", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("HTTP サーバーを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("シャットダウンに失敗しました: %w", err)
	}
	return <-errCh
}

type sheetResponse struct {
	*domain.SheetResult
	SheetURL string `json:"sheet_url,omitempty"`
}

func (s *Server) sheetResponse(ctx context.Context, r *domain.SheetResult) sheetResponse {
	resp := sheetResponse{SheetResult: r}
	if s.signer != nil && r.SheetURI != "" {
		resp.SheetURL = s.signer.PublicURL(ctx, r.SheetURI, signedURLTTL)
	}
	return resp
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var brief domain.ProjectBrief
	if err := decodeBody(w, r, &brief); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if brief.ProjectName == "" {
		writeError(w, r, http.StatusBadRequest, errors.New("project_name is required"))
		return
	}

	res, err := s.svc.Generate(r.Context(), &brief)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, s.sheetResponse(r.Context(), res))
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var req domain.ModifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.DesignID = r.PathValue("id")

	res, err := s.svc.Modify(r.Context(), req)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.sheetResponse(r.Context(), res))
}

func (s *Server) handleListDesigns(w http.ResponseWriter, r *http.Request) {
	designs, err := s.history.ListDesigns(r.Context())
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	if designs == nil {
		designs = []store.DesignSummary{}
	}
	writeJSON(w, http.StatusOK, designs)
}

func (s *Server) handleGetDesign(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	version, err := versionParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var res *domain.SheetResult
	if version > 0 {
		res, err = s.history.GetVersion(r.Context(), id, version)
	} else {
		res, err = s.history.LatestVersion(r.Context(), id)
	}
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.sheetResponse(r.Context(), res))
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.history.ListVersions(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	version, err := versionParam(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	report, err := s.svc.Check(r.Context(), r.PathValue("id"), version)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func versionParam(r *http.Request) (int, error) {
	v := r.URL.Query().Get("version")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid version: %q", v)
	}
	return n, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// statusFor はドメインのエラーを HTTP ステータスに対応付けます。
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrDrift), errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, dna.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("レスポンスの書き込みに失敗しました", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "リクエストの処理に失敗しました", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.InfoContext(r.Context(), "http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
