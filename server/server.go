package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sayooj2275/ecotrace/common"
	"github.com/Sayooj2275/ecotrace/models"
	"github.com/Sayooj2275/ecotrace/services"
)

const HeaderProfileRef = "X-Profile-Ref"

const maxBodySize = 64 << 10
const maxEvidenceSize = 10 << 20

type CodeResponse struct {
	RequestId uuid.UUID `json:"requestId"`
	Code      string    `json:"code"`
	Digits    int       `json:"digits"`
}

type EvidenceResponse struct {
	EvidenceRef string `json:"evidenceRef"`
}

type Server struct {
	router        *mux.Router
	pickupService *services.PickupService
	evidenceStore models.EvidenceStore
	tracer        trace.Tracer
	logger        models.Logger
}

// NewServer routes the lifecycle operations. The evidence upload route is only registered when a store is configured.
func NewServer(logger models.Logger, pickupService *services.PickupService, evidenceStore models.EvidenceStore) *Server {
	s := Server{
		router:        mux.NewRouter(),
		pickupService: pickupService,
		evidenceStore: evidenceStore,
		tracer:        otel.Tracer(common.ServiceName),
		logger:        logger,
	}
	s.router.Use(s.traceRequest)
	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.HandleFunc("/requests", s.createRequest).Methods(http.MethodPost)
	s.router.HandleFunc("/requests/open", s.marketplace).Methods(http.MethodGet)
	s.router.HandleFunc("/requests/{id}", s.getRequest).Methods(http.MethodGet)
	s.router.HandleFunc("/requests/{id}/code", s.getCode).Methods(http.MethodGet)
	s.router.HandleFunc("/requests/{id}/claim", s.claim).Methods(http.MethodPost)
	s.router.HandleFunc("/requests/{id}/release", s.release).Methods(http.MethodPost)
	s.router.HandleFunc("/requests/{id}/verify", s.verify).Methods(http.MethodPost)
	s.router.HandleFunc("/history", s.history).Methods(http.MethodGet)
	if evidenceStore != nil {
		s.router.HandleFunc("/evidence", s.putEvidence).Methods(http.MethodPut)
	}
	return &s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	in := models.NewRequest{}
	if !s.decodeBody(w, r, &in) {
		return
	}
	req, err := s.pickupService.Create(r.Context(), profileRef(r), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, req)
}

func (s *Server) marketplace(w http.ResponseWriter, r *http.Request) {
	filter := models.OpenFilter{Category: r.URL.Query().Get("category")}
	if l := r.URL.Query().Get("limit"); len(l) > 0 {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			s.respondError(w, r, fmt.Errorf("%w: invalid limit %q", models.ErrValidation, l))
			return
		}
		filter.Limit = limit
	}
	listings, err := s.pickupService.Marketplace(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, listings)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestId(w, r)
	if !ok {
		return
	}
	req, err := s.pickupService.Get(r.Context(), id, profileRef(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

func (s *Server) getCode(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestId(w, r)
	if !ok {
		return
	}
	code, err := s.pickupService.Code(r.Context(), id, profileRef(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, CodeResponse{RequestId: id, Code: code.Code, Digits: services.CodeLength})
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestId(w, r)
	if !ok {
		return
	}
	req, err := s.pickupService.Claim(r.Context(), id, profileRef(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

func (s *Server) release(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestId(w, r)
	if !ok {
		return
	}
	req, err := s.pickupService.Release(r.Context(), id, profileRef(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requestId(w, r)
	if !ok {
		return
	}
	sub := models.Submission{}
	if !s.decodeBody(w, r, &sub) {
		return
	}
	req, err := s.pickupService.Verify(r.Context(), id, profileRef(r), sub)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, req)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.pickupService.History(r.Context(), profileRef(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, reqs)
}

func (s *Server) putEvidence(w http.ResponseWriter, r *http.Request) {
	if len(profileRef(r)) == 0 {
		s.respondError(w, r, fmt.Errorf("%w: missing profile reference", models.ErrForbidden))
		return
	}
	// Read the whole photo so the upload has a known length and can be signed
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEvidenceSize+1))
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", models.ErrValidation, err))
		return
	} else if len(body) == 0 || len(body) > maxEvidenceSize {
		s.respondError(w, r, fmt.Errorf("%w: evidence must be between 1 and %d bytes", models.ErrValidation, maxEvidenceSize))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if len(contentType) == 0 {
		contentType = http.DetectContentType(body)
	}
	ref, err := s.evidenceStore.Put(r.Context(), contentType, bytes.NewReader(body))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, EvidenceResponse{ref})
}

func (s *Server) requestId(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid request id", models.ErrValidation))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: malformed body: %v", models.ErrValidation, err))
		return false
	}
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warnf("server: failed to write response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Errorf("server: %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	s.respondJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message, Code: status})
}

// traceRequest opens a server span per request, named after the route template rather than the raw path
func (s *Server) traceRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tmpl, err := current.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := s.tracer.Start(ctx, r.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r.WithContext(ctx))

		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", recorder.status),
		)
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
		}
		s.logger.Debugf("server: %s %s %d %s", r.Method, route, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func profileRef(r *http.Request) string {
	return r.Header.Get(HeaderProfileRef)
}
