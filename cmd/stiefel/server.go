package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-stiefel/internal/cache"
	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

const contentTypeCBOR = "application/cbor"

var (
	matricesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stiefel_matrices_processed_total",
		Help: "The total number of matrices received by the service",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stiefel_request_duration_seconds",
		Help:    "Time spent processing requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"op", "code"})
)

var tracer = otel.Tracer("stiefel-server")

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

type Server struct {
	manifolds cache.ManifoldCache
	tol       manifold.Tolerance
	sem       *semaphore.Weighted
	maxWeight int64
	builder   *codec.RecordBatchBuilder
}

func NewServer(manifolds cache.ManifoldCache, tol manifold.Tolerance, maxConcurrent int) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Server{
		manifolds: manifolds,
		tol:       tol,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		maxWeight: int64(maxConcurrent),
		builder:   codec.NewRecordBatchBuilder(memory.NewGoAllocator()),
	}
}

// Handler returns the HTTP routes of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /dimension", handle(s, "dimension", s.dimension))
	mux.HandleFunc("POST /check/point", handle(s, "check_point", s.checkPoint))
	mux.HandleFunc("POST /check/vector", handle(s, "check_vector", s.checkVector))
	mux.HandleFunc("POST /project", handle(s, "project", s.project))
	mux.HandleFunc("POST /project/tangent", handle(s, "project_tangent", s.projectTangent))
	mux.HandleFunc("POST /retract", handle(s, "retract", s.retract))
	mux.HandleFunc("POST /inner", handle(s, "inner", s.inner))
	mux.HandleFunc("POST /project/arrow", s.handleProjectArrow)
	return mux
}

func startServer(ctx context.Context, addr string, srv *Server) error {
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Starting Stiefel Server")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// handle decodes a CBOR request of type Req, runs fn under admission
// control and writes its CBOR response.
func handle[Req any](s *Server, op string, fn func(ctx context.Context, req *Req) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), op)
		defer span.End()

		start := time.Now()
		code := http.StatusOK
		defer func() {
			requestDuration.WithLabelValues(op, strconv.Itoa(code)).Observe(time.Since(start).Seconds())
		}()

		var req Req
		if err := codec.NewDecoder(r.Body).Decode(&req); err != nil {
			span.RecordError(err)
			code = http.StatusBadRequest
			writeError(w, code, fmt.Errorf("%w (CBOR decode): %v", errBadRequest, err))
			return
		}

		// Admission Control
		if err := s.sem.Acquire(ctx, 1); err != nil {
			log.Error().Err(err).Msg("Failed to acquire semaphore")
			code = http.StatusServiceUnavailable
			http.Error(w, "Server busy", code)
			return
		}
		resp, err := fn(ctx, &req)
		s.sem.Release(1)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			code = statusFor(err)
			log.Debug().Err(err).Str("op", op).Int("status", code).Msg("Request failed")
			writeError(w, code, err)
			return
		}
		writeCBOR(w, code, resp)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, manifold.ErrDomain):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errBadRequest),
		errors.Is(err, codec.ErrMalformed),
		errors.Is(err, manifold.ErrFieldMismatch),
		errors.Is(err, manifold.ErrShapeMismatch),
		errors.Is(err, manifold.ErrInvalidDimensions),
		errors.Is(err, manifold.ErrNotHermitian),
		errors.Is(err, manifold.ErrNotPositiveDefinite),
		errors.Is(err, manifold.ErrUnknownRetraction),
		errors.Is(err, manifold.ErrUnsupportedField):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeCBOR(w http.ResponseWriter, code int, v any) {
	data, err := codec.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeCBOR)
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeCBOR(w, code, codec.ErrorResult(err))
}

func (s *Server) lookup(ctx context.Context, mw codec.ManifoldWire) (*manifold.GeneralizedStiefel, error) {
	m, err := cache.GetOrBuild(s.manifolds, mw)
	if err != nil {
		return nil, err
	}
	n, k := m.RepresentationSize()
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("n", n),
		attribute.Int("k", k),
		attribute.String("field", m.Field().String()),
	)
	return m, nil
}

// matrices decodes ws and checks field and shape against m.
func matrices(m *manifold.GeneralizedStiefel, ws ...codec.MatrixWire) ([]*linalg.Matrix, error) {
	out := make([]*linalg.Matrix, len(ws))
	for i, w := range ws {
		a, err := w.Matrix()
		if err != nil {
			return nil, err
		}
		if err := m.CheckAmbient(a); err != nil {
			return nil, err
		}
		out[i] = a
	}
	matricesProcessed.Add(float64(len(ws)))
	return out, nil
}

func (s *Server) dimension(ctx context.Context, req *codec.DimensionRequest) (any, error) {
	m, err := s.lookup(ctx, req.Manifold)
	if err != nil {
		return nil, err
	}
	n, k := m.RepresentationSize()
	return codec.DimensionResponse{Manifold: m.String(), Rows: n, Cols: k, Dimension: m.ManifoldDimension()}, nil
}

func (s *Server) tolerance(t *manifold.Tolerance) manifold.Tolerance {
	if t != nil {
		return *t
	}
	return s.tol
}

func (s *Server) checkPoint(ctx context.Context, req *codec.CheckPointRequest) (any, error) {
	m, err := s.lookup(ctx, req.Manifold)
	if err != nil {
		return nil, err
	}
	x, err := req.X.Matrix()
	if err != nil {
		return nil, err
	}
	matricesProcessed.Inc()
	return codec.CheckResult(m.CheckPoint(x, s.tolerance(req.Tolerance))), nil
}

func (s *Server) checkVector(ctx context.Context, req *codec.CheckVectorRequest) (any, error) {
	m, err := s.lookup(ctx, req.Manifold)
	if err != nil {
		return nil, err
	}
	x, err := req.X.Matrix()
	if err != nil {
		return nil, err
	}
	v, err := req.V.Matrix()
	if err != nil {
		return nil, err
	}
	matricesProcessed.Add(2)
	return codec.CheckResult(m.CheckVector(x, v, s.tolerance(req.Tolerance))), nil
}

func (s *Server) project(ctx context.Context, req *codec.ProjectRequest) (any, error) {
	m, err := s.lookup(ctx, req.Manifold)
	if err != nil {
		return nil, err
	}
	ms, err := matrices(m, req.X)
	if err != nil {
		return nil, err
	}
	res, err := m.Project(ms[0])
	if err != nil {
		return nil, err
	}
	return codec.MatrixResponse{Result: codec.FromMatrix(res)}, nil
}

func (s *Server) projectTangent(ctx context.Context, req *codec.TangentRequest) (any, error) {
	m, err := s.lookup(ctx, req.Manifold)
	if err != nil {
		return nil, err
	}
	ms, err := matrices(m, req.X, req.V)
	if err != nil {
		return nil, err
	}
	res, err := m.ProjectTangent(ms[0], ms[1])
	if err != nil {
		return nil, err
	}
	return codec.MatrixResponse{Result: codec.FromMatrix(res)}, nil
}

func (s *Server) retract(ctx context.Context, req *codec.RetractRequest) (any, error) {
	method, err := manifold.ParseRetraction(req.Method)
	if err != nil {
		return nil, err
	}
	m, err := s.lookup(ctx, req.Manifold)
	if err != nil {
		return nil, err
	}
	ms, err := matrices(m, req.X, req.V)
	if err != nil {
		return nil, err
	}
	res, err := m.Retract(ms[0], ms[1], method)
	if err != nil {
		return nil, err
	}
	return codec.MatrixResponse{Result: codec.FromMatrix(res)}, nil
}

func (s *Server) inner(ctx context.Context, req *codec.InnerRequest) (any, error) {
	m, err := s.lookup(ctx, req.Manifold)
	if err != nil {
		return nil, err
	}
	ms, err := matrices(m, req.X, req.V, req.W)
	if err != nil {
		return nil, err
	}
	return codec.InnerResponse{Inner: m.Inner(ms[0], ms[1], ms[2])}, nil
}

// handleProjectArrow projects every matrix of an Arrow IPC stream onto the
// manifold named by the n, k and field query parameters (B = I) and answers
// with an Arrow IPC stream of the results.
func (s *Server) handleProjectArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "project_arrow")
	defer span.End()

	start := time.Now()
	code := http.StatusOK
	defer func() {
		requestDuration.WithLabelValues("project_arrow", strconv.Itoa(code)).Observe(time.Since(start).Seconds())
	}()

	q := r.URL.Query()
	n, errN := strconv.Atoi(q.Get("n"))
	k, errK := strconv.Atoi(q.Get("k"))
	if errN != nil || errK != nil {
		code = http.StatusBadRequest
		http.Error(w, "query parameters n and k are required", code)
		return
	}
	m, err := s.lookup(ctx, codec.ManifoldWire{N: n, K: k, Field: q.Get("field")})
	if err != nil {
		code = statusFor(err)
		http.Error(w, err.Error(), code)
		return
	}

	xs, err := s.builder.ReadStream(r.Body)
	if err != nil {
		span.RecordError(err)
		code = http.StatusBadRequest
		http.Error(w, fmt.Sprintf("Failed to read IPC stream: %v", err), code)
		return
	}
	span.SetAttributes(attribute.Int("matrix_count", len(xs)))
	matricesProcessed.Add(float64(len(xs)))

	weight := min(max(int64(len(xs)), 1), s.maxWeight)
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore for arrow batch")
		code = http.StatusServiceUnavailable
		http.Error(w, "Server busy", code)
		return
	}
	defer s.sem.Release(weight)

	out := make([]*linalg.Matrix, len(xs))
	for i, x := range xs {
		if out[i], err = m.Project(x); err != nil {
			span.RecordError(err)
			code = statusFor(err)
			http.Error(w, fmt.Sprintf("matrix %d: %v", i, err), code)
			return
		}
	}

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	if err := s.builder.WriteStream(w, out); err != nil {
		log.Error().Err(err).Msg("Error writing Arrow stream")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
