package main

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-stiefel/internal/cache"
	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := NewServer(cache.NewMapCache(8), manifold.DefaultTolerance, 4)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, path string, req, resp any) int {
	t.Helper()
	body, err := codec.Marshal(req)
	require.NoError(t, err)
	r, err := http.Post(ts.URL+path, contentTypeCBOR, bytes.NewReader(body))
	require.NoError(t, err)
	defer r.Body.Close()
	if resp != nil {
		require.NoError(t, codec.NewDecoder(r.Body).Decode(resp))
	}
	return r.StatusCode
}

func wire(rows, cols int, data ...float64) codec.MatrixWire {
	return codec.FromMatrix(linalg.NewReal(rows, cols, data))
}

var (
	st32 = codec.ManifoldWire{N: 3, K: 2, Field: "real"}
	// x0 is the point [e1 e2] of St(3, 2).
	x0 = wire(3, 2, 1, 0, 0, 1, 0, 0)
)

func TestServer_Dimension(t *testing.T) {
	ts := newTestServer(t)

	var resp codec.DimensionResponse
	code := post(t, ts, "/dimension", codec.DimensionRequest{
		Manifold: codec.ManifoldWire{N: 5, K: 2, Field: "complex"},
	}, &resp)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 5, resp.Rows)
	assert.Equal(t, 2, resp.Cols)
	assert.Equal(t, 16, resp.Dimension)
	assert.Contains(t, resp.Manifold, "GeneralizedStiefel(5, 2")

	var errResp codec.ErrorResponse
	code = post(t, ts, "/dimension", codec.DimensionRequest{
		Manifold: codec.ManifoldWire{N: 1, K: 2, Field: "real"},
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.NotEmpty(t, errResp.Error)

	code = post(t, ts, "/dimension", codec.DimensionRequest{
		Manifold: codec.ManifoldWire{N: 1 << 32, K: 1, Field: "real"},
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errResp.Error, "dimensions")
}

func TestServer_Check(t *testing.T) {
	ts := newTestServer(t)

	t.Run("valid point", func(t *testing.T) {
		var resp codec.CheckResponse
		code := post(t, ts, "/check/point", codec.CheckPointRequest{Manifold: st32, X: x0}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.True(t, resp.Valid)
		assert.Equal(t, "ok", resp.Kind)
	})

	t.Run("constraint violation is reported as data", func(t *testing.T) {
		var resp codec.CheckResponse
		code := post(t, ts, "/check/point", codec.CheckPointRequest{
			Manifold: st32,
			X:        wire(3, 2, 2, 0, 0, 1, 0, 0),
		}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.False(t, resp.Valid)
		assert.Equal(t, "constraint", resp.Kind)
		assert.Greater(t, resp.Distance, 0.0)
	})

	t.Run("shape", func(t *testing.T) {
		var resp codec.CheckResponse
		code := post(t, ts, "/check/point", codec.CheckPointRequest{
			Manifold: st32,
			X:        wire(2, 2, 1, 0, 0, 1),
		}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.False(t, resp.Valid)
		assert.Equal(t, "shape", resp.Kind)
	})

	t.Run("tangent vector with custom tolerance", func(t *testing.T) {
		var resp codec.CheckResponse
		code := post(t, ts, "/check/vector", codec.CheckVectorRequest{
			Manifold:  st32,
			X:         x0,
			V:         wire(3, 2, 0, 1, -1, 0, 5, 6),
			Tolerance: &manifold.Tolerance{Abs: 1e-12},
		}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.True(t, resp.Valid)

		code = post(t, ts, "/check/vector", codec.CheckVectorRequest{
			Manifold: st32,
			X:        x0,
			V:        wire(3, 2, 1, 0, 0, 0, 0, 0),
		}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.False(t, resp.Valid)
		assert.Equal(t, "constraint", resp.Kind)
	})
}

func TestServer_Operations(t *testing.T) {
	ts := newTestServer(t)

	t.Run("project", func(t *testing.T) {
		var resp codec.MatrixResponse
		code := post(t, ts, "/project", codec.ProjectRequest{
			Manifold: st32,
			X:        wire(3, 2, 2, 0, 0, 3, 0, 0),
		}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.InDeltaSlice(t, x0.Data, resp.Result.Data, 1e-12)
	})

	t.Run("project tangent", func(t *testing.T) {
		var resp codec.MatrixResponse
		code := post(t, ts, "/project/tangent", codec.TangentRequest{
			Manifold: st32,
			X:        x0,
			V:        wire(3, 2, 1, 2, 3, 4, 5, 6),
		}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.InDeltaSlice(t, []float64{0, -0.5, 0.5, 0, 5, 6}, resp.Result.Data, 1e-12)
	})

	t.Run("retract", func(t *testing.T) {
		for _, method := range []string{"polar", "qr", ""} {
			var resp codec.MatrixResponse
			code := post(t, ts, "/retract", codec.RetractRequest{
				Manifold: st32,
				X:        x0,
				V:        wire(3, 2, 0, 0, 0, 0, 0, 0),
				Method:   method,
			}, &resp)
			require.Equal(t, http.StatusOK, code, method)
			assert.InDeltaSlice(t, x0.Data, resp.Result.Data, 1e-12, method)
		}

		var errResp codec.ErrorResponse
		code := post(t, ts, "/retract", codec.RetractRequest{
			Manifold: st32,
			X:        x0,
			V:        wire(3, 2, 0, 0, 0, 0, 0, 0),
			Method:   "exp",
		}, &errResp)
		assert.Equal(t, http.StatusBadRequest, code)
	})

	t.Run("inner", func(t *testing.T) {
		v := wire(3, 2, 0, 1, -1, 0, 1, 0)
		var resp codec.InnerResponse
		code := post(t, ts, "/inner", codec.InnerRequest{Manifold: st32, X: x0, V: v, W: v}, &resp)
		require.Equal(t, http.StatusOK, code)
		assert.InDelta(t, 3.0, resp.Inner, 1e-12)
	})

	t.Run("shape mismatch", func(t *testing.T) {
		var resp codec.ErrorResponse
		code := post(t, ts, "/inner", codec.InnerRequest{
			Manifold: st32,
			X:        x0,
			V:        wire(2, 2, 1, 0, 0, 1),
			W:        x0,
		}, &resp)
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Equal(t, "shape", resp.Kind)
	})

	t.Run("B not positive definite", func(t *testing.T) {
		b := wire(2, 2, -1, 0, 0, 1)
		var resp codec.ErrorResponse
		code := post(t, ts, "/project", codec.ProjectRequest{
			Manifold: codec.ManifoldWire{N: 2, K: 1, Field: "real", B: &b},
			X:        wire(2, 1, 1, 0),
		}, &resp)
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestServer_BadRequests(t *testing.T) {
	ts := newTestServer(t)

	r, err := http.Post(ts.URL+"/project", contentTypeCBOR, bytes.NewReader([]byte{0xff, 0x00}))
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r.StatusCode)

	r, err = http.Get(ts.URL + "/project")
	require.NoError(t, err)
	r.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, r.StatusCode)

	r, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer r.Body.Close()
	assert.Equal(t, http.StatusOK, r.StatusCode)
}

func TestServer_ProjectArrow(t *testing.T) {
	ts := newTestServer(t)
	builder := codec.NewRecordBatchBuilder(nil)

	var body bytes.Buffer
	require.NoError(t, builder.WriteStream(&body, []*linalg.Matrix{
		linalg.NewReal(3, 2, []float64{2, 0, 0, 3, 0, 0}),
		linalg.NewReal(3, 2, []float64{1, 0, 0, 1, 0, 0}),
	}))

	r, err := http.Post(ts.URL+"/project/arrow?n=3&k=2&field=real", "application/vnd.apache.arrow.stream", &body)
	require.NoError(t, err)
	defer r.Body.Close()
	require.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "application/vnd.apache.arrow.stream", r.Header.Get("Content-Type"))

	out, err := builder.ReadStream(r.Body)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, m := range out {
		assert.InDeltaSlice(t, x0.Data, m.Raw(), 1e-12)
	}

	r2, err := http.Post(ts.URL+"/project/arrow?k=2", "application/vnd.apache.arrow.stream", nil)
	require.NoError(t, err)
	r2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, r2.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&manifold.DomainError{Op: "project", Err: linalg.ErrFactorization}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: eof", errBadRequest), http.StatusBadRequest},
		{codec.ErrMalformed, http.StatusBadRequest},
		{manifold.ErrUnsupportedField, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
