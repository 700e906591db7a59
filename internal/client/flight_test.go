package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/field"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// scalingFlightServer answers every batch with its matrices doubled.
type scalingFlightServer struct {
	flight.BaseFlightServer
	descriptors []codec.ManifoldWire
}

func (s *scalingFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer reader.Release()

	var w codec.ManifoldWire
	if desc := reader.LatestFlightDescriptor(); desc != nil {
		if err := codec.Unmarshal(desc.Cmd, &w); err != nil {
			return err
		}
	}
	s.descriptors = append(s.descriptors, w)

	builder := codec.NewRecordBatchBuilder(memory.NewGoAllocator())
	writer := flight.NewRecordWriter(stream, ipc.WithSchema(codec.Schema))
	defer writer.Close()
	for reader.Next() {
		ms, err := codec.ReadRecordBatch(reader.Record())
		if err != nil {
			return err
		}
		for _, m := range ms {
			m.Scale(2)
		}
		rec, err := builder.BuildRecordBatch(ms)
		if err != nil {
			return err
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}
	return reader.Err()
}

func startServer(t *testing.T, svc flight.FlightServer) string {
	t.Helper()
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(svc)
	require.NoError(t, server.Init("localhost:0"))
	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(server.Shutdown)
	return server.Addr().String()
}

func TestFlightClient_Project(t *testing.T) {
	svc := &scalingFlightServer{}
	addr := startServer(t, svc)

	client, err := NewFlightClient(addr, DefaultConfig)
	require.NoError(t, err)
	defer client.Close()

	points := []*linalg.Matrix{
		linalg.NewReal(2, 1, []float64{1, 2}),
		linalg.NewComplex(1, 1, []complex128{3 - 1i}),
	}
	m := codec.ManifoldWire{N: 2, K: 1, Field: "real"}

	got, err := client.Project(context.Background(), m, points)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []float64{2, 4}, got[0].Raw())
	assert.Equal(t, field.Complex, got[1].Field())
	assert.Equal(t, []float64{6, -2}, got[1].Raw())

	require.Len(t, svc.descriptors, 1)
	assert.Equal(t, m, svc.descriptors[0])
	assert.Equal(t, gobreaker.StateClosed, client.State())

	empty, err := client.Project(context.Background(), m, nil)
	assert.NoError(t, err)
	assert.Nil(t, empty)
}

func TestFlightClient_BreakerOpens(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	client, err := NewFlightClient(addr, Config{MaxFailures: 2, Timeout: time.Minute})
	require.NoError(t, err)
	defer client.Close()

	points := []*linalg.Matrix{linalg.NewReal(1, 1, []float64{1})}
	m := codec.ManifoldWire{N: 1, K: 1, Field: "real"}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		_, err := client.Project(ctx, m, points)
		require.Error(t, err)
		assert.False(t, IsUnavailable(err))
	}
	assert.Equal(t, gobreaker.StateOpen, client.State())

	_, err = client.Project(ctx, m, points)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.True(t, IsUnavailable(err))
}
