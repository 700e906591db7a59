package main

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-stiefel/internal/cache"
	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// StiefelFlightServer projects Arrow record batches onto the manifold named
// by the CBOR ManifoldWire carried in the flight descriptor command.
type StiefelFlightServer struct {
	flight.BaseFlightServer
	manifolds cache.ManifoldCache
	alloc     memory.Allocator
	builder   *codec.RecordBatchBuilder
}

func NewStiefelFlightServer(manifolds cache.ManifoldCache) *StiefelFlightServer {
	alloc := memory.NewGoAllocator()
	return &StiefelFlightServer{
		manifolds: manifolds,
		alloc:     alloc,
		builder:   codec.NewRecordBatchBuilder(alloc),
	}
}

func (s *StiefelFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	ctx, span := tracer.Start(stream.Context(), "flight_project")
	defer span.End()

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	desc := reader.LatestFlightDescriptor()
	if desc == nil || len(desc.Cmd) == 0 {
		return status.Error(codes.InvalidArgument, "missing manifold descriptor")
	}
	var mw codec.ManifoldWire
	if err := codec.Unmarshal(desc.Cmd, &mw); err != nil {
		return status.Errorf(codes.InvalidArgument, "manifold descriptor: %v", err)
	}
	m, err := cache.GetOrBuild(s.manifolds, mw)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "manifold: %v", err)
	}
	span.SetAttributes(attribute.String("manifold", m.String()))

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(codec.Schema), ipc.WithAllocator(s.alloc))
	defer writer.Close()

	total := 0
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		xs, err := codec.ReadRecordBatch(reader.Record())
		if err != nil {
			return status.Errorf(codes.InvalidArgument, "batch: %v", err)
		}
		matricesProcessed.Add(float64(len(xs)))
		total += len(xs)

		out := make([]*linalg.Matrix, len(xs))
		for i, x := range xs {
			if out[i], err = m.Project(x); err != nil {
				return status.Errorf(codes.InvalidArgument, "matrix %d: %v", i, err)
			}
		}
		rec, err := s.builder.BuildRecordBatch(out)
		if err != nil {
			return status.Errorf(codes.Internal, "build batch: %v", err)
		}
		if rec == nil {
			continue
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("matrix_count", total))
	log.Debug().Str("manifold", m.String()).Int("matrices", total).Msg("Flight exchange complete")
	return nil
}

// StartFlightServer serves svc on addr until ctx is done.
func StartFlightServer(ctx context.Context, addr string, svc flight.FlightServer) error {
	server := flight.NewServerWithMiddleware(nil)
	server.RegisterFlightService(svc)

	if err := server.Init(addr); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	log.Info().Str("addr", server.Addr().String()).Msg("Starting Stiefel Flight Server")
	return server.Serve()
}
