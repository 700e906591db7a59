package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
)

// ErrBreakerOpen is returned while the circuit breaker rejects calls.
var ErrBreakerOpen = gobreaker.ErrOpenState

// Config tunes the circuit breaker around remote calls.
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// DefaultConfig opens after 5 consecutive failures for 30s.
var DefaultConfig = Config{MaxFailures: 5, Timeout: 30 * time.Second}

// FlightClient projects batches of matrices on a remote stiefel server via
// Apache Flight DoExchange.
type FlightClient struct {
	client  flight.Client
	conn    *grpc.ClientConn
	breaker *gobreaker.CircuitBreaker
	builder *codec.RecordBatchBuilder
	alloc   memory.Allocator
}

// NewFlightClient creates a new Flight client connected to the given address.
func NewFlightClient(addr string, cfg Config) (*FlightClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultConfig.MaxFailures
	}

	alloc := memory.NewGoAllocator()
	return &FlightClient{
		client: flight.NewClientFromConn(conn, nil),
		conn:   conn,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "flight:" + addr,
			Timeout: cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			},
		}),
		builder: codec.NewRecordBatchBuilder(alloc),
		alloc:   alloc,
	}, nil
}

// Project sends points to the server, which projects each onto the manifold
// described by m. The results are returned in order.
func (c *FlightClient) Project(ctx context.Context, m codec.ManifoldWire, points []*linalg.Matrix) ([]*linalg.Matrix, error) {
	if len(points) == 0 {
		return nil, nil
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.exchange(ctx, m, points)
	})
	if err != nil {
		return nil, err
	}
	out := res.([]*linalg.Matrix)
	if len(out) != len(points) {
		return nil, fmt.Errorf("flight: received %d matrices for %d points", len(out), len(points))
	}
	return out, nil
}

func (c *FlightClient) exchange(ctx context.Context, m codec.ManifoldWire, points []*linalg.Matrix) ([]*linalg.Matrix, error) {
	cmd, err := codec.Marshal(m)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := c.builder.BuildRecordBatch(points)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(codec.Schema), ipc.WithAllocator(c.alloc))
	writer.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorCMD, Cmd: cmd})
	if err := writer.Write(rec); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.alloc))
	if err != nil {
		return nil, err
	}
	defer reader.Release()

	var out []*linalg.Matrix
	for reader.Next() {
		ms, err := codec.ReadRecordBatch(reader.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// State reports the circuit breaker state.
func (c *FlightClient) State() gobreaker.State {
	return c.breaker.State()
}

// Close closes the client connection.
func (c *FlightClient) Close() error {
	return c.conn.Close()
}

// IsUnavailable reports whether err means the remote was not called.
func IsUnavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
