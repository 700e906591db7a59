//go:build ignore

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-stiefel/internal/client"
	"github.com/23skdu/longbow-stiefel/internal/codec"
	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Stiefel Flight Server")

	c, err := client.NewFlightClient(addr, client.Config{MaxFailures: 20, Timeout: time.Second})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	mw := codec.ManifoldWire{N: 16, K: 4, Field: "complex"}
	m, err := mw.Build()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid manifold")
	}

	rng := rand.New(rand.NewPCG(1, 2))
	points := make([]*linalg.Matrix, 32)
	for i := range points {
		data := make([]float64, mw.N*mw.K*2)
		for j := range data {
			data[j] = rng.NormFloat64()
		}
		points[i] = linalg.NewMatrix(m.Field(), mw.N, mw.K, data)
	}

	// The server may still be starting.
	var out []*linalg.Matrix
	start := time.Now()
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		out, err = c.Project(ctx, mw, points)
		cancel()
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Project failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Project failed")
	}
	log.Info().Dur("elapsed", time.Since(start)).Int("count", len(out)).Msg("Received projections")

	for i, p := range out {
		if err := m.CheckPoint(p, manifold.DefaultTolerance); err != nil {
			log.Fatal().Int("index", i).Err(err).Msg("Result is not on the manifold")
		}
	}

	fmt.Println("VERIFICATION PASSED")
}
