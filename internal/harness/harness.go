// Package harness runs property checks against a manifold.Manifold using
// samples supplied by the caller.
package harness

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/23skdu/longbow-stiefel/internal/linalg"
	"github.com/23skdu/longbow-stiefel/internal/manifold"
)

// Property names reported in a Result. TangentClosure is only checked on
// manifolds whose IdentityB is true.
const (
	ProjectMembership = "project/membership"
	ProjectIdempotent = "project/idempotent"
	TangentClosure    = "tangent/closure"
	TangentLinearity  = "tangent/linearity"
	MetricSymmetry    = "metric/symmetry"
	MetricPositivity  = "metric/positivity"
	retractPrefix     = "retract/"
)

// Samples are the inputs the checks are driven by. Points are arbitrary
// ambient n×k matrices and are projected first; Vectors and Directions are
// ambient matrices paired with Points by index, cycling when shorter. All
// samples must be over the manifold's field.
type Samples struct {
	Points     []*linalg.Matrix
	Vectors    []*linalg.Matrix
	Directions []*linalg.Matrix
	// Alpha and Beta are the coefficients of the linearity check.
	Alpha, Beta float64
	// Step scales the tangent vector before retraction. Zero means 1.
	Step float64
}

// Result is the outcome of one property on one sample.
type Result struct {
	Property string  `cbor:"property"`
	Sample   int     `cbor:"sample"`
	Passed   bool    `cbor:"passed"`
	Residual float64 `cbor:"residual,omitempty"`
	Detail   string  `cbor:"detail,omitempty"`
}

// Report collects every Result of a run.
type Report struct {
	Manifold string   `cbor:"manifold"`
	Results  []Result `cbor:"results"`
}

// OK reports whether every result passed.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if !res.Passed {
			return false
		}
	}
	return true
}

func (r *Report) Failures() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.Passed {
			out = append(out, res)
		}
	}
	return out
}

// Summary counts results per property as passed/total.
func (r *Report) Summary() map[string][2]int {
	out := make(map[string][2]int)
	for _, res := range r.Results {
		c := out[res.Property]
		c[1]++
		if res.Passed {
			c[0]++
		}
		out[res.Property] = c
	}
	return out
}

// Run checks every property on every point sample. Samples are processed in
// parallel, at most limit at a time (limit <= 0 means unbounded). Results
// are ordered by sample and then by property.
func Run(ctx context.Context, m manifold.Manifold, s Samples, tol manifold.Tolerance, limit int) (*Report, error) {
	if len(s.Points) == 0 {
		return nil, fmt.Errorf("harness: no point samples")
	}
	if len(s.Vectors) == 0 || len(s.Directions) == 0 {
		return nil, fmt.Errorf("harness: vector and direction samples are required")
	}

	perSample := make([][]Result, len(s.Points))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range s.Points {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := checker{m: m, tol: tol, s: s, i: i}
			perSample[i] = c.run()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Manifold: fmt.Sprint(m)}
	for _, rs := range perSample {
		report.Results = append(report.Results, rs...)
	}
	log.Debug().
		Str("manifold", report.Manifold).
		Int("samples", len(s.Points)).
		Int("failures", len(report.Failures())).
		Msg("Harness run complete")
	return report, nil
}

type checker struct {
	m   manifold.Manifold
	tol manifold.Tolerance
	s   Samples
	i   int
	out []Result
}

func (c *checker) record(property string, passed bool, residual float64, detail string) {
	c.out = append(c.out, Result{Property: property, Sample: c.i, Passed: passed, Residual: residual, Detail: detail})
}

func (c *checker) fail(property string, err error) {
	c.record(property, false, math.NaN(), err.Error())
}

func (c *checker) pick(list []*linalg.Matrix) *linalg.Matrix {
	return list[c.i%len(list)]
}

func (c *checker) run() []Result {
	x, err := c.m.Project(c.s.Points[c.i])
	if err != nil {
		c.fail(ProjectMembership, err)
		return c.out
	}
	c.verdict(ProjectMembership, c.m.CheckPoint(x, c.tol))

	again, err := c.m.Project(x)
	if err != nil {
		c.fail(ProjectIdempotent, err)
	} else {
		c.compare(ProjectIdempotent, x, again)
	}

	v, w := c.pick(c.s.Vectors), c.pick(c.s.Directions)
	pv, err := c.m.ProjectTangent(x, v)
	if err != nil {
		c.fail(TangentClosure, err)
		return c.out
	}
	// The unweighted tangent projection is B-tangent only for B = I.
	if c.m.IdentityB() {
		c.verdict(TangentClosure, c.m.CheckVector(x, pv, c.tol))
	}
	c.linearity(x, v, w, pv)
	c.metric(x, v, w)
	c.retractions(x, pv)
	return c.out
}

// verdict records err as the result of property, keeping the distance of a
// constraint violation as the residual.
func (c *checker) verdict(property string, err error) {
	if err == nil {
		c.record(property, true, 0, "")
		return
	}
	residual := math.NaN()
	var ce *manifold.ConstraintError
	if errors.As(err, &ce) {
		residual = ce.Distance
	}
	c.record(property, false, residual, err.Error())
}

func (c *checker) compare(property string, want, got *linalg.Matrix) {
	diff := got.Clone()
	diff.Sub(want)
	residual := diff.FrobeniusNorm()
	c.record(property, c.tol.Equal(want, got), residual, "")
}

func (c *checker) linearity(x, v, w, pv *linalg.Matrix) {
	pw, err := c.m.ProjectTangent(x, w)
	if err != nil {
		c.fail(TangentLinearity, err)
		return
	}
	a, b := c.s.Alpha, c.s.Beta
	if a == 0 && b == 0 {
		a, b = 1, 1
	}
	comb := scaledSum(v, a, w, b)
	lhs, err := c.m.ProjectTangent(x, comb)
	if err != nil {
		c.fail(TangentLinearity, err)
		return
	}
	c.compare(TangentLinearity, scaledSum(pv, a, pw, b), lhs)
}

func (c *checker) metric(x, v, w *linalg.Matrix) {
	vw, wv := c.m.Inner(x, v, w), c.m.Inner(x, w, v)
	vv, ww := c.m.Inner(x, v, v), c.m.Inner(x, w, w)
	scale := math.Sqrt(math.Max(0, vv) * math.Max(0, ww))
	c.record(MetricSymmetry, c.tol.Within(math.Abs(vw-wv), scale, scale), math.Abs(vw-wv), "")

	positive := vv > 0 || v.FrobeniusNorm() == 0
	detail := ""
	if !positive {
		detail = fmt.Sprintf("Inner(v, v) = %g", vv)
	}
	c.record(MetricPositivity, positive, vv, detail)
}

func (c *checker) retractions(x, pv *linalg.Matrix) {
	step := pv
	if c.s.Step != 0 {
		step = pv.Clone()
		step.Scale(c.s.Step)
	}
	for _, method := range c.m.RetractionMethods() {
		name := retractPrefix + method.String()
		y, err := c.m.Retract(x, step, method)
		if err != nil {
			c.fail(name, err)
			continue
		}
		c.verdict(name, c.m.CheckPoint(y, c.tol))
	}
}

func scaledSum(a *linalg.Matrix, alpha float64, b *linalg.Matrix, beta float64) *linalg.Matrix {
	out := a.Clone()
	out.Scale(alpha)
	out.AddScaled(b, beta)
	return out
}
