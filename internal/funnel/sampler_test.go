package funnel

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/nvandessel/funnelsim/internal/models"
)

// seqRand replays a fixed sequence of uniform values and records how many
// were consumed.
type seqRand struct {
	vals []float64
	used int
}

func (r *seqRand) Float64() float64 {
	v := r.vals[r.used]
	r.used++
	return v
}

type constRand float64

func (r constRand) Float64() float64 { return float64(r) }

func TestSampler_AllHitWithZeroDraws(t *testing.T) {
	s := NewSampler(DefaultExponents())
	it := models.Item{Stage1Score: 1, Stage2Score: 1, Stage3Score: 1}

	out, err := s.Sample(it, 1, false, constRand(0))
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !out.Stage1 || !out.Stage2 || !out.Stage3 {
		t.Errorf("Outcome = %+v, want all stages hit", out)
	}
	if out.Draws != 3 {
		t.Errorf("Draws = %d, want 3", out.Draws)
	}
	if out.Counts() != (models.StageCounts{Stage1: 1, Stage2: 1, Stage3: 1}) {
		t.Errorf("Counts() = %+v", out.Counts())
	}
}

func TestSampler_DrawOrder(t *testing.T) {
	s := NewSampler(DefaultExponents())
	it := models.Item{Stage1Score: 0.5, Stage2Score: 0.5, Stage3Score: 0.5}

	tests := []struct {
		name      string
		vals      []float64
		want      [3]bool
		wantDraws int
	}{
		{"stage1 miss consumes one draw", []float64{0.7}, [3]bool{false, false, false}, 1},
		{"stage2 miss consumes two draws", []float64{0.1, 0.9}, [3]bool{true, false, false}, 2},
		{"stage3 miss consumes three draws", []float64{0.1, 0.2, 0.5}, [3]bool{true, true, false}, 3},
		{"all hit", []float64{0.1, 0.2, 0.3}, [3]bool{true, true, true}, 3},
		{"boundary value misses", []float64{0.5}, [3]bool{false, false, false}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := &seqRand{vals: tt.vals}
			out, err := s.Sample(it, 1, false, rng)
			if err != nil {
				t.Fatalf("Sample: %v", err)
			}
			got := [3]bool{out.Stage1, out.Stage2, out.Stage3}
			if got != tt.want {
				t.Errorf("hits = %v, want %v", got, tt.want)
			}
			if out.Draws != tt.wantDraws || rng.used != tt.wantDraws {
				t.Errorf("Draws = %d, consumed = %d, want %d", out.Draws, rng.used, tt.wantDraws)
			}
		})
	}
}

func TestSampler_Implication(t *testing.T) {
	s := NewSampler(DefaultExponents())
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 10000; i++ {
		it := models.Item{
			Stage1Score: rng.Float64(),
			Stage2Score: rng.Float64(),
			Stage3Score: rng.Float64(),
		}
		out, err := s.Sample(it, rng.Float64()*2, i%2 == 0, rng)
		if err != nil {
			t.Fatalf("Sample: %v", err)
		}
		if out.Stage2 && !out.Stage1 {
			t.Fatalf("stage2 hit without stage1: %+v", out)
		}
		if out.Stage3 && !out.Stage2 {
			t.Fatalf("stage3 hit without stage2: %+v", out)
		}
	}
}

func TestSampler_Probabilities(t *testing.T) {
	it := models.Item{Stage1Score: 0.2, Stage2Score: 0.4, Stage3Score: 0.8}

	t.Run("decay disabled uses raw scores", func(t *testing.T) {
		p := NewSampler(DefaultExponents()).Probabilities(it, 1.7, false)
		if p != [3]float64{0.2, 0.4, 0.8} {
			t.Errorf("Probabilities = %v", p)
		}
	})

	t.Run("decay scales by cube root", func(t *testing.T) {
		p := NewSampler(DefaultExponents()).Probabilities(it, 0.125, true)
		want := [3]float64{0.1, 0.2, 0.4}
		for i := range p {
			if math.Abs(p[i]-want[i]) > 1e-12 {
				t.Errorf("p[%d] = %v, want %v", i, p[i], want[i])
			}
		}
	})

	t.Run("exponents are independent per stage", func(t *testing.T) {
		s := NewSampler(Exponents{Stage1: 1, Stage2: 0, Stage3: 2})
		p := s.Probabilities(it, 0.5, true)
		want := [3]float64{0.1, 0.4, 0.2}
		for i := range p {
			if math.Abs(p[i]-want[i]) > 1e-12 {
				t.Errorf("p[%d] = %v, want %v", i, p[i], want[i])
			}
		}
	})
}

func TestSampler_NoClamp(t *testing.T) {
	s := NewSampler(DefaultExponents())
	it := models.Item{Stage1Score: 0.9, Stage2Score: 0.95, Stage3Score: 0.5}

	p := s.Probabilities(it, 2, true)
	if p[0] <= 1 || p[1] <= 1 {
		t.Fatalf("expected amplified probabilities above 1, got %v", p)
	}

	out, err := s.Sample(it, 2, true, &seqRand{vals: []float64{0.999, 0.999, 0.999}})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if !out.Stage1 || !out.Stage2 || out.Stage3 {
		t.Errorf("Outcome = %+v, want stage1 and stage2 only", out)
	}
	if out.Saturated != 2 {
		t.Errorf("Saturated = %d, want 2", out.Saturated)
	}
}

func TestSampler_NonFinite(t *testing.T) {
	s := NewSampler(DefaultExponents())

	tests := []struct {
		name string
		it   models.Item
	}{
		{"nan score", models.Item{Stage1Score: math.NaN(), Stage2Score: 0.1, Stage3Score: 0.1}},
		{"inf score", models.Item{Stage1Score: 0.1, Stage2Score: 0.1, Stage3Score: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := &seqRand{}
			_, err := s.Sample(tt.it, 1, false, rng)
			if !errors.Is(err, ErrNonFiniteProbability) {
				t.Errorf("err = %v, want ErrNonFiniteProbability", err)
			}
			if rng.used != 0 {
				t.Errorf("consumed %d draws before rejecting", rng.used)
			}
		})
	}
}
