package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ====== Tunables ======
const (
	// dayPeriod: la lettura oscilla con ciclo giornaliero.
	dayPeriod = 24 * time.Hour

	defaultMultiplier = 1.0
)

// DataGenerator produce letture con andamento giornaliero più rumore.
// La calibrazione (offset, moltiplicatore) viene applicata al valore grezzo.
type DataGenerator struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	base       float64
	amplitude  float64
	noise      float64
	offset     float64
	multiplier float64
	start      time.Time
	now        func() time.Time
}

// NewDataGenerator crea un generatore centrato su base, con ampiezza e rumore dati.
func NewDataGenerator(base, amplitude, noise float64, seed int64) *DataGenerator {
	g := &DataGenerator{
		rnd:        rand.New(rand.NewSource(seed)),
		base:       base,
		amplitude:  math.Abs(amplitude),
		noise:      math.Abs(noise),
		multiplier: defaultMultiplier,
		now:        time.Now,
	}
	g.start = g.now()
	return g
}

// Next ritorna la lettura calibrata, arrotondata a due decimali.
func (g *DataGenerator) Next() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := g.now().Sub(g.start)
	phase := 2 * math.Pi * float64(elapsed%dayPeriod) / float64(dayPeriod)
	raw := g.base + g.amplitude*math.Sin(phase)
	if g.noise > 0 {
		raw += g.rnd.NormFloat64() * g.noise
	}
	return round2(raw*g.multiplier + g.offset)
}

// Calibrate imposta offset e moltiplicatore. Un moltiplicatore nullo o negativo viene ignorato.
func (g *DataGenerator) Calibrate(offset, multiplier float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offset = offset
	if multiplier > 0 {
		g.multiplier = multiplier
	}
}

func (g *DataGenerator) Calibration() (offset, multiplier float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.offset, g.multiplier
}

// Reset azzera calibrazione e fase.
func (g *DataGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.offset = 0
	g.multiplier = defaultMultiplier
	g.start = g.now()
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
