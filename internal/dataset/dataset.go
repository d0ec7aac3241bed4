// Package dataset defines the per-individual record shared by the
// simulation backends and the renderer, and its std430 byte encoding.
package dataset

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
)

// IndividualSize is the std430 encoded size of one [Individual].
const IndividualSize = 136

// Encoded field offsets. Every vec3 is followed by 4 bytes of padding.
const (
	offPosition     = 0x00 // vec2
	offVelocity     = 0x08 // vec2
	offRedBias      = 0x10 // vec3 + pad
	offGreenBias    = 0x20 // vec3 + pad
	offBlueBias     = 0x30 // vec3 + pad
	offRedWeight    = 0x40 // vec3 + pad
	offGreenWeight  = 0x50 // vec3 + pad
	offBlueWeight   = 0x60 // vec3 + pad
	offDepositBias  = 0x70 // vec3 + pad
	offMovementBias = 0x80 // vec2
)

// Individual is one simulated creature.
type Individual struct {
	// Position on the simulation plane.
	Position [2]float32
	// Velocity is the direction of the last move.
	Velocity [2]float32

	// Bias vectors per chemical. The first two components apply to the
	// gradient direction, the third to the intensity.
	RedBias   [3]float32
	GreenBias [3]float32
	BlueBias  [3]float32

	// Weight vectors per chemical, same component meaning as the biases.
	RedWeight   [3]float32
	GreenWeight [3]float32
	BlueWeight  [3]float32

	// DepositBias is the pheromone the individual leaves behind.
	DepositBias [3]float32
	// MovementBias is added to every move.
	MovementBias [2]float32
}

// Pheromone is a chemical composition. Each channel is in [0, 1].
type Pheromone struct {
	Red   float64
	Green float64
	Blue  float64
}

// Group holds what is needed to build the population of one group.
type Group struct {
	// Individuals alive at start.
	Individuals uint32
	// Budget is the number of individuals allocated; >= Individuals.
	Budget uint32
	// InitToRandom fills genes with random values instead of zeros.
	InitToRandom bool
	// Signature seeds every individual's deposit bias.
	Signature Pheromone
}

// Put encodes ind into dst.
//
// Panics if dst is shorter than [IndividualSize].
func Put(dst []byte, ind *Individual) {
	_ = dst[IndividualSize-1]

	putVec(dst[offPosition:], ind.Position[:])
	putVec(dst[offVelocity:], ind.Velocity[:])
	putVec3(dst[offRedBias:], ind.RedBias)
	putVec3(dst[offGreenBias:], ind.GreenBias)
	putVec3(dst[offBlueBias:], ind.BlueBias)
	putVec3(dst[offRedWeight:], ind.RedWeight)
	putVec3(dst[offGreenWeight:], ind.GreenWeight)
	putVec3(dst[offBlueWeight:], ind.BlueWeight)
	putVec3(dst[offDepositBias:], ind.DepositBias)
	putVec(dst[offMovementBias:], ind.MovementBias[:])
}

// Get decodes one individual from src.
func Get(src []byte) (Individual, error) {
	if len(src) < IndividualSize {
		return Individual{}, fmt.Errorf("individual needs %d bytes, got %d", IndividualSize, len(src))
	}

	var ind Individual

	getVec(src[offPosition:], ind.Position[:])
	getVec(src[offVelocity:], ind.Velocity[:])
	getVec(src[offRedBias:], ind.RedBias[:])
	getVec(src[offGreenBias:], ind.GreenBias[:])
	getVec(src[offBlueBias:], ind.BlueBias[:])
	getVec(src[offRedWeight:], ind.RedWeight[:])
	getVec(src[offGreenWeight:], ind.GreenWeight[:])
	getVec(src[offBlueWeight:], ind.BlueWeight[:])
	getVec(src[offDepositBias:], ind.DepositBias[:])
	getVec(src[offMovementBias:], ind.MovementBias[:])

	return ind, nil
}

// Position reads only the position of the i-th individual in buf.
func Position(buf []byte, i int) (x, y float32) {
	off := i*IndividualSize + offPosition

	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off:])),
		math.Float32frombits(binary.LittleEndian.Uint32(buf[off+4:]))
}

func putVec(dst []byte, v []float32) {
	for i, f := range v {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
}

func putVec3(dst []byte, v [3]float32) {
	putVec(dst, v[:])
	binary.LittleEndian.PutUint32(dst[12:], 0)
}

func getVec(src []byte, v []float32) {
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

// Population builds Budget individuals for g. rng may be nil when
// InitToRandom is false.
func Population(g Group, rng *rand.Rand) []Individual {
	pop := make([]Individual, g.Budget)

	deposit := [3]float32{
		float32(clamp01(g.Signature.Red)),
		float32(clamp01(g.Signature.Green)),
		float32(clamp01(g.Signature.Blue)),
	}

	for i := range pop {
		ind := &pop[i]
		ind.DepositBias = deposit

		if !g.InitToRandom {
			continue
		}

		ind.Position = rand2(rng)
		ind.Velocity = rand2(rng)
		ind.RedBias = rand3(rng)
		ind.GreenBias = rand3(rng)
		ind.BlueBias = rand3(rng)
		ind.RedWeight = rand3(rng)
		ind.GreenWeight = rand3(rng)
		ind.BlueWeight = rand3(rng)

		angle := rng.Float64() * 2 * math.Pi
		ind.MovementBias = [2]float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
	}

	return pop
}

// PopulationBytes encodes [Population] into a buffer of
// Budget * [IndividualSize] bytes.
func PopulationBytes(g Group, rng *rand.Rand) []byte {
	return Encode(nil, Population(g, rng))
}

// Encode writes pop into buf, reusing its capacity, and returns the
// resized buffer.
func Encode(buf []byte, pop []Individual) []byte {
	n := len(pop) * IndividualSize
	if cap(buf) < n {
		buf = make([]byte, n)
	}

	buf = buf[:n]

	for i := range pop {
		Put(buf[i*IndividualSize:], &pop[i])
	}

	return buf
}

func rand2(rng *rand.Rand) [2]float32 {
	return [2]float32{rng.Float32(), rng.Float32()}
}

func rand3(rng *rand.Rand) [3]float32 {
	return [3]float32{rng.Float32(), rng.Float32(), rng.Float32()}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
