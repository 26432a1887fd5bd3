package field

import (
	"fmt"
	"math"
	"math/rand"
)

// MLP is a dense feed-forward network with ReLU hidden activations and a
// linear output layer. depth counts hidden layers; depth 0 is a single
// linear map. Forward is safe for concurrent use; parameters are read-only
// during evaluation and only mutated through SetFlat between steps.
type MLP struct {
	inDim  int
	width  int
	depth  int
	outDim int

	// weights[l] is row-major (outputs x inputs) for layer l.
	weights [][]float64
	biases  [][]float64
}

func NewMLP(inDim, width, depth, outDim int, rng *rand.Rand) (*MLP, error) {
	if inDim <= 0 || outDim <= 0 || depth < 0 {
		return nil, fmt.Errorf("invalid mlp shape in=%d width=%d depth=%d out=%d", inDim, width, depth, outDim)
	}
	if depth > 0 && width <= 0 {
		return nil, fmt.Errorf("hidden width must be > 0, got %d", width)
	}

	m := &MLP{inDim: inDim, width: width, depth: depth, outDim: outDim}
	prev := inDim
	for l := 0; l <= depth; l++ {
		next := width
		if l == depth {
			next = outDim
		}
		// He initialization for the ReLU trunk.
		scale := math.Sqrt(2.0 / float64(prev))
		w := make([]float64, next*prev)
		for i := range w {
			w[i] = rng.NormFloat64() * scale
		}
		m.weights = append(m.weights, w)
		m.biases = append(m.biases, make([]float64, next))
		prev = next
	}
	return m, nil
}

func (m *MLP) InDim() int  { return m.inDim }
func (m *MLP) OutDim() int { return m.outDim }

// Forward evaluates the network, appending the output to dst.
func (m *MLP) Forward(dst []float64, in []float64) []float64 {
	if len(in) != m.inDim {
		panic(fmt.Sprintf("mlp: input width %d, want %d", len(in), m.inDim))
	}

	cur := in
	var buf []float64
	for l := 0; l <= m.depth; l++ {
		w := m.weights[l]
		b := m.biases[l]
		next := make([]float64, len(b))
		for i := range next {
			sum := b[i]
			row := w[i*len(cur) : (i+1)*len(cur)]
			for j, x := range cur {
				sum += row[j] * x
			}
			if l < m.depth {
				// ReLU on hidden layers only.
				if sum < 0 {
					sum = 0
				}
			}
			next[i] = sum
		}
		buf = next
		cur = buf
	}
	return append(dst, cur...)
}

// ParamCount returns the total number of trainable scalars.
func (m *MLP) ParamCount() int {
	n := 0
	for l := range m.weights {
		n += len(m.weights[l]) + len(m.biases[l])
	}
	return n
}

// Flatten appends all parameters to dst in a stable order.
func (m *MLP) Flatten(dst []float64) []float64 {
	for l := range m.weights {
		dst = append(dst, m.weights[l]...)
		dst = append(dst, m.biases[l]...)
	}
	return dst
}

// SetFlat restores parameters from the prefix of src and returns how many
// values were consumed.
func (m *MLP) SetFlat(src []float64) (int, error) {
	offset := 0
	for l := range m.weights {
		need := len(m.weights[l]) + len(m.biases[l])
		if len(src)-offset < need {
			return 0, fmt.Errorf("mlp: parameter vector too short: have %d, need %d more", len(src), need)
		}
		copy(m.weights[l], src[offset:])
		offset += len(m.weights[l])
		copy(m.biases[l], src[offset:])
		offset += len(m.biases[l])
	}
	return offset, nil
}
