// Package recommend implements a federated neural collaborative
// filtering recommender. Each peer trains a local model on its own
// (user, file) interaction history; only weights and embeddings ever
// cross the wire during aggregation, never raw interaction data.
package recommend

import (
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/dafs-project/dafs/internal/dafserr"
)

const (
	embeddingSize = 32
	hiddenSize    = 16
	outputSize    = 1

	learningRate = 0.01
	weightDecay  = 0.01

	seedEmbeddingValue = 0.1
)

// Model is a two-tower NCF recommender: a user embedding and a file
// embedding are concatenated into a 64-dim vector, passed through one
// ReLU dense layer of width 16, then a linear output of width 1 producing
// an implicit-feedback score. All state is guarded by mu so train,
// aggregate, and score/recommend calls can run from concurrent callers.
type Model struct {
	mu sync.RWMutex

	userEmbeddings map[string][]float64
	fileEmbeddings map[string][]float64

	w1 *mat.Dense // hiddenSize x 2*embeddingSize
	b1 []float64  // hiddenSize

	w2 *mat.Dense // outputSize x hiddenSize
	b2 []float64  // outputSize

	epoch uint32
}

// New creates a model with small random dense-layer weights and no
// embeddings. Embeddings are created lazily as users and files are seen.
func New() *Model {
	w1 := mat.NewDense(hiddenSize, embeddingSize*2, nil)
	randomizeSmall(w1)
	w2 := mat.NewDense(outputSize, hiddenSize, nil)
	randomizeSmall(w2)

	return &Model{
		userEmbeddings: make(map[string][]float64),
		fileEmbeddings: make(map[string][]float64),
		w1:             w1,
		b1:             make([]float64, hiddenSize),
		w2:             w2,
		b2:             make([]float64, outputSize),
	}
}

func randomizeSmall(d *mat.Dense) {
	r, c := d.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			d.Set(i, j, (rand.Float64()*2-1)*0.1)
		}
	}
}

func zeroVector() []float64 { return make([]float64, embeddingSize) }

func seedVector() []float64 {
	v := make([]float64, embeddingSize)
	for i := range v {
		v[i] = seedEmbeddingValue
	}
	return v
}

// Epoch returns the number of completed training rounds.
func (m *Model) Epoch() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// forward computes the model's score for a concatenated user/file
// embedding pair without mutating any state. Returns NumericalInstability
// if the output or any hidden-layer activation is NaN or infinite.
func (m *Model) forward(userEmb, fileEmb []float64) (out float64, h1 []float64, err error) {
	input := make([]float64, 0, embeddingSize*2)
	input = append(input, userEmb...)
	input = append(input, fileEmb...)
	inVec := mat.NewVecDense(len(input), input)

	var h1Raw mat.VecDense
	h1Raw.MulVec(m.w1, inVec)

	h1 = make([]float64, hiddenSize)
	for i := 0; i < hiddenSize; i++ {
		v := h1Raw.AtVec(i) + m.b1[i]
		if v < 0 {
			v = 0
		}
		h1[i] = v
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, nil, dafserr.New(dafserr.NumericalInstability, "recommend", "forward")
		}
	}

	h1Vec := mat.NewVecDense(hiddenSize, h1)
	var outRaw mat.VecDense
	outRaw.MulVec(m.w2, h1Vec)
	out = outRaw.AtVec(0) + m.b2[0]
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, nil, dafserr.New(dafserr.NumericalInstability, "recommend", "forward")
	}

	return out, h1, nil
}

// Score returns the forward-pass score for a user/file pair without
// mutating the model. Users or files never seen before fall back to a
// zero embedding (not the training seed vector, which is reserved for
// embeddings that will actually be trained).
func (m *Model) Score(userID, fileID string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ue := m.userEmbeddings[userID]
	if ue == nil {
		ue = zeroVector()
	}
	fe := m.fileEmbeddings[fileID]
	if fe == nil {
		fe = zeroVector()
	}
	out, _, err := m.forward(ue, fe)
	return out, err
}
