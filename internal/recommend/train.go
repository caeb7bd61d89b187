package recommend

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/dafs-project/dafs/internal/dafserr"
)

// Interaction is a single observed (user, file) implicit-feedback event.
type Interaction struct {
	UserID string
	FileID string
}

type modelSnapshot struct {
	userEmbeddings map[string][]float64
	fileEmbeddings map[string][]float64
	w1             *mat.Dense
	w2             *mat.Dense
	b1             []float64
	b2             []float64
	epoch          uint32
}

func cloneEmbeddings(src map[string][]float64) map[string][]float64 {
	dst := make(map[string][]float64, len(src))
	for k, v := range src {
		dst[k] = append([]float64(nil), v...)
	}
	return dst
}

func (m *Model) snapshotLocked() modelSnapshot {
	return modelSnapshot{
		userEmbeddings: cloneEmbeddings(m.userEmbeddings),
		fileEmbeddings: cloneEmbeddings(m.fileEmbeddings),
		w1:             mat.DenseCopyOf(m.w1),
		w2:             mat.DenseCopyOf(m.w2),
		b1:             append([]float64(nil), m.b1...),
		b2:             append([]float64(nil), m.b2...),
		epoch:          m.epoch,
	}
}

func (m *Model) restoreLocked(s modelSnapshot) {
	m.userEmbeddings = s.userEmbeddings
	m.fileEmbeddings = s.fileEmbeddings
	m.w1 = s.w1
	m.w2 = s.w2
	m.b1 = s.b1
	m.b2 = s.b2
	m.epoch = s.epoch
}

// Train performs one pass of squared-error gradient descent over a batch
// of implicit-feedback interactions, each with target score 1.0. Missing
// user or file embeddings are created lazily with a constant seed vector.
// On any non-finite intermediate the whole batch is rolled back: the
// model is snapshotted before the first pair is applied and restored to
// that snapshot on failure, so a failed Train call never leaves the model
// partially updated.
func (m *Model) Train(interactions []Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()

	for _, in := range interactions {
		if err := m.trainPairLocked(in.UserID, in.FileID); err != nil {
			m.restoreLocked(snapshot)
			return err
		}
	}
	m.epoch++
	return nil
}

func (m *Model) trainPairLocked(userID, fileID string) error {
	ue, ok := m.userEmbeddings[userID]
	if !ok {
		ue = seedVector()
		m.userEmbeddings[userID] = ue
	}
	fe, ok := m.fileEmbeddings[fileID]
	if !ok {
		fe = seedVector()
		m.fileEmbeddings[fileID] = fe
	}

	// Snapshot both embeddings before computing any gradient. Updating ue
	// in place and then reading it while updating fe (or vice versa)
	// would make the second update see the first update's result within
	// the same step; both updates must see the pre-step values.
	uePrev := append([]float64(nil), ue...)
	fePrev := append([]float64(nil), fe...)

	out, h1, err := m.forward(uePrev, fePrev)
	if err != nil {
		return err
	}

	const target = 1.0
	errTerm := target - out

	gradOut := errTerm
	gradW2 := make([]float64, hiddenSize)
	for j := 0; j < hiddenSize; j++ {
		gradW2[j] = h1[j] * gradOut
	}

	gradH1 := make([]float64, hiddenSize)
	for j := 0; j < hiddenSize; j++ {
		relu := 0.0
		if h1[j] > 0 {
			relu = 1.0
		}
		gradH1[j] = m.w2.At(0, j) * gradOut * relu
	}

	input := make([]float64, 0, embeddingSize*2)
	input = append(input, uePrev...)
	input = append(input, fePrev...)

	for i := 0; i < hiddenSize; i++ {
		for j := 0; j < embeddingSize*2; j++ {
			cur := m.w1.At(i, j)
			grad := input[j] * gradH1[i]
			m.w1.Set(i, j, cur+learningRate*grad-weightDecay*cur)
		}
		m.b1[i] += learningRate*gradH1[i] - weightDecay*m.b1[i]
	}
	for j := 0; j < hiddenSize; j++ {
		cur := m.w2.At(0, j)
		m.w2.Set(0, j, cur+learningRate*gradW2[j]-weightDecay*cur)
	}
	m.b2[0] += learningRate*gradOut - weightDecay*m.b2[0]

	for i := 0; i < embeddingSize; i++ {
		ue[i] = uePrev[i] + learningRate*errTerm*fePrev[i] - weightDecay*uePrev[i]
		fe[i] = fePrev[i] + learningRate*errTerm*uePrev[i] - weightDecay*fePrev[i]
	}

	if !m.finiteLocked() {
		return dafserr.New(dafserr.NumericalInstability, "recommend", "Train")
	}
	return nil
}

func (m *Model) finiteLocked() bool {
	r, c := m.w1.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !finite(m.w1.At(i, j)) {
				return false
			}
		}
	}
	r, c = m.w2.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !finite(m.w2.At(i, j)) {
				return false
			}
		}
	}
	for _, v := range m.b1 {
		if !finite(v) {
			return false
		}
	}
	for _, v := range m.b2 {
		if !finite(v) {
			return false
		}
	}
	return true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
