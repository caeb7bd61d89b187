package recommend

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"

	"github.com/dafs-project/dafs/internal/dafserr"
)

// wireModel is the serialized shape of a Model: the single binary blob
// format for on-disk persistence and federated exchange.
type wireModel struct {
	UserEmbeddings map[string][]float64 `msgpack:"user_embeddings"`
	FileEmbeddings map[string][]float64 `msgpack:"file_embeddings"`
	W1             [][]float64          `msgpack:"w1"`
	W2             [][]float64          `msgpack:"w2"`
	B1             []float64            `msgpack:"b1"`
	B2             []float64            `msgpack:"b2"`
	Epoch          uint32               `msgpack:"epoch"`
}

func (m *Model) toWireLocked() wireModel {
	return wireModel{
		UserEmbeddings: cloneEmbeddings(m.userEmbeddings),
		FileEmbeddings: cloneEmbeddings(m.fileEmbeddings),
		W1:             denseToRows(m.w1),
		W2:             denseToRows(m.w2),
		B1:             append([]float64(nil), m.b1...),
		B2:             append([]float64(nil), m.b2...),
		Epoch:          m.epoch,
	}
}

func denseToRows(d *mat.Dense) [][]float64 {
	r, c := d.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		row := make([]float64, c)
		for j := 0; j < c; j++ {
			row[j] = d.At(i, j)
		}
		rows[i] = row
	}
	return rows
}

func denseFromRows(rows [][]float64, wantRows, wantCols int) (*mat.Dense, error) {
	if len(rows) != wantRows {
		return nil, fmt.Errorf("expected %d rows, got %d", wantRows, len(rows))
	}
	flat := make([]float64, 0, wantRows*wantCols)
	for _, row := range rows {
		if len(row) != wantCols {
			return nil, fmt.Errorf("expected %d columns, got %d", wantCols, len(row))
		}
		flat = append(flat, row...)
	}
	return mat.NewDense(wantRows, wantCols, flat), nil
}

// Export serializes the model to a single binary blob.
func (m *Model) Export() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := msgpack.Marshal(m.toWireLocked())
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "recommend", "Export", err)
	}
	return data, nil
}

// Import replaces the model's entire state with a previously exported
// blob. Used both to restore persisted state and, by VerifyAndAggregate,
// to decode an incoming peer's model before merging it.
func (m *Model) Import(data []byte) error {
	var w wireModel
	if err := msgpack.Unmarshal(data, &w); err != nil {
		return dafserr.Wrap(dafserr.Internal, "recommend", "Import", err)
	}
	w1, err := denseFromRows(w.W1, hiddenSize, embeddingSize*2)
	if err != nil {
		return dafserr.Wrap(dafserr.ModelValidation, "recommend", "Import", err)
	}
	w2, err := denseFromRows(w.W2, outputSize, hiddenSize)
	if err != nil {
		return dafserr.Wrap(dafserr.ModelValidation, "recommend", "Import", err)
	}

	if w.UserEmbeddings == nil {
		w.UserEmbeddings = make(map[string][]float64)
	}
	if w.FileEmbeddings == nil {
		w.FileEmbeddings = make(map[string][]float64)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.userEmbeddings = w.UserEmbeddings
	m.fileEmbeddings = w.FileEmbeddings
	m.w1 = w1
	m.w2 = w2
	m.b1 = w.B1
	m.b2 = w.B2
	m.epoch = w.Epoch
	return nil
}

// Aggregate merges another model into this one via federated averaging:
// matching user and file embeddings are averaged component-wise, as are
// the dense-layer weights and biases; embeddings present on only one side
// are adopted unchanged; epoch becomes the max of the two. Shape
// mismatches in the dense layers fail with ModelValidation and leave this
// model untouched.
func (m *Model) Aggregate(other *Model) error {
	other.mu.RLock()
	otherWire := other.toWireLocked()
	other.mu.RUnlock()
	return m.aggregateWire(otherWire)
}

func (m *Model) aggregateWire(other wireModel) error {
	if len(other.W1) != hiddenSize {
		return dafserr.New(dafserr.ModelValidation, "recommend", "Aggregate")
	}
	for _, row := range other.W1 {
		if len(row) != embeddingSize*2 {
			return dafserr.New(dafserr.ModelValidation, "recommend", "Aggregate")
		}
	}
	if len(other.W2) != outputSize {
		return dafserr.New(dafserr.ModelValidation, "recommend", "Aggregate")
	}
	for _, row := range other.W2 {
		if len(row) != hiddenSize {
			return dafserr.New(dafserr.ModelValidation, "recommend", "Aggregate")
		}
	}
	if len(other.B1) != hiddenSize || len(other.B2) != outputSize {
		return dafserr.New(dafserr.ModelValidation, "recommend", "Aggregate")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for user, factors := range other.UserEmbeddings {
		existing, ok := m.userEmbeddings[user]
		if !ok {
			m.userEmbeddings[user] = append([]float64(nil), factors...)
			continue
		}
		for i := range existing {
			existing[i] = (existing[i] + factors[i]) / 2
		}
	}
	for file, factors := range other.FileEmbeddings {
		existing, ok := m.fileEmbeddings[file]
		if !ok {
			m.fileEmbeddings[file] = append([]float64(nil), factors...)
			continue
		}
		for i := range existing {
			existing[i] = (existing[i] + factors[i]) / 2
		}
	}

	for i := 0; i < hiddenSize; i++ {
		for j := 0; j < embeddingSize*2; j++ {
			m.w1.Set(i, j, (m.w1.At(i, j)+other.W1[i][j])/2)
		}
		m.b1[i] = (m.b1[i] + other.B1[i]) / 2
	}
	for j := 0; j < hiddenSize; j++ {
		m.w2.Set(0, j, (m.w2.At(0, j)+other.W2[0][j])/2)
	}
	m.b2[0] = (m.b2[0] + other.B2[0]) / 2

	if other.Epoch > m.epoch {
		m.epoch = other.Epoch
	}
	return nil
}
