package recommend

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/kv"
	"github.com/dafs-project/dafs/pkg/crypto"
	"github.com/dafs-project/dafs/pkg/protocol"
)

var modelStoreKey = []byte("local")

// Service is the recommender singleton for a peer: one persisted Model,
// trained and aggregated through a bounded worker pool so heavy numeric
// work never blocks the P2P host's I/O goroutines.
type Service struct {
	store    *kv.Store
	pool     *WorkerPool
	verifier *Verifier
	logger   zerolog.Logger

	model *Model
}

// NewService loads a previously persisted model from store, or creates a
// fresh one if none exists yet.
func NewService(ctx context.Context, store *kv.Store, logger zerolog.Logger) (*Service, error) {
	logger = logger.With().Str("component", "recommend_service").Logger()

	model := New()
	data, err := store.Get(ctx, kv.NamespaceModel, modelStoreKey)
	switch {
	case err == nil:
		if err := model.Import(data); err != nil {
			return nil, err
		}
	case dafserr.KindOf(err) == dafserr.NotFound:
		// No trained model yet; start from the fresh random init.
	default:
		return nil, err
	}

	return &Service{
		store:    store,
		pool:     NewWorkerPool(),
		verifier: NewVerifier(),
		logger:   logger,
		model:    model,
	}, nil
}

// Stop shuts down the service's worker pool.
func (s *Service) Stop() {
	s.pool.Stop()
}

// Verifier exposes the peer signing-key registry so callers (the P2P
// wiring layer) can populate it as sessions are established.
func (s *Service) Verifier() *Verifier {
	return s.verifier
}

func (s *Service) persist(ctx context.Context) error {
	data, err := s.model.Export()
	if err != nil {
		return err
	}
	return s.store.Put(ctx, kv.NamespaceModel, modelStoreKey, data)
}

// Train runs a training batch on the worker pool and persists the
// updated model on success. The model is left untouched on failure.
func (s *Service) Train(ctx context.Context, interactions []Interaction) error {
	var trainErr error
	s.pool.Submit(func() {
		trainErr = s.model.Train(interactions)
	})
	if trainErr != nil {
		return trainErr
	}

	if err := s.persist(ctx); err != nil {
		s.logger.Error().Err(err).Msg("persist model after training")
		return err
	}
	s.logger.Debug().Uint32("epoch", s.model.Epoch()).Msg("trained local model")
	return nil
}

// Recommend runs a scoring pass on the worker pool and returns the top-k
// candidate IDs.
func (s *Service) Recommend(userID string, candidates []string, k int) []string {
	var out []string
	s.pool.Submit(func() {
		out = s.model.Recommend(userID, candidates, k)
	})
	return out
}

// BuildUpdate exports and signs the local model for sharing with peers.
func (s *Service) BuildUpdate(fromID string, signer *crypto.SigningKeyPair) (protocol.ModelUpdate, error) {
	return s.model.BuildUpdate(fromID, signer)
}

// ApplyUpdate verifies and merges an incoming peer's model update, then
// persists the aggregated result.
func (s *Service) ApplyUpdate(ctx context.Context, update protocol.ModelUpdate) error {
	var aggErr error
	s.pool.Submit(func() {
		aggErr = s.model.VerifyAndAggregate(update, s.verifier)
	})
	if aggErr != nil {
		return aggErr
	}

	if err := s.persist(ctx); err != nil {
		s.logger.Error().Err(err).Msg("persist model after aggregation")
		return err
	}
	s.logger.Info().Str("from_id", update.FromID).Uint32("epoch", s.model.Epoch()).Msg("aggregated federated model update")
	return nil
}
