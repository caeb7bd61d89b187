package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/kv"
	"github.com/dafs-project/dafs/internal/security"
	"github.com/dafs-project/dafs/pkg/crypto"
)

const (
	bruteForceMaxAttempts = 5
	bruteForceLockout     = 15 * time.Minute

	// identityCacheSize bounds how many identities Get/PublicKeyFor keep
	// warm in memory. Share calls PublicKeyFor for every recipient, so a
	// node re-sharing files with the same handful of peers shouldn't have
	// to round-trip Badger on every call.
	identityCacheSize = 512
)

// Registry persists User identities and their wrapped seeds in the node's
// key-value store, keyed by user ID, with a secondary username index for
// lookup during login. A bounded LRU keeps recently touched identities in
// memory so repeated Get/PublicKeyFor calls — the common case when sharing
// files with the same peers — skip the store.
type Registry struct {
	store      *kv.Store
	logger     zerolog.Logger
	validator  *security.Validator
	loginGuard *security.BruteForceProtector
	cache      *lru.Cache[string, *WrappedIdentity]
}

// NewRegistry creates an identity registry over store.
func NewRegistry(store *kv.Store, logger zerolog.Logger) *Registry {
	cache, _ := lru.New[string, *WrappedIdentity](identityCacheSize)
	return &Registry{
		store:      store,
		logger:     logger.With().Str("component", "identity_registry").Logger(),
		validator:  security.NewValidator(),
		loginGuard: security.NewBruteForceProtector(bruteForceMaxAttempts, bruteForceLockout),
		cache:      cache,
	}
}

var usernameIndexNS = []byte{0xFF} // sub-prefix of NamespaceIdentity reserved for username -> user_id

// Register creates a new identity: generates a fresh identity seed wrapped
// under password, derives the corresponding X25519 public key, and
// persists the record. Returns the unwrapped seed so the caller can
// immediately open a session without a second round trip through
// Authenticate.
func (r *Registry) Register(ctx context.Context, username, displayName, password string) (*WrappedIdentity, [crypto.KeySize]byte, error) {
	if err := r.validator.ValidateUsername(username); err != nil {
		return nil, [crypto.KeySize]byte{}, dafserr.Wrap(dafserr.BadRequest, "identity", "Register", err)
	}

	if _, err := r.lookupUserID(ctx, username); err == nil {
		return nil, [crypto.KeySize]byte{}, dafserr.New(dafserr.Conflict, "identity", "Register")
	}

	seed, wrapped, err := crypto.WrapSeed(password)
	if err != nil {
		return nil, [crypto.KeySize]byte{}, dafserr.Wrap(dafserr.Internal, "identity", "Register", err)
	}

	kp, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return nil, [crypto.KeySize]byte{}, dafserr.Wrap(dafserr.Internal, "identity", "Register", err)
	}

	now := time.Now().Unix()
	user := User{
		UserID:      uuid.NewString(),
		Username:    username,
		DisplayName: displayName,
		CreatedAt:   now,
		LastSeen:    now,
		PublicKey:   kp.PublicKey,
		IsActive:    true,
	}

	record := &WrappedIdentity{User: user, WrappedSeed: *wrapped}
	if err := r.put(ctx, record); err != nil {
		return nil, [crypto.KeySize]byte{}, err
	}
	if err := r.store.Put(ctx, kv.NamespaceIdentity, usernameKey(username), []byte(user.UserID)); err != nil {
		return nil, [crypto.KeySize]byte{}, dafserr.Wrap(dafserr.Storage, "identity", "Register", err)
	}

	r.logger.Info().Str("user_id", user.UserID).Str("username", username).Msg("identity registered")
	return record, seed, nil
}

// Authenticate looks up username, unwraps its seed under password, and
// returns the identity plus its recovered private key material. Returns
// dafserr.ErrUnauthenticated on a wrong password or unknown user.
func (r *Registry) Authenticate(ctx context.Context, username, password string) (*WrappedIdentity, [crypto.KeySize]byte, error) {
	if allowed, _, err := r.loginGuard.IsAllowed(username); !allowed {
		return nil, [crypto.KeySize]byte{}, dafserr.Wrap(dafserr.Unauthenticated, "identity", "Authenticate", err)
	}

	record, err := r.getByUsername(ctx, username)
	if err != nil {
		r.loginGuard.RecordFailure(username)
		return nil, [crypto.KeySize]byte{}, dafserr.New(dafserr.Unauthenticated, "identity", "Authenticate")
	}

	seed, err := crypto.UnwrapSeed(password, &record.WrappedSeed)
	if err != nil {
		r.loginGuard.RecordFailure(username)
		return nil, [crypto.KeySize]byte{}, dafserr.New(dafserr.Unauthenticated, "identity", "Authenticate")
	}
	r.loginGuard.RecordSuccess(username)

	record.User = touchLastSeen(record.User, time.Now())
	if err := r.put(ctx, record); err != nil {
		return nil, [crypto.KeySize]byte{}, err
	}

	return record, seed, nil
}

// RegisterDevice adds or updates a device entry for userID, marking it the
// current device and every other device on this identity as not current.
func (r *Registry) RegisterDevice(ctx context.Context, userID string, device Device) error {
	record, err := r.Get(ctx, userID)
	if err != nil {
		return err
	}

	device.LastLogin = time.Now().Unix()
	device.IsCurrent = true

	updated := make([]Device, 0, len(record.User.Devices)+1)
	found := false
	for _, d := range record.User.Devices {
		d.IsCurrent = false
		if d.DeviceID == device.DeviceID {
			d = device
			found = true
		}
		updated = append(updated, d)
	}
	if !found {
		updated = append(updated, device)
	}
	record.User.Devices = updated

	return r.put(ctx, record)
}

// Get retrieves an identity by user ID.
func (r *Registry) Get(ctx context.Context, userID string) (*WrappedIdentity, error) {
	if cached, ok := r.cache.Get(userID); ok {
		return cached, nil
	}

	raw, err := r.store.Get(ctx, kv.NamespaceIdentity, []byte(userID))
	if err != nil {
		if dafserr.KindOf(err) == dafserr.NotFound {
			return nil, dafserr.New(dafserr.NotFound, "identity", "Get")
		}
		return nil, err
	}

	var record WrappedIdentity
	if err := msgpack.Unmarshal(raw, &record); err != nil {
		return nil, dafserr.Wrap(dafserr.Internal, "identity", "Get", err)
	}
	r.cache.Add(userID, &record)
	return &record, nil
}

// PublicKeyFor returns userID's X25519 public key, for callers (such as the
// file service wrapping a key for a new recipient) that need it without the
// rest of the identity record.
func (r *Registry) PublicKeyFor(ctx context.Context, userID string) ([crypto.KeySize]byte, error) {
	record, err := r.Get(ctx, userID)
	if err != nil {
		return [crypto.KeySize]byte{}, err
	}
	return record.User.PublicKey, nil
}

// List returns every registered identity's public record.
func (r *Registry) List(ctx context.Context) ([]User, error) {
	entries, err := r.store.List(ctx, kv.NamespaceIdentity)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "identity", "List", err)
	}

	users := make([]User, 0, len(entries))
	for _, e := range entries {
		if len(e.Key) > 0 && e.Key[0] == usernameIndexNS[0] {
			continue // username index entry, not a user record
		}
		var record WrappedIdentity
		if err := msgpack.Unmarshal(e.Value, &record); err != nil {
			continue
		}
		users = append(users, record.User)
	}
	return users, nil
}

func (r *Registry) put(ctx context.Context, record *WrappedIdentity) error {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return dafserr.Wrap(dafserr.Internal, "identity", "put", err)
	}
	if err := r.store.Put(ctx, kv.NamespaceIdentity, []byte(record.User.UserID), data); err != nil {
		return dafserr.Wrap(dafserr.Storage, "identity", "put", err)
	}
	r.cache.Add(record.User.UserID, record)
	return nil
}

func (r *Registry) lookupUserID(ctx context.Context, username string) (string, error) {
	raw, err := r.store.Get(ctx, kv.NamespaceIdentity, usernameKey(username))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *Registry) getByUsername(ctx context.Context, username string) (*WrappedIdentity, error) {
	userID, err := r.lookupUserID(ctx, username)
	if err != nil {
		return nil, dafserr.New(dafserr.NotFound, "identity", "getByUsername")
	}
	return r.Get(ctx, userID)
}

func usernameKey(username string) []byte {
	return append(append([]byte{}, usernameIndexNS...), []byte(username)...)
}
</content>
