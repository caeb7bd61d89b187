package main

import (
	"context"
	"crypto/ed25519"

	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/files"
	"github.com/dafs-project/dafs/internal/p2p"
	"github.com/dafs-project/dafs/internal/recommend"
	"github.com/dafs-project/dafs/pkg/crypto"
	"github.com/dafs-project/dafs/pkg/protocol"
)

// fileExchangeHandler answers file-exchange protocol requests. peerID
// doubles as the requester's DAFS user ID: a dafs node runs on behalf of
// exactly one identity, so its libp2p peer ID and user ID correspond 1:1
// with every other node it talks to. selfPrivateKey is this node's own
// identity private key, needed to unwrap the owner's envelope when serving
// a FileChunkRequest for a file this node owns.
func fileExchangeHandler(svc *files.Service, recommendSvc *recommend.Service, selfID string, selfPrivateKey [crypto.KeySize]byte, logger zerolog.Logger) p2p.StreamHandler {
	return func(peerID string, env *protocol.Envelope) (*protocol.Envelope, error) {
		ctx := context.Background()

		switch env.Type {
		case protocol.TypeFileListRequest:
			owned, err := svc.ListOwned(ctx, peerID)
			if err != nil {
				return nil, err
			}
			wire := protocol.FileListResponse{Files: make([]protocol.FileMetadataWire, 0, len(owned))}
			for _, m := range owned {
				wire.Files = append(wire.Files, protocol.FileMetadataWire{
					FileID:    m.FileID,
					OwnerID:   m.OwnerID,
					Filename:  m.Filename,
					SizeBytes: m.SizeBytes,
					Hash:      m.Hash,
					CreatedAt: m.CreatedAt,
				})
			}
			payload, err := protocol.Encode(protocol.TypeFileListResponse, wire)
			if err != nil {
				return nil, err
			}
			return &protocol.Envelope{Type: protocol.TypeFileListResponse, Payload: payload[protocol.HeaderSize:]}, nil

		case protocol.TypeFileKeyExchange:
			var wire protocol.FileKeyExchange
			if err := env.DecodePayload(&wire); err != nil {
				return nil, dafserr.Wrap(dafserr.BadRequest, "dafsnode", "fileExchangeHandler", err)
			}
			envelope, err := crypto.DecodeFileKeyEnvelope(wire.EncryptedKey)
			if err != nil {
				return nil, dafserr.Wrap(dafserr.BadRequest, "dafsnode", "fileExchangeHandler", err)
			}
			if wire.To != selfID {
				logger.Warn().Str("file_id", wire.FileID).Str("to", wire.To).Str("self", selfID).Msg("file key exchange addressed to a different user")
				return nil, dafserr.New(dafserr.AccessDenied, "dafsnode", "fileExchangeHandler")
			}
			if err := svc.ReceiveKeyExchange(ctx, wire.FileID, wire.From, wire.To, *envelope); err != nil {
				return nil, err
			}
			logger.Info().Str("file_id", wire.FileID).Str("from", wire.From).Str("to", wire.To).Msg("received file key exchange")
			return nil, nil

		case protocol.TypeModelUpdate:
			var update protocol.ModelUpdate
			if err := env.DecodePayload(&update); err != nil {
				return nil, dafserr.Wrap(dafserr.BadRequest, "dafsnode", "fileExchangeHandler", err)
			}
			if err := recommendSvc.ApplyUpdate(ctx, update); err != nil {
				logger.Debug().Err(err).Str("from_id", update.FromID).Msg("rejected federated model update")
				return nil, err
			}
			return nil, nil

		case protocol.TypeFileChunkRequest:
			var req protocol.FileChunkRequest
			if err := env.DecodePayload(&req); err != nil {
				return nil, dafserr.Wrap(dafserr.BadRequest, "dafsnode", "fileExchangeHandler", err)
			}
			chunks, err := svc.ChunkForTransfer(ctx, peerID, req.FileID, selfPrivateKey)
			if err != nil {
				logger.Debug().Err(err).Str("peer_id", peerID).Str("file_id", req.FileID).Msg("chunk request declined")
				return nil, err
			}
			if req.ChunkIndex < 0 || req.ChunkIndex >= len(chunks) {
				return nil, dafserr.New(dafserr.NotFound, "dafsnode", "fileExchangeHandler")
			}
			chunk := chunks[req.ChunkIndex]
			resp := protocol.FileChunkResponse{FileID: req.FileID, ChunkIndex: chunk.Index, Data: chunk.Data}
			payload, err := protocol.Encode(protocol.TypeFileChunkResponse, resp)
			if err != nil {
				return nil, err
			}
			return &protocol.Envelope{Type: protocol.TypeFileChunkResponse, Payload: payload[protocol.HeaderSize:]}, nil

		default:
			return nil, dafserr.New(dafserr.BadRequest, "dafsnode", "fileExchangeHandler")
		}
	}
}

// peerDiscoveryHandler answers peer-discovery protocol requests: it folds
// announced addresses into the tracker and persisted bootstrap store,
// registers the announcer's recommender signing key so its future
// ModelUpdate messages can be authenticated, and answers pings so callers
// can measure reachability and RTT.
func peerDiscoveryHandler(tracker *p2p.Tracker, bootstrap *p2p.BootstrapStore, verifier *recommend.Verifier, selfID string, logger zerolog.Logger) p2p.StreamHandler {
	return func(peerID string, env *protocol.Envelope) (*protocol.Envelope, error) {
		ctx := context.Background()

		switch env.Type {
		case protocol.TypePeerDiscovery:
			var wire protocol.PeerDiscovery
			if err := env.DecodePayload(&wire); err != nil {
				return nil, dafserr.Wrap(dafserr.BadRequest, "dafsnode", "peerDiscoveryHandler", err)
			}
			tracker.Discovered(wire.PeerID, wire.Addresses)
			if err := bootstrap.Remember(ctx, wire.PeerID, wire.Addresses); err != nil {
				logger.Debug().Err(err).Str("peer_id", wire.PeerID).Msg("failed to persist discovered peer")
			}
			if len(wire.SigningPublicKey) == ed25519.PublicKeySize {
				verifier.AddPeerKey(wire.PeerID, ed25519.PublicKey(wire.SigningPublicKey))
			}
			return nil, nil

		case protocol.TypePeerPing:
			var ping protocol.PeerPing
			if err := env.DecodePayload(&ping); err != nil {
				return nil, dafserr.Wrap(dafserr.BadRequest, "dafsnode", "peerDiscoveryHandler", err)
			}
			pong := protocol.PeerPong{Timestamp: ping.Timestamp, PeerID: selfID}
			payload, err := protocol.Encode(protocol.TypePeerPong, pong)
			if err != nil {
				return nil, err
			}
			return &protocol.Envelope{Type: protocol.TypePeerPong, Payload: payload[protocol.HeaderSize:]}, nil

		default:
			return nil, dafserr.New(dafserr.BadRequest, "dafsnode", "peerDiscoveryHandler")
		}
	}
}
