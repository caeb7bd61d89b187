package files

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dafs-project/dafs/internal/dafserr"
	"github.com/dafs-project/dafs/internal/store/sqlite"
)

// SearchIndex is a local, rebuildable full-text index over file metadata.
// It is never a source of truth — Repository's Badger-backed records are —
// so losing or deleting the index file only costs a reindex, the same way
// FTS5 content-less tables shadow an owning table rather than replace it.
type SearchIndex struct {
	db     *sqlite.DB
	logger zerolog.Logger
}

// NewSearchIndex opens (creating if absent) the FTS5 search database at
// cfg.Path.
func NewSearchIndex(cfg sqlite.Config, logger zerolog.Logger) (*SearchIndex, error) {
	db, err := sqlite.New(cfg, logger)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "files", "NewSearchIndex", err)
	}

	idx := &SearchIndex{db: db, logger: logger.With().Str("component", "file_search_index").Logger()}
	if err := idx.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *SearchIndex) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS files_fts USING fts5(
			file_id UNINDEXED,
			owner_id UNINDEXED,
			filename,
			mime_type UNINDEXED
		)`,
	}
	for _, stmt := range stmts {
		if _, err := idx.db.ExecContext(ctx, stmt); err != nil {
			return dafserr.Wrap(dafserr.Storage, "files", "ensureSchema", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (idx *SearchIndex) Close() error {
	return idx.db.Close()
}

// Index adds or refreshes a file's searchable metadata. Callers reindex by
// deleting then inserting rather than updating in place, since FTS5 cannot
// update indexed columns directly.
func (idx *SearchIndex) Index(ctx context.Context, m *FileMetadata) error {
	if err := idx.Remove(ctx, m.FileID); err != nil {
		return err
	}
	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO files_fts (file_id, owner_id, filename, mime_type) VALUES (?, ?, ?, ?)`,
		m.FileID, m.OwnerID, m.Filename, m.MimeType)
	if err != nil {
		return dafserr.Wrap(dafserr.Storage, "files", "Index", err)
	}
	return nil
}

// Remove deletes fileID's entry from the index, if present.
func (idx *SearchIndex) Remove(ctx context.Context, fileID string) error {
	_, err := idx.db.ExecContext(ctx, `DELETE FROM files_fts WHERE file_id = ?`, fileID)
	if err != nil {
		return dafserr.Wrap(dafserr.Storage, "files", "Remove", err)
	}
	return nil
}

// Search runs an FTS5 MATCH query over filenames, restricted to the file
// IDs in visibleFileIDs (the files the caller may see, owned or shared,
// passed in after an ACL check — the index itself has no notion of access
// control).
func (idx *SearchIndex) Search(ctx context.Context, visibleFileIDs []string, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	if len(visibleFileIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]byte, 0, len(visibleFileIDs)*2)
	args := make([]interface{}, 0, len(visibleFileIDs)+2)
	for i, id := range visibleFileIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id)
	}
	args = append(args, query, limit)

	sqlQuery := fmt.Sprintf(`
		SELECT file_id, owner_id, filename,
			snippet(files_fts, 2, '<mark>', '</mark>', '...', 8) as snippet
		FROM files_fts
		WHERE file_id IN (%s) AND files_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, string(placeholders))

	rows, err := idx.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "files", "Search", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.FileID, &r.OwnerID, &r.Filename, &r.Snippet); err != nil {
			return nil, dafserr.Wrap(dafserr.Storage, "files", "Search", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dafserr.Wrap(dafserr.Storage, "files", "Search", err)
	}

	idx.logger.Debug().Str("query", query).Int("results", len(results)).Msg("file search completed")
	return results, nil
}
</content>
