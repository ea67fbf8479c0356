package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/natefinch/atomic"
)

// ExportPendingChanges writes the journal as indented JSON to path. The file
// is replaced atomically so a reader never sees a partial dump.
func (s *Store) ExportPendingChanges(ctx context.Context, path string) (int, error) {
	changes, err := s.GetPendingChanges(ctx)
	if err != nil {
		return 0, err
	}

	data, err := json.MarshalIndent(changes, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to encode journal: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return 0, fmt.Errorf("failed to write journal export: %w", err)
	}
	return len(changes), nil
}
