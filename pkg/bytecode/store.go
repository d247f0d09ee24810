// Package bytecode implements the local fetch-then-cache layer (C11) sitting
// in front of the object-store collaborator the runtime store depends on.
package bytecode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// httpTimeout matches pkg/serverless/hostfuncs.go's NewHostFunctions default
// timeout for outbound object-store fetches, and spec.md §5's "object-store
// fetches use a fixed 5 s timeout."
const httpTimeout = 5 * time.Second

// Store fetches Wasm bytecode by content ID, checking a local flat directory
// before falling back to an HTTP gateway, and persists fetches locally for
// next time. Grounded on pkg/ipfs/client.go's object-store client shape and
// pkg/serverless/registry.go's GetWASMBytes fetch-then-cache pattern.
type Store struct {
	directory string
	gateway   string
	client    *http.Client
	logger    *zap.Logger
}

// New constructs a Store rooted at directory, fetching misses from gateway
// (a base URL a CID is appended to, e.g. "https://ipfs.io/ipfs/").
func New(directory, gateway string, logger *zap.Logger) *Store {
	return &Store{
		directory: directory,
		gateway:   gateway,
		client:    &http.Client{Timeout: httpTimeout},
		logger:    logger,
	}
}

// Fetch returns cid's Wasm bytecode, checking the local flat directory first
// and falling back to a remote gateway fetch, persisting the result locally
// on a successful remote fetch.
func (s *Store) Fetch(ctx context.Context, cid string) ([]byte, error) {
	path := s.localPath(cid)

	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read local bytecode for %s: %w", cid, err)
	}

	data, err := s.fetchRemote(ctx, cid)
	if err != nil {
		return nil, err
	}

	if err := s.persistLocal(path, data); err != nil {
		s.logger.Warn("bytecode: failed to persist fetched module locally",
			zap.String("cid", cid), zap.Error(err))
	}

	return data, nil
}

func (s *Store) fetchRemote(ctx context.Context, cid string) ([]byte, error) {
	url := s.gateway + cid
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build gateway request for %s: %w", cid, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s from gateway: %w", cid, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s for %s", resp.Status, cid)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read gateway response for %s: %w", cid, err)
	}
	return data, nil
}

func (s *Store) persistLocal(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *Store) localPath(cid string) string {
	return filepath.Join(s.directory, cid+".wasm")
}
