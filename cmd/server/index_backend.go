package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"voxelscene.dev/internal/persistence/indexdb"
	"voxelscene.dev/internal/sim/world"
)

type runtimeIndex interface {
	world.TickLogger
	world.BatchSink
	Close() error
	Stats() indexdb.Stats
	BatchesByClient(ctx context.Context, clientID uint32, limit int) ([]indexdb.BatchRow, error)
	ResultsForNode(ctx context.Context, nodeID uint64) ([]indexdb.ResultRow, error)
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VS_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "scene.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported VS_INDEX_BACKEND: %s", backend)
	}
}

type multiTickLogger []world.TickLogger

func (m multiTickLogger) WriteTick(entry world.TickLogEntry) error {
	for _, l := range m {
		if l != nil {
			_ = l.WriteTick(entry)
		}
	}
	return nil
}

type multiBatchSink []world.BatchSink

func (m multiBatchSink) RecordBatch(rec world.BatchRecord) error {
	for _, s := range m {
		if s != nil {
			_ = s.RecordBatch(rec)
		}
	}
	return nil
}
