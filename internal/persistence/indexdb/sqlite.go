package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelscene.dev/internal/sim/world"
)

// SQLiteIndex is a queryable read model of ticks and scene batches. Writes
// are queued and applied by one writer goroutine so the world loop never
// waits on disk; the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick  atomic.Uint64
	dropBatch atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqBatch
)

type req struct {
	kind reqKind

	tick  world.TickLogEntry
	batch world.BatchRecord
}

type Stats struct {
	QueueDepth     int    `json:"queue_depth"`
	QueueCapacity  int    `json:"queue_capacity"`
	DropTickTotal  uint64 `json:"drop_tick_total"`
	DropBatchTotal uint64 `json:"drop_batch_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			joins INTEGER NOT NULL,
			leaves INTEGER NOT NULL,
			inputs INTEGER NOT NULL,
			batches INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			client_id INTEGER NOT NULL,
			batch_id INTEGER NOT NULL,
			atomic INTEGER NOT NULL,
			ops INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			revision INTEGER NOT NULL,
			ops_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_batches_client_tick ON batches(client_id, tick);`,
		`CREATE TABLE IF NOT EXISTS op_results (
			batch_row INTEGER NOT NULL REFERENCES batches(id),
			idx INTEGER NOT NULL,
			target_id INTEGER NOT NULL,
			created_id INTEGER NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT NOT NULL,
			message TEXT NOT NULL,
			PRIMARY KEY (batch_row, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_op_results_target ON op_results(target_id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting writes, drains the queue and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropTickTotal:  s.dropTick.Load(),
		DropBatchTotal: s.dropBatch.Load(),
	}
}

func (s *SQLiteIndex) WriteTick(entry world.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		// Drop if the indexer falls behind; JSONL logs remain the source of truth.
		s.dropTick.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordBatch(rec world.BatchRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqBatch, batch: rec}:
	default:
		s.dropBatch.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,joins,leaves,inputs,batches) VALUES(?,?,?,?,?,?)`)
	insertBatch, _ := s.db.Prepare(`INSERT INTO batches(tick,client_id,batch_id,atomic,ops,failed,revision,ops_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertResult, _ := s.db.Prepare(`INSERT OR REPLACE INTO op_results(batch_row,idx,target_id,created_id,ok,code,message) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertBatch, insertResult} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			if insertTick == nil {
				continue
			}
			t := r.tick
			if _, err := tx.Stmt(insertTick).Exec(int64(t.Tick), t.Digest, len(t.Joins), len(t.Leaves), len(t.Inputs), len(t.Batches)); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqBatch:
			if insertBatch == nil || insertResult == nil {
				continue
			}
			b := r.batch
			failed := 0
			for _, res := range b.Results {
				if !res.OK {
					failed++
				}
			}
			opsJSON, _ := json.Marshal(b.Ops)
			res, err := tx.Stmt(insertBatch).Exec(int64(b.Tick), int64(b.ClientID), int64(b.BatchID), b.Atomic, len(b.Ops), failed, int64(b.Revision), string(opsJSON))
			if err != nil {
				rollback()
				continue
			}
			row, err := res.LastInsertId()
			if err != nil {
				rollback()
				continue
			}
			opCount++
			for i, r := range b.Results {
				if _, err := tx.Stmt(insertResult).Exec(row, i, int64(r.TargetID), int64(r.CreatedID), r.OK, r.Code, r.Message); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
