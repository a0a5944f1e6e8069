package indexdb

import (
	"context"
)

type BatchRow struct {
	Tick     uint64 `json:"tick"`
	ClientID uint32 `json:"client_id"`
	BatchID  uint64 `json:"batch_id"`
	Atomic   bool   `json:"atomic"`
	Ops      int    `json:"ops"`
	Failed   int    `json:"failed"`
	Revision uint64 `json:"revision"`
}

type ResultRow struct {
	BatchID   uint64 `json:"batch_id"`
	Index     int    `json:"index"`
	TargetID  uint64 `json:"target_id"`
	CreatedID uint64 `json:"created_id,omitempty"`
	OK        bool   `json:"ok"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// BatchesByClient returns the newest batches of one client, newest first.
// Writes still queued in the writer goroutine are not visible.
func (s *SQLiteIndex) BatchesByClient(ctx context.Context, clientID uint32, limit int) ([]BatchRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, client_id, batch_id, atomic, ops, failed, revision FROM batches
		 WHERE client_id = ? ORDER BY id DESC LIMIT ?`, int64(clientID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BatchRow
	for rows.Next() {
		var (
			r                               BatchRow
			tick, client, batchID, revision int64
		)
		if err := rows.Scan(&tick, &client, &batchID, &r.Atomic, &r.Ops, &r.Failed, &revision); err != nil {
			return nil, err
		}
		r.Tick, r.ClientID, r.BatchID, r.Revision = uint64(tick), uint32(client), uint64(batchID), uint64(revision)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResultsForNode returns every recorded result that targeted nodeID, oldest
// first.
func (s *SQLiteIndex) ResultsForNode(ctx context.Context, nodeID uint64) ([]ResultRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.batch_id, r.idx, r.target_id, r.created_id, r.ok, r.code, r.message
		 FROM op_results r JOIN batches b ON b.id = r.batch_row
		 WHERE r.target_id = ? ORDER BY r.batch_row, r.idx`, int64(nodeID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var (
			r                          ResultRow
			batchID, target, createdID int64
		)
		if err := rows.Scan(&batchID, &r.Index, &target, &createdID, &r.OK, &r.Code, &r.Message); err != nil {
			return nil, err
		}
		r.BatchID, r.TargetID, r.CreatedID = uint64(batchID), uint64(target), uint64(createdID)
		out = append(out, r)
	}
	return out, rows.Err()
}
