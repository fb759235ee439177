package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/discretlib/discret-go/rowmodel"
	"github.com/discretlib/discret-go/schema"
)

// RowsSince returns entity's rows in roomID authored by author with
// mdate strictly greater than sinceMDate, in (mdate, id) order — the
// set a sync round's advertise step streams for one author.
func (s *Store) RowsSince(ctx context.Context, entity *schema.EntityDecl, roomID, author string, sinceMDate int64) ([]*rowmodel.Row, error) {
	authorBytes, err := hex.DecodeString(author)
	if err != nil {
		return nil, fmt.Errorf("decode author key: %w", err)
	}
	table := TableName(entity.Name)
	sqlText := fmt.Sprintf(
		"SELECT * FROM %s WHERE room_id = %s AND author = %s AND mdate > %s ORDER BY mdate ASC, id ASC",
		table, s.Dialect.Placeholder(1), s.Dialect.Placeholder(2), s.Dialect.Placeholder(3),
	)
	return s.QueryRows(ctx, entity, sqlText, []interface{}{roomID, authorBytes, sinceMDate})
}

// RowByID fetches one row by id within roomID, or nil if absent: used
// when a sync sender streams full signed rows.
func (s *Store) RowByID(ctx context.Context, entity *schema.EntityDecl, roomID, id string) (*rowmodel.Row, error) {
	table := TableName(entity.Name)
	sqlText := fmt.Sprintf("SELECT * FROM %s WHERE room_id = %s AND id = %s",
		table, s.Dialect.Placeholder(1), s.Dialect.Placeholder(2))
	rows, err := s.QueryRows(ctx, entity, sqlText, []interface{}{roomID, id})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// RowByIDTx is RowByID run against an already-open write transaction,
// used by the sync commit step to decide the last-writer-wins outcome
// against whatever is currently stored, inside the same transaction
// that then applies the write.
func (s *Store) RowByIDTx(ctx context.Context, tx *sql.Tx, entity *schema.EntityDecl, roomID, id string) (*rowmodel.Row, error) {
	table := TableName(entity.Name)
	sqlText := fmt.Sprintf("SELECT * FROM %s WHERE room_id = %s AND id = %s",
		table, s.Dialect.Placeholder(1), s.Dialect.Placeholder(2))
	rows, err := tx.QueryContext(ctx, sqlText, roomID, id)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, rows.Err()
	}
	scanned := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range scanned {
		ptrs[i] = &scanned[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return scanRow(entity, cols, scanned)
}

// ListAuthors returns the distinct author keys (hex-encoded) that have
// written at least one entity row in roomID — the known authors a
// cursor-exchange step advertises a cursor for.
func (s *Store) ListAuthors(ctx context.Context, entity *schema.EntityDecl, roomID string) ([]string, error) {
	table := TableName(entity.Name)
	sqlText := fmt.Sprintf("SELECT DISTINCT author FROM %s WHERE room_id = %s", table, s.Dialect.Placeholder(1))
	rows, err := s.DB.QueryContext(ctx, sqlText, roomID)
	if err != nil {
		return nil, fmt.Errorf("list authors for %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		out = append(out, hex.EncodeToString(b))
	}
	return out, rows.Err()
}

// PeerCursor is the last (mdate, id) this node has observed from one
// author in one Room, as tracked per remote peer, so the next round
// resumes from the new cursor without replay.
type PeerCursor struct {
	Author string
	MDate  int64
	RowID  string
}

// SavePeerCursor persists peerKey's advertised high-water mark for
// author in roomID, replacing any prior value.
func (s *Store) SavePeerCursor(ctx context.Context, peerKey, roomID, author string, mdate int64, rowID string) error {
	del := fmt.Sprintf("DELETE FROM discret_peer_cursors WHERE peer_key = %s AND room_id = %s AND author = %s",
		s.Dialect.Placeholder(1), s.Dialect.Placeholder(2), s.Dialect.Placeholder(3))
	if _, err := s.DB.ExecContext(ctx, del, peerKey, roomID, author); err != nil {
		return fmt.Errorf("clear peer cursor: %w", err)
	}
	ins := fmt.Sprintf("INSERT INTO discret_peer_cursors (peer_key, room_id, author, mdate, row_id) VALUES (%s, %s, %s, %s, %s)",
		s.Dialect.Placeholder(1), s.Dialect.Placeholder(2), s.Dialect.Placeholder(3), s.Dialect.Placeholder(4), s.Dialect.Placeholder(5))
	_, err := s.DB.ExecContext(ctx, ins, peerKey, roomID, author, mdate, rowID)
	return err
}

// LoadPeerCursors returns every author cursor recorded for peerKey in
// roomID.
func (s *Store) LoadPeerCursors(ctx context.Context, peerKey, roomID string) ([]PeerCursor, error) {
	sqlText := fmt.Sprintf("SELECT author, mdate, row_id FROM discret_peer_cursors WHERE peer_key = %s AND room_id = %s",
		s.Dialect.Placeholder(1), s.Dialect.Placeholder(2))
	rows, err := s.DB.QueryContext(ctx, sqlText, peerKey, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PeerCursor
	for rows.Next() {
		var c PeerCursor
		if err := rows.Scan(&c.Author, &c.MDate, &c.RowID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
