package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/klauspost/compress/zstd"

	"spendchain/internal/core/id"
	"spendchain/internal/domain/audit"
)

const auditTable = "audit_logs"

// CompressionAlgo names how audit values are stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the payload size above which values are compressed.
const DefaultCompressThreshold = 10 * 1024

type auditRow struct {
	ID               id.ID           `db:"id"`
	EntityType       string          `db:"entity_type"`
	EntityID         id.ID           `db:"entity_id"`
	Action           audit.Action    `db:"action"`
	Actor            string          `db:"actor"`
	Exercice         int             `db:"exercice"`
	OldValues        json.RawMessage `db:"old_values"`
	NewValues        json.RawMessage `db:"new_values"`
	ValuesCompressed []byte          `db:"values_compressed"`
	CompressionAlgo  CompressionAlgo `db:"compression_algo"`
	CreatedAt        time.Time       `db:"created_at"`
}

type compressedValues struct {
	Old json.RawMessage `json:"old,omitempty"`
	New json.RawMessage `json:"new,omitempty"`
}

// AuditStore implements audit.Store on audit_logs. Large value pairs are
// zstd-compressed into values_compressed.
type AuditStore struct {
	txm               *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

// NewAuditStore creates the audit store.
func NewAuditStore(txm *TxManager, compressThreshold int) (*AuditStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if compressThreshold <= 0 {
		compressThreshold = DefaultCompressThreshold
	}
	return &AuditStore{
		txm:               txm,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: compressThreshold,
	}, nil
}

var _ audit.Store = (*AuditStore)(nil)

// Append inserts one entry. There is no update or delete path.
func (s *AuditStore) Append(ctx context.Context, e audit.Entry) error {
	row, err := s.encode(e)
	if err != nil {
		return err
	}
	sql, args, err := builder().Insert(auditTable).SetMap(StructToMap(row)).ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.txm.Querier(ctx).Exec(ctx, sql, args...); err != nil {
		return mapError(err, "audit_log", "insert")
	}
	return nil
}

func (s *AuditStore) encode(e audit.Entry) (auditRow, error) {
	row := auditRow{
		ID:              e.ID,
		EntityType:      e.EntityType,
		EntityID:        e.EntityID,
		Action:          e.Action,
		Actor:           e.Actor,
		Exercice:        e.Exercice,
		OldValues:       e.OldValues,
		NewValues:       e.NewValues,
		CompressionAlgo: CompressionNone,
		CreatedAt:       e.CreatedAt,
	}
	if len(e.OldValues)+len(e.NewValues) <= s.compressThreshold {
		return row, nil
	}
	raw, err := json.Marshal(compressedValues{Old: e.OldValues, New: e.NewValues})
	if err != nil {
		return auditRow{}, fmt.Errorf("marshal audit values: %w", err)
	}
	row.ValuesCompressed = s.encoder.EncodeAll(raw, nil)
	row.OldValues, row.NewValues = nil, nil
	row.CompressionAlgo = CompressionZstd
	return row, nil
}

// History returns entries of an entity, newest first, decompressing as needed.
func (s *AuditStore) History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]audit.Entry, error) {
	sql, args, err := builder().
		Select(Columns[auditRow]()...).
		From(auditTable).
		Where(squirrel.Eq{"entity_type": entityType, "entity_id": entityID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.txm.Querier(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var r auditRow
		if err := rows.Scan(
			&r.ID, &r.EntityType, &r.EntityID, &r.Action, &r.Actor, &r.Exercice,
			&r.OldValues, &r.NewValues, &r.ValuesCompressed, &r.CompressionAlgo, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry, err := s.decode(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *AuditStore) decode(r auditRow) (audit.Entry, error) {
	e := audit.Entry{
		ID:         r.ID,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Action:     r.Action,
		Actor:      r.Actor,
		Exercice:   r.Exercice,
		OldValues:  r.OldValues,
		NewValues:  r.NewValues,
		CreatedAt:  r.CreatedAt,
	}
	if r.CompressionAlgo != CompressionZstd || len(r.ValuesCompressed) == 0 {
		return e, nil
	}
	raw, err := s.decoder.DecodeAll(r.ValuesCompressed, nil)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("decompress audit values: %w", err)
	}
	var v compressedValues
	if err := json.Unmarshal(raw, &v); err != nil {
		return audit.Entry{}, fmt.Errorf("unmarshal audit values: %w", err)
	}
	e.OldValues, e.NewValues = v.Old, v.New
	return e, nil
}
