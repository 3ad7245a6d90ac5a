package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trades-signal/internal/store"
)

// Service 负责持久化审计事件与消费端去重记录。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化审计服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := store.Migrate("journal", journalSchema...); err != nil {
		return nil, err
	}

	return s, nil
}

var journalSchema = []string{
	`CREATE TABLE IF NOT EXISTS journal_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_journal_events_type ON journal_events(event_type)`,
	`CREATE TABLE IF NOT EXISTS processed_intents (
	intent_id TEXT PRIMARY KEY,
	entry TEXT NOT NULL,
	processed_at TEXT NOT NULL
)`,
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("journal: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO journal_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入事件失败: %w", err)
	}

	return nil
}

// Emit 写入事件，失败只记录日志。审计失败不影响主流程。
func (s *Service) Emit(ctx context.Context, typ EventType, payload interface{}) {
	if s == nil {
		return
	}
	if err := s.Record(ctx, Event{Type: typ, Timestamp: time.Now().UTC(), Payload: payload}); err != nil {
		s.logger.Warn("记录审计事件失败", zap.String("type", string(typ)), zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	if s == nil || err == nil {
		return
	}
	s.Emit(ctx, EventError, ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	})
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM journal_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("journal: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 读取事件失败: %w", err)
	}

	return events, nil
}

// MarkProcessed 登记 intent_id，首次登记返回 true；重复返回 false，调用方据此去重。
func (s *Service) MarkProcessed(ctx context.Context, intentID, entry string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_intents (intent_id, entry, processed_at) VALUES (?, ?, ?)`,
		intentID, entry, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("journal: 登记意图失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("journal: 读取登记结果失败: %w", err)
	}
	return n == 1, nil
}

// IsProcessed 查询 intent_id 是否已处理。
func (s *Service) IsProcessed(ctx context.Context, intentID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM processed_intents WHERE intent_id = ?`, intentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("journal: 查询意图失败: %w", err)
	}
	return n > 0, nil
}
