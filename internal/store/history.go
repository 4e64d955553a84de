package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trade-executor/internal/decision"
	"trade-executor/internal/execution"
)

// History 持久化执行报告，供复盘与外围系统查询。
type History struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistory 初始化执行历史服务，创建所需表结构。
func NewHistory(store *Store, logger *zap.Logger) (*History, error) {
	if store == nil {
		return nil, fmt.Errorf("store: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &History{
		db:     store.DB(),
		logger: logger,
	}

	if err := h.initSchema(); err != nil {
		return nil, err
	}

	return h, nil
}

func (h *History) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS execution_reports (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mode TEXT NOT NULL,
	total_orders INTEGER NOT NULL,
	total_errors INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS execution_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	report_id INTEGER NOT NULL REFERENCES execution_reports(id),
	ticker TEXT NOT NULL,
	action TEXT NOT NULL,
	executed INTEGER NOT NULL,
	order_id INTEGER,
	client_order_id TEXT,
	quantity TEXT,
	status TEXT,
	fills TEXT,
	reason TEXT,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_execution_results_report ON execution_results(report_id);
CREATE INDEX IF NOT EXISTS idx_execution_results_ticker ON execution_results(ticker);
`
	if _, err := h.db.Exec(stmt); err != nil {
		return fmt.Errorf("store: 初始化执行历史表失败: %w", err)
	}
	return nil
}

// SaveReport 将一次批次执行报告连同逐交易对结果写入数据库。
func (h *History) SaveReport(ctx context.Context, report *execution.Report) error {
	if report == nil {
		return fmt.Errorf("store: 报告不能为空")
	}

	createdAt := report.GeneratedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO execution_reports (mode, total_orders, total_errors, created_at) VALUES (?, ?, ?, ?)`,
		string(report.Mode), report.TotalOrders, report.TotalErrors, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: 写入执行报告失败: %w", err)
	}

	reportID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: 获取报告主键失败: %w", err)
	}

	for ticker, result := range report.Results {
		fills, err := json.Marshal(result.Fills)
		if err != nil {
			return fmt.Errorf("store: 序列化成交明细失败: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO execution_results
			(report_id, ticker, action, executed, order_id, client_order_id, quantity, status, fills, reason, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			reportID, ticker, string(result.Action), result.Executed,
			result.OrderID, result.ClientOrderID, result.Quantity,
			result.Status, string(fills), result.Reason, result.Error,
		); err != nil {
			return fmt.Errorf("store: 写入执行结果失败 (%s): %w", ticker, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: 提交事务失败: %w", err)
	}

	h.logger.Debug("执行报告已持久化",
		zap.Int64("report_id", reportID),
		zap.Int("results", len(report.Results)),
	)
	return nil
}

// ReportRecord 为持久化后的报告摘要。
type ReportRecord struct {
	ID          int64              `json:"id"`
	Mode        string             `json:"mode"`
	TotalOrders int                `json:"total_orders"`
	TotalErrors int                `json:"total_errors"`
	CreatedAt   time.Time          `json:"created_at"`
	Results     []execution.Result `json:"results"`
}

// ListReports 返回最近的执行报告，按时间倒序。
func (h *History) ListReports(ctx context.Context, limit int) ([]ReportRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, mode, total_orders, total_errors, created_at
		 FROM execution_reports ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: 查询执行报告失败: %w", err)
	}
	defer rows.Close()

	var records []ReportRecord
	for rows.Next() {
		var (
			rec       ReportRecord
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Mode, &rec.TotalOrders, &rec.TotalErrors, &createdAt); err != nil {
			return nil, fmt.Errorf("store: 读取执行报告失败: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, createdAt); parseErr == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历执行报告失败: %w", err)
	}

	for i := range records {
		results, err := h.listResults(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Results = results
	}

	return records, nil
}

func (h *History) listResults(ctx context.Context, reportID int64) ([]execution.Result, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT ticker, action, executed, order_id, client_order_id, quantity, status, fills, reason, error
		 FROM execution_results WHERE report_id = ? ORDER BY ticker`, reportID)
	if err != nil {
		return nil, fmt.Errorf("store: 查询执行结果失败: %w", err)
	}
	defer rows.Close()

	var results []execution.Result
	for rows.Next() {
		var (
			result execution.Result
			action string
			fills  string
		)
		if err := rows.Scan(&result.Ticker, &action, &result.Executed,
			&result.OrderID, &result.ClientOrderID, &result.Quantity,
			&result.Status, &fills, &result.Reason, &result.Error); err != nil {
			return nil, fmt.Errorf("store: 读取执行结果失败: %w", err)
		}
		result.Action = decision.Action(action)
		if fills != "" && fills != "null" {
			if err := json.Unmarshal([]byte(fills), &result.Fills); err != nil {
				return nil, fmt.Errorf("store: 解析成交明细失败: %w", err)
			}
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 遍历执行结果失败: %w", err)
	}

	return results, nil
}
