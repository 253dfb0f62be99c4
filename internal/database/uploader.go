package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"AutoMLTrainPlatform/internal/dataset"
)

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PredictionUploader 把预测结果数据框写入PostgreSQL表。
// 表不存在时自动建表，所有列统一为TEXT类型，数值解析留给下游消费方
type PredictionUploader struct {
	pool *pgxpool.Pool
}

// NewPredictionUploader 基于已有连接池创建上传器
func NewPredictionUploader(pool *pgxpool.Pool) *PredictionUploader {
	return &PredictionUploader{pool: pool}
}

// Close 关闭底层连接池
func (u *PredictionUploader) Close() {
	u.pool.Close()
}

// UploadFrame 建表（如需要）并把frame的全部行批量插入目标表。
// schema为空时使用public。整个上传在单个事务内完成
func (u *PredictionUploader) UploadFrame(ctx context.Context, schema, table string, frame *dataset.Frame) error {
	if frame == nil || frame.NumRows() == 0 {
		return fmt.Errorf("nothing to upload: prediction frame is empty")
	}
	if schema == "" {
		schema = "public"
	}
	if !identPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	if !identPattern.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	columns := frame.Columns()
	quoted := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = quoteIdent(col)
	}
	qualified := quoteIdent(schema) + "." + quoteIdent(table)

	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upload transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	colDefs := make([]string, len(quoted))
	for i, q := range quoted {
		colDefs[i] = q + " TEXT"
	}
	createSQL := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qualified, strings.Join(colDefs, ", "))
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", qualified, err)
	}

	rows := make([][]interface{}, frame.NumRows())
	for i := 0; i < frame.NumRows(); i++ {
		src := frame.Row(i)
		row := make([]interface{}, len(src))
		for j, v := range src {
			if dataset.IsMissing(v) {
				row[j] = nil
			} else {
				row[j] = v
			}
		}
		rows[i] = row
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{schema, table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copy rows into %s: %w", qualified, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upload transaction: %w", err)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
