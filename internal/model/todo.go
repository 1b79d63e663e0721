// Package model はドメインモデルを定義する。
package model

import "time"

// TodoPriority はTODO項目の優先度を表す。
type TodoPriority string

const (
	// TodoPriorityHigh は高優先度。ブログ・ニュース・ドキュメント系パスや
	// 更新が24時間以内のURLに付与される。
	TodoPriorityHigh TodoPriority = "high"
	// TodoPriorityNormal は通常優先度。
	TodoPriorityNormal TodoPriority = "normal"
)

// TodoItem は新規・リトライ対象URLから生成されるTODO項目を表す。
type TodoItem struct {
	URL       string
	Title     string
	Priority  TodoPriority
	Reason    string
	CreatedAt time.Time
}
