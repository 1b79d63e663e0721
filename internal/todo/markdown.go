package todo

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/sitewatch/internal/model"
)

// RenderMarkdown はTODO項目を優先度ごとのチェックボックスリストに整形する。
// 高優先度を先に、各グループ内は生成順を保つ。
func RenderMarkdown(siteName string, items []model.TodoItem, now time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# TODO: %s\n\n", siteName)
	fmt.Fprintf(&sb, "生成日時: %s\n\n", now.UTC().Format("2006-01-02 15:04:05 UTC"))

	if len(items) == 0 {
		sb.WriteString("対応が必要なURLはありません。\n")
		return sb.String()
	}

	var high, normal []model.TodoItem
	for _, item := range items {
		if item.Priority == model.TodoPriorityHigh {
			high = append(high, item)
		} else {
			normal = append(normal, item)
		}
	}

	writeGroup(&sb, "高優先度", high)
	writeGroup(&sb, "通常", normal)
	fmt.Fprintf(&sb, "合計: %d件\n", len(items))
	return sb.String()
}

func writeGroup(sb *strings.Builder, heading string, items []model.TodoItem) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n", heading)
	for _, item := range items {
		fmt.Fprintf(sb, "- [ ] [%s](%s) （%s）\n", item.Title, item.URL, item.Reason)
	}
	sb.WriteString("\n")
}

// TodoKey はサイトごとのTODOファイルの保存キーを返す。
// 実行のたびに同じキーへ上書きし、常に最新のTODOリストだけを保持する。
func TodoKey(siteName string) string {
	return fmt.Sprintf("todos/%s.md", siteName)
}
