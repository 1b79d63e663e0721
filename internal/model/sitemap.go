// Package model はドメインモデルを定義する。
package model

import "time"

// SitemapEntry はサイトマップXMLの1エントリを表す。
// LastModは省略可能（サイトマップに<lastmod>がない場合はnil）。
type SitemapEntry struct {
	URL        string
	LastMod    *time.Time
	ChangeFreq string
	Priority   string
}
