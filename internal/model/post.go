package model

import "time"

// Post はブログ記事を表す。
type Post struct {
	ID        string
	Title     string
	Slug      string
	Content   string // サニタイズ済みHTML
	ImageID   string
	Author    string
	AuthorID  string
	SourceURL string // 外部フィードから取り込んだ場合の元記事URL
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultPostImageID は画像未指定の記事に使うプレースホルダー画像ID。
const DefaultPostImageID = "blog-community-gardens"
