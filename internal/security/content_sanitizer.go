// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はブログ記事のHTML本文を保存前にサニタイズする。
// 管理者が入力した本文と外部フィードから取り込んだ本文の両方に
// bluemondayの許可リストポリシーを適用する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェース。
type ContentSanitizerService interface {
	// Sanitize は記事本文として許可されたタグのみを残したHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string

	// StripTags は全てのタグを除去したプレーンテキストを返す。
	// 記事タイトルなどHTMLを含んではならない項目に使う。
	StripTags(raw string) string
}

// ContentSanitizer はContentSanitizerServiceの実装。
// bluemondayのPolicyはスレッドセーフなので共有して使う。
type ContentSanitizer struct {
	body   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はブログ記事用のポリシーを構築する。
//   - 許可タグ: p, br, h2〜h4, ul, ol, li, blockquote, pre, code, strong, em, hr, figure, figcaption, a, img
//   - script, iframe, style および on* 属性は除去
//   - a: href のみ。外部リンクには target="_blank" と rel="noopener noreferrer" を付与
//   - img: src と alt のみ。絶対URLは https のみ
//   - サイト内パス（/programs など）への相対URLは許可
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "hr",
		"h2", "h3", "h4",
		"ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"figure", "figcaption",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	p.AllowURLSchemes("mailto")

	return &ContentSanitizer{
		body:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.body.Sanitize(rawHTML))
}

// StripTags はタグを除去し、エンティティを戻したテキストを返す。
func (s *ContentSanitizer) StripTags(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

var _ ContentSanitizerService = (*ContentSanitizer)(nil)
