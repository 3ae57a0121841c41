package blog

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// FeedType はフィードの種類を表す。
type FeedType string

const (
	FeedTypeRSS  FeedType = "rss"
	FeedTypeAtom FeedType = "atom"
)

// FeedLink はHTMLのheadから検出したフィードリンク。
type FeedLink struct {
	URL   string
	Type  FeedType
	Title string
}

// IsFeedResponse はContent-Typeとボディ先頭からRSS/Atomかどうかを判定する。
// text/xml などの汎用XMLはルート要素を確認する。
func IsFeedResponse(contentType string, body []byte) bool {
	switch mediaType(contentType) {
	case "application/rss+xml", "application/atom+xml", "application/feed+xml":
		return true
	case "text/xml", "application/xml", "":
		return looksLikeFeed(body)
	}
	return false
}

// IsHTMLResponse はContent-TypeがHTMLかどうかを返す。
func IsHTMLResponse(contentType string) bool {
	mt := mediaType(contentType)
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mt)
}

// looksLikeFeed は先頭4KBにRSS/RDF/Atomのルート要素があるかを見る。
func looksLikeFeed(body []byte) bool {
	if len(body) > 4096 {
		body = body[:4096]
	}
	prefix := strings.ToLower(string(body))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

// FeedLinksFromHTML は <link rel="alternate" type="application/rss+xml|atom+xml"> を抽出する。
// 相対URLはbaseURLで解決する。bodyに到達した時点で打ち切る。
func FeedLinksFromHTML(body []byte, baseURL string) []FeedLink {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []FeedLink
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "body":
				return links
			case "link":
				if !hasAttr {
					continue
				}
				if link, ok := feedLinkFromAttrs(z, base); ok {
					links = append(links, link)
				}
			}
		}
	}
}

func feedLinkFromAttrs(z *html.Tokenizer, base *url.URL) (FeedLink, bool) {
	var rel, typ, href, title string
	for {
		key, val, more := z.TagAttr()
		switch strings.ToLower(string(key)) {
		case "rel":
			rel = strings.ToLower(string(val))
		case "type":
			typ = strings.ToLower(string(val))
		case "href":
			href = strings.TrimSpace(string(val))
		case "title":
			title = string(val)
		}
		if !more {
			break
		}
	}

	if href == "" || !containsToken(rel, "alternate") {
		return FeedLink{}, false
	}

	var ft FeedType
	switch typ {
	case "application/rss+xml":
		ft = FeedTypeRSS
	case "application/atom+xml":
		ft = FeedTypeAtom
	default:
		return FeedLink{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return FeedLink{}, false
	}
	return FeedLink{URL: base.ResolveReference(ref).String(), Type: ft, Title: title}, true
}

func containsToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if f == token {
			return true
		}
	}
	return false
}

// SelectFeed は候補から1件選ぶ。優先順位: 同一ホスト > Atom > 出現順。
// コメントフィードはタイトルに "comments" を含むものとして後回しにする。
func SelectFeed(links []FeedLink, pageURL string) (FeedLink, bool) {
	if len(links) == 0 {
		return FeedLink{}, false
	}

	host := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == host {
			score += 100
		}
		if !strings.Contains(strings.ToLower(l.Title), "comments") {
			score += 20
		}
		if l.Type == FeedTypeAtom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best], true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
