package gemini

import (
	"net/url"
	"strings"
)

// NormalizeAPIKey 清理并编码 API key：去掉空白与包裹的引号后做 query 编码
func NormalizeAPIKey(raw string) string {
	key := strings.TrimSpace(raw)
	for len(key) >= 2 {
		first, last := key[0], key[len(key)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			key = strings.TrimSpace(key[1 : len(key)-1])
			continue
		}
		break
	}
	return url.QueryEscape(key)
}

// withKey 在 URL 缺少 key 参数时追加已编码的 key
func withKey(rawURL, encodedKey string) string {
	if encodedKey == "" {
		return rawURL
	}
	if u, err := url.Parse(rawURL); err == nil && u.Query().Has("key") {
		return rawURL
	}
	sep := "&"
	switch {
	case !strings.Contains(rawURL, "?"):
		sep = "?"
	case strings.HasSuffix(rawURL, "?"), strings.HasSuffix(rawURL, "&"):
		sep = ""
	}
	return rawURL + sep + "key=" + encodedKey
}
