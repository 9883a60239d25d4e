package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"普通 key", "AIzaSyA-123_abc", "AIzaSyA-123_abc"},
		{"首尾空白", "  AIzaKey\n", "AIzaKey"},
		{"双引号包裹", `"AIzaKey"`, "AIzaKey"},
		{"单引号包裹", `'AIzaKey'`, "AIzaKey"},
		{"引号内带空白", `" AIzaKey "`, "AIzaKey"},
		{"嵌套引号", `"'AIzaKey'"`, "AIzaKey"},
		{"不成对的引号保留", `"AIzaKey`, "%22AIzaKey"},
		{"特殊字符被编码", "a+b/c=d&e", "a%2Bb%2Fc%3Dd%26e"},
		{"空字符串", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAPIKey(tt.raw))
		})
	}
}

func TestNormalizeAPIKey_Idempotent(t *testing.T) {
	once := NormalizeAPIKey(` "AIzaSy-plain_key" `)
	assert.Equal(t, once, NormalizeAPIKey(once))
}

func TestWithKey(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		key      string
		expected string
	}{
		{"无查询参数", "https://h/upload?", "k", "https://h/upload?key=k"},
		{"追加到已有参数", "https://h/s?upload_id=1", "k", "https://h/s?upload_id=1&key=k"},
		{"没有问号", "https://h/files/abc", "k", "https://h/files/abc?key=k"},
		{"已有 key 不重复追加", "https://h/s?upload_id=1&key=other", "k", "https://h/s?upload_id=1&key=other"},
		{"空 key 不修改", "https://h/s", "", "https://h/s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, withKey(tt.url, tt.key))
		})
	}
}
