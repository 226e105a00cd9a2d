package helpers

import (
	mathrand "math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetBrowserHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("Accept-Language"), "it-IT")
		assert.NotEmpty(t, r.Header.Get("Referer"))
		assert.Equal(t, "navigate", r.Header.Get("Sec-Fetch-Mode"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	SetBrowserHeaders(req, mathrand.New(mathrand.NewSource(1)))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestDecodeUTF8(t *testing.T) {
	body, err := DecodeUTF8([]byte("<html><body>Città</body></html>"), "text/html; charset=utf-8")
	require.NoError(t, err)
	assert.Contains(t, string(body), "Città")

	// "Città" in ISO-8859-1: 0xE0 is à
	latin := []byte("<html><body>Citt\xe0</body></html>")
	body, err = DecodeUTF8(latin, "text/html; charset=iso-8859-1")
	require.NoError(t, err)
	assert.Contains(t, string(body), "Città")
}

func TestIDFromURL(t *testing.T) {
	cases := map[string]string{
		"https://www.subito.it/console/ps5-digital-milano-512345678.htm":  "ps5-digital-milano-512345678",
		"https://www.subito.it/console/ps5-digital-milano-512345678.htm?x": "ps5-digital-milano-512345678",
		"/annunci/123/":  "123",
		"":               "",
		"https://x/y/z#a": "z",
	}
	for in, want := range cases {
		assert.Equal(t, want, IDFromURL(in), in)
	}
}

func TestLastSplitPart(t *testing.T) {
	assert.Equal(t, "98765", LastSplitPart("id:ad:608241847:list:98765", ":"))
	assert.Equal(t, "b", LastSplitPart("a:b:", ":"))
	assert.Equal(t, "", LastSplitPart("", ":"))
}
