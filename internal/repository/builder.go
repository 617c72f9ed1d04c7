package repository

import (
	"net/http"
	"strings"

	"github.com/vietddude/apiclient/internal/core/domain"
)

// RequestBuilder maps cache keys to network requests.
type RequestBuilder interface {
	FetchRequest(key string) *domain.Request
	PutRequest(key string, value []byte) *domain.Request
}

// PathBuilder maps key to GET and PUT on Base/key.
type PathBuilder struct {
	Base string
}

func (b PathBuilder) path(key string) string {
	base := strings.TrimRight(b.Base, "/")
	return base + "/" + strings.TrimLeft(key, "/")
}

func (b PathBuilder) FetchRequest(key string) *domain.Request {
	req := domain.NewRequest(http.MethodGet, b.path(key), nil)
	req.Header.Set("Accept", "application/json")
	return req
}

func (b PathBuilder) PutRequest(key string, value []byte) *domain.Request {
	return domain.NewRequest(http.MethodPut, b.path(key), value)
}
