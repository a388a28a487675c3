package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// Request budgets. A chat completion can take minutes; an embedding call
// sits on the request path of every scoped agent call and must not.
const (
	chatTimeout      = 120 * time.Second
	embeddingTimeout = 30 * time.Second
)

// sharedTransport pools connections for every model and embedding client in
// the process.
var sharedTransport = sync.OnceValue(func() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
})

// ChatClient is the HTTP client for chat completion endpoints.
func ChatClient() *http.Client {
	return &http.Client{Timeout: chatTimeout, Transport: sharedTransport()}
}

// EmbeddingClient is the HTTP client for embedding endpoints.
func EmbeddingClient() *http.Client {
	return &http.Client{Timeout: embeddingTimeout, Transport: sharedTransport()}
}
