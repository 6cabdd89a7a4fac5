package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMakeHTTPRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/error" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error": "upstream"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"messageId": "abc"}`))
	}))
	defer server.Close()

	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	rr, err := MakeHTTPRequest(req)
	assert.NoError(t, err)
	assert.Equal(t, RRStatusSuccess, rr.Status)
	assert.Equal(t, 200, rr.StatusCode)
	assert.Equal(t, []byte(`{"messageId": "abc"}`), rr.Body)
	assert.Contains(t, rr.Request, "User-Agent: Wabridge/")

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/error", nil)
	rr, err = MakeHTTPRequest(req)
	assert.Error(t, err)
	assert.Equal(t, RRStatusFailure, rr.Status)
	assert.Equal(t, 502, rr.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, "http://127.0.0.1:1/nothing", nil)
	rr, err = MakeHTTPRequest(req)
	assert.Error(t, err)
	assert.Equal(t, RRConnectionFailure, rr.Status)
}
