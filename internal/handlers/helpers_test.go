package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stanstork/sensorhub/internal/authz"
	"github.com/stretchr/testify/require"
)

var testLogger = zerolog.Nop()

func request(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	return httptest.NewRequest(method, target, &buf)
}

func as(r *http.Request, identity string) *http.Request {
	return r.WithContext(authz.WithIdentity(r.Context(), identity))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }
