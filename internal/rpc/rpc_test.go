package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer() *Server {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	s := NewServer("board-1", logrus.NewEntry(l))
	s.AddHandler("Test.Echo", func(_ context.Context, args json.RawMessage) (interface{}, error) {
		if args == nil {
			return map[string]string{"status": "empty"}, nil
		}
		return args, nil
	})
	s.AddHandler("Test.Fail", func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, Errorf(CodeBadRequest, "Invalid output number")
	})
	s.AddHandler("Test.Crash", func(context.Context, json.RawMessage) (interface{}, error) {
		return nil, errors.New("disk on fire")
	})
	return s
}

func TestDispatch(t *testing.T) {
	s := newTestServer()

	resp := s.Dispatch(context.Background(), Frame{ID: 7, Src: "cloud", Method: "Test.Echo", Params: json.RawMessage(`{"a":1}`)})
	assert.Equal(t, int64(7), resp.ID)
	assert.Equal(t, "board-1", resp.Src)
	assert.Equal(t, "cloud", resp.Dst)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{"a":1}`, string(resp.Result.(json.RawMessage)))

	resp = s.Dispatch(context.Background(), Frame{Method: "Test.Fail"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, &Error{Code: 400, Message: "Invalid output number"}, resp.Error)

	resp = s.Dispatch(context.Background(), Frame{Method: "Test.Crash"})
	assert.Equal(t, 500, resp.Error.Code)

	resp = s.Dispatch(context.Background(), Frame{Method: "Nope.Nope"})
	assert.Equal(t, &Error{Code: 404, Message: "No handler for Nope.Nope"}, resp.Error)
}

func TestRPCList(t *testing.T) {
	s := newTestServer()
	resp := s.Dispatch(context.Background(), Frame{Method: "RPC.List"})
	assert.Equal(t, []string{"RPC.List", "Test.Crash", "Test.Echo", "Test.Fail"}, resp.Result)
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	r := mux.NewRouter()
	s.RegisterHTTP(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHTTPMethodRoute(t *testing.T) {
	s := newTestServer()

	rec := serve(s, "POST", "/rpc/Test.Echo", `{"x":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"x":true}`, rec.Body.String())

	rec = serve(s, "GET", "/rpc/Test.Echo", "")
	assert.JSONEq(t, `{"status":"empty"}`, rec.Body.String())

	rec = serve(s, "POST", "/rpc/Test.Fail", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"code":400,"message":"Invalid output number"}`, rec.Body.String())

	rec = serve(s, "POST", "/rpc/Test.Echo", `{bad`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPFrameRoute(t *testing.T) {
	s := newTestServer()
	rec := serve(s, "POST", "/rpc", `{"id":3,"src":"ui","method":"Test.Fail"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":3,"src":"board-1","dst":"ui","error":{"code":400,"message":"Invalid output number"}}`, rec.Body.String())

	rec = serve(s, "POST", "/rpc", `nope`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	s := newTestServer()
	r := mux.NewRouter()
	r.Use(BasicAuth("admin", string(hash)))
	s.RegisterHTTP(r)

	req := httptest.NewRequest("GET", "/rpc/RPC.List", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/rpc/RPC.List", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/rpc/RPC.List", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
