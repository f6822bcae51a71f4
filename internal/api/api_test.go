package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/longlee218/goclass-editor/internal/scene"
)

func signedTestToken(t *testing.T, claims gojwt.MapClaims) string {
	t.Helper()
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestParseIdentityUnverified(t *testing.T) {
	token := signedTestToken(t, gojwt.MapClaims{
		"sub":  "user-42",
		"name": "Linh",
		"role": "student",
	})

	id, err := ParseIdentityUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.Subject)
	assert.Equal(t, "Linh", id.Name)
	assert.Equal(t, "student", id.Role)
}

func TestParseIdentityUnverified_MissingSubject(t *testing.T) {
	token := signedTestToken(t, gojwt.MapClaims{"name": "nobody"})

	_, err := ParseIdentityUnverified(token)
	assert.Error(t, err)
}

func TestParseIdentityUnverified_Garbage(t *testing.T) {
	_, err := ParseIdentityUnverified("not-a-token")
	assert.Error(t, err)
}

func TestObjectStore_SceneRoundTrip(t *testing.T) {
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = data
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			data, ok := stored[r.URL.Path]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Write(data)
		}
	}))
	defer srv.Close()

	c := NewObjectStore(srv.URL, srv.Client())
	ctx := context.Background()

	payload := []byte("sealed-scene-bytes")
	require.NoError(t, c.PutScene(ctx, "share-1", payload))

	got, err := c.FetchScene(ctx, "share-1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	_, err = c.FetchScene(ctx, "absent")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestObjectStore_FileRoundTrip(t *testing.T) {
	var gotPath, gotMime string
	data := []byte("png-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			gotPath = r.URL.Path
			gotMime = r.Header.Get("Content-Type")
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			w.Header().Set("Content-Type", "image/png")
			w.Write(data)
		}
	}))
	defer srv.Close()

	c := NewObjectStore(srv.URL, srv.Client())
	ctx := context.Background()
	id := scene.FileID("abc123")

	require.NoError(t, c.PutFile(ctx, "share-1", id, data, "image/png"))
	assert.Equal(t, "/v1/scenes/share-1/files/abc123", gotPath)
	assert.Equal(t, "image/png", gotMime)

	body, mime, err := c.FetchFile(ctx, "share-1", id)
	require.NoError(t, err)
	assert.Equal(t, data, body)
	assert.Equal(t, "image/png", mime)
}

func TestClassroom_FinalizeSession(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	token := signedTestToken(t, gojwt.MapClaims{"sub": "user-7"})
	c := NewClassroom(srv.URL, token, srv.Client())

	require.NoError(t, c.FinalizeSession(context.Background(), "sess-9", "user-7"))
	assert.Equal(t, "Bearer "+token, gotAuth)
	assert.Equal(t, "/v1/sessions/sess-9/finalize", gotPath)
	assert.Equal(t, map[string]string{"user_id": "user-7"}, gotBody)
}

func TestClassroom_FetchGuidance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-9", r.URL.Query().Get("session"))
		assert.Equal(t, "room-1", r.URL.Query().Get("room"))
		assert.Equal(t, "user-7", r.URL.Query().Get("user"))
		json.NewEncoder(w).Encode(Guidance{Title: "Perimeter", Body: "Count the edges.", Hints: []string{"start at a corner"}})
	}))
	defer srv.Close()

	c := NewClassroom(srv.URL, signedTestToken(t, gojwt.MapClaims{"sub": "user-7"}), srv.Client())

	g, err := c.FetchGuidance(context.Background(), "sess-9", "room-1", "user-7")
	require.NoError(t, err)
	assert.Equal(t, "Perimeter", g.Title)
	assert.Equal(t, []string{"start at a corner"}, g.Hints)
}

func TestClassroom_Identity(t *testing.T) {
	c := NewClassroom("http://unused", signedTestToken(t, gojwt.MapClaims{"sub": "user-3", "role": "teacher"}), nil)

	id, err := c.Identity()
	require.NoError(t, err)
	assert.Equal(t, "user-3", id.Subject)
	assert.Equal(t, "teacher", id.Role)
}

func TestFetchExternal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/scene.goclass" {
			fmt.Fprint(w, `{"type":"goclass/scene"}`)
			return
		}
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	data, err := FetchExternal(context.Background(), srv.Client(), srv.URL+"/scene.goclass")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"goclass/scene"}`, string(data))

	_, err = FetchExternal(context.Background(), srv.Client(), srv.URL+"/forbidden")
	require.Error(t, err)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestFetchExternal_Cancelled(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := FetchExternal(ctx, srv.Client(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHTTPClient_Timeout(t *testing.T) {
	c := NewHTTPClient(0)
	assert.Equal(t, defaultTimeout, c.Timeout)

	c = NewHTTPClient(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.Timeout)
}
