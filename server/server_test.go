package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-social/inkwell/graph"
	"github.com/inkwell-social/inkwell/readcache"
	"github.com/inkwell-social/inkwell/util/cliutil"
)

const testPaymentSecret = "test-payment-secret"

type testServer struct {
	t    *testing.T
	host string
	srv  *Server
}

func mustSetupServer(t *testing.T) *testServer {
	t.Helper()

	db, err := cliutil.SetupDatabase("sqlite://:memory:", 1)
	require.NoError(t, err)

	cache := readcache.NewLocal(1000, time.Minute)

	srv, err := NewServer(db, cache, Config{
		JWTSigningKey: []byte("test-signing-key"),
		PaymentSecret: testPaymentSecret,
	})
	require.NoError(t, err)

	li, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		if err := srv.RunAPIWithListener(li); err != nil && err != http.ErrServerClosed {
			fmt.Println("test server shutdown:", err)
		}
	}()
	time.Sleep(time.Millisecond * 100)

	return &testServer{
		t:    t,
		host: "http://" + li.Addr().String(),
		srv:  srv,
	}
}

func (ts *testServer) request(method, path, token string, body any) (int, map[string]any) {
	ts.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, ts.host+path, &buf)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

type testAccount struct {
	id    uint
	email string
	token string
}

func (ts *testServer) makeAccount(t *testing.T) *testAccount {
	t.Helper()

	email := gofakeit.Email()
	password := "hunter22"

	code, body := ts.request(http.MethodPost, "/auth/signup", "", map[string]any{
		"username": gofakeit.Username(),
		"fullname": gofakeit.Name(),
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusCreated, code, "signup failed: %v", body)

	code, body = ts.request(http.MethodPost, "/auth/signin", "", map[string]any{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, code, "signin failed: %v", body)

	user := body["user"].(map[string]any)
	return &testAccount{
		id:    uint(user["id"].(float64)),
		email: email,
		token: body["token"].(string),
	}
}

func TestSignupAndSignin(t *testing.T) {
	ts := mustSetupServer(t)

	email := gofakeit.Email()
	signup := map[string]any{
		"username": "inktester",
		"fullname": "Ink Tester",
		"email":    email,
		"password": "hunter22",
	}

	code, body := ts.request(http.MethodPost, "/auth/signup", "", signup)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["success"])

	// same email again
	code, _ = ts.request(http.MethodPost, "/auth/signup", "", signup)
	assert.Equal(t, http.StatusBadRequest, code)

	// short password
	code, _ = ts.request(http.MethodPost, "/auth/signup", "", map[string]any{
		"username": "another",
		"fullname": "Another One",
		"email":    gofakeit.Email(),
		"password": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = ts.request(http.MethodPost, "/auth/signin", "", map[string]any{
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["token"])

	code, _ = ts.request(http.MethodPost, "/auth/signin", "", map[string]any{
		"email":    email,
		"password": "wrongpass",
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.request(http.MethodPost, "/auth/signin", "", map[string]any{
		"email":    gofakeit.Email(),
		"password": "hunter22",
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAuthRequired(t *testing.T) {
	ts := mustSetupServer(t)

	code, _ := ts.request(http.MethodGet, "/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.request(http.MethodPost, "/posts", "not-a-token", map[string]any{"content": "hi"})
	assert.Equal(t, http.StatusUnauthorized, code)

	// public listing works without auth
	code, _ = ts.request(http.MethodGet, "/posts", "", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestFollowEndpoints(t *testing.T) {
	ts := mustSetupServer(t)

	alice := ts.makeAccount(t)
	bob := ts.makeAccount(t)

	follow := fmt.Sprintf("/follow/%d", bob.id)

	code, _ := ts.request(http.MethodPost, follow, alice.token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.request(http.MethodPost, follow, alice.token, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = ts.request(http.MethodPost, fmt.Sprintf("/follow/%d", alice.id), alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.request(http.MethodPost, "/follow/99999", alice.token, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := ts.request(http.MethodGet, follow+"/status", alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["following"])

	code, body = ts.request(http.MethodGet, "/follow/following", alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["following"], 1)

	code, body = ts.request(http.MethodGet, "/follow/followers", bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["followers"], 1)

	code, _ = ts.request(http.MethodDelete, follow, alice.token, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = ts.request(http.MethodGet, follow+"/status", alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["following"])

	// unfollowing again is a no-op
	code, _ = ts.request(http.MethodDelete, follow, alice.token, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestPostLifecycle(t *testing.T) {
	ts := mustSetupServer(t)

	alice := ts.makeAccount(t)
	bob := ts.makeAccount(t)

	code, body := ts.request(http.MethodPost, "/posts", alice.token, map[string]any{
		"title":    "first post",
		"content":  "hello world",
		"tags":     []string{"intro"},
		"category": "general",
	})
	require.Equal(t, http.StatusCreated, code, "create failed: %v", body)
	post := body["post"].(map[string]any)
	postID := uint(post["id"].(float64))

	// warms the listing snapshot
	code, body = ts.request(http.MethodGet, "/posts", "", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["posts"], 1)

	// author updates, listing must reflect it on the next read
	code, _ = ts.request(http.MethodPatch, fmt.Sprintf("/posts/%d", postID), alice.token, map[string]any{
		"title": "renamed post",
	})
	require.Equal(t, http.StatusOK, code)

	code, body = ts.request(http.MethodGet, "/posts", "", nil)
	require.Equal(t, http.StatusOK, code)
	posts := body["posts"].([]any)
	require.Len(t, posts, 1)
	assert.Equal(t, "renamed post", posts[0].(map[string]any)["title"])

	// only the author gets to edit or delete
	code, _ = ts.request(http.MethodPatch, fmt.Sprintf("/posts/%d", postID), bob.token, map[string]any{
		"title": "hijacked",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = ts.request(http.MethodDelete, fmt.Sprintf("/posts/%d", postID), bob.token, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = ts.request(http.MethodPost, fmt.Sprintf("/posts/%d/like", postID), bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["liked"])
	assert.Equal(t, float64(1), body["likes"])

	code, body = ts.request(http.MethodPost, fmt.Sprintf("/posts/%d/like", postID), bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["liked"])
	assert.Equal(t, float64(0), body["likes"])

	code, _ = ts.request(http.MethodDelete, fmt.Sprintf("/posts/%d", postID), alice.token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.request(http.MethodGet, fmt.Sprintf("/posts/%d", postID), "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestComments(t *testing.T) {
	ts := mustSetupServer(t)

	alice := ts.makeAccount(t)
	bob := ts.makeAccount(t)

	code, body := ts.request(http.MethodPost, "/posts", alice.token, map[string]any{
		"content": "commentable",
	})
	require.Equal(t, http.StatusCreated, code)
	postID := uint(body["post"].(map[string]any)["id"].(float64))

	code, body = ts.request(http.MethodPost, fmt.Sprintf("/posts/%d/comments", postID), bob.token, map[string]any{
		"content": "nice post",
	})
	require.Equal(t, http.StatusCreated, code)
	commentID := uint(body["comment"].(map[string]any)["id"].(float64))

	code, _ = ts.request(http.MethodPost, "/posts/99999/comments", bob.token, map[string]any{
		"content": "into the void",
	})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.request(http.MethodPatch, fmt.Sprintf("/comments/%d", commentID), alice.token, map[string]any{
		"content": "edited by someone else",
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, body = ts.request(http.MethodPatch, fmt.Sprintf("/comments/%d", commentID), bob.token, map[string]any{
		"content": "really nice post",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "really nice post", body["comment"].(map[string]any)["content"])

	code, _ = ts.request(http.MethodDelete, fmt.Sprintf("/comments/%d", commentID), bob.token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.request(http.MethodDelete, fmt.Sprintf("/comments/%d", commentID), bob.token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProfile(t *testing.T) {
	ts := mustSetupServer(t)

	alice := ts.makeAccount(t)
	bob := ts.makeAccount(t)

	code, _ := ts.request(http.MethodPost, "/posts", alice.token, map[string]any{"content": "mine"})
	require.Equal(t, http.StatusCreated, code)

	code, body := ts.request(http.MethodGet, "/profile", alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	profile := body["profile"].(map[string]any)
	assert.Equal(t, float64(1), profile["postCount"])

	code, body = ts.request(http.MethodPatch, "/profile", alice.token, map[string]any{
		"bio": "writes about ink",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "writes about ink", body["profile"].(map[string]any)["bio"])

	// cached snapshot was invalidated by the edit
	code, body = ts.request(http.MethodGet, "/profile", alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "writes about ink", body["profile"].(map[string]any)["profile"].(map[string]any)["bio"])

	// anyone can view someone else's profile
	code, body = ts.request(http.MethodGet, fmt.Sprintf("/profile/%d", alice.id), bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["profile"].(map[string]any)["postCount"])

	code, _ = ts.request(http.MethodGet, "/profile/99999", bob.token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestProfileUpdateRefreshesCachedPosts(t *testing.T) {
	ts := mustSetupServer(t)

	alice := ts.makeAccount(t)

	code, body := ts.request(http.MethodPost, "/posts", alice.token, map[string]any{
		"content": "author rename test",
	})
	require.Equal(t, http.StatusCreated, code)
	postID := uint(body["post"].(map[string]any)["id"].(float64))

	// warm the per-post cache entry, which embeds the author summary
	code, _ = ts.request(http.MethodGet, fmt.Sprintf("/posts/%d", postID), "", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.request(http.MethodPatch, "/profile", alice.token, map[string]any{
		"username": "renamed-ink-author",
	})
	require.Equal(t, http.StatusOK, code)

	code, body = ts.request(http.MethodGet, fmt.Sprintf("/posts/%d", postID), "", nil)
	require.Equal(t, http.StatusOK, code)
	author := body["post"].(map[string]any)["author"].(map[string]any)
	assert.Equal(t, "renamed-ink-author", author["username"])
}

func TestSearch(t *testing.T) {
	ts := mustSetupServer(t)

	code, _ := ts.request(http.MethodPost, "/auth/signup", "", map[string]any{
		"username": "searchable-sam",
		"fullname": "Sam Search",
		"email":    gofakeit.Email(),
		"password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := ts.request(http.MethodGet, "/search/users?query=SEARCHABLE", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["users"], 1)

	code, _ = ts.request(http.MethodGet, "/search/users?query=nobodyhere", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = ts.request(http.MethodGet, "/search/users", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	alice := ts.makeAccount(t)
	code, _ = ts.request(http.MethodPost, "/posts", alice.token, map[string]any{
		"title":   "Go Concurrency Patterns",
		"content": "channels all the way down",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body = ts.request(http.MethodGet, "/search/posts?title=concurrency", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["posts"], 1)

	code, body = ts.request(http.MethodGet, "/search/posts?title=cobol", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["posts"], 0)

	code, _ = ts.request(http.MethodGet, "/search/posts", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSearchPostsByAuthor(t *testing.T) {
	ts := mustSetupServer(t)

	email := gofakeit.Email()
	code, _ := ts.request(http.MethodPost, "/auth/signup", "", map[string]any{
		"username": "prolific-author",
		"fullname": "Pro Lific",
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := ts.request(http.MethodPost, "/auth/signin", "", map[string]any{
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, code)
	token := body["token"].(string)

	code, _ = ts.request(http.MethodPost, "/posts", token, map[string]any{
		"title":   "Thoughts on Ink",
		"content": "some thoughts",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body = ts.request(http.MethodGet, "/search/posts?author=prolific", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["posts"], 1)

	// both filters apply together
	code, body = ts.request(http.MethodGet, "/search/posts?author=prolific&title=unrelated", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["posts"], 0)

	// an author filter matching nobody is a hard not-found
	code, _ = ts.request(http.MethodGet, "/search/posts?author=ghostwriter", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPayments(t *testing.T) {
	ts := mustSetupServer(t)

	alice := ts.makeAccount(t)

	code, body := ts.request(http.MethodPost, "/payments/order", alice.token, map[string]any{
		"amount": 49900,
	})
	require.Equal(t, http.StatusCreated, code)
	orderID := body["orderId"].(string)
	require.NotEmpty(t, orderID)

	code, _ = ts.request(http.MethodPost, "/payments/order", alice.token, map[string]any{
		"amount": -5,
	})
	assert.Equal(t, http.StatusBadRequest, code)

	// wrong signature is rejected and leaves the user unchanged
	code, _ = ts.request(http.MethodPost, "/payments/verify", alice.token, map[string]any{
		"orderId":   orderID,
		"paymentId": "pay_123",
		"signature": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = ts.request(http.MethodGet, "/profile", alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["profile"].(map[string]any)["isPremium"])

	sig := paymentSignature(testPaymentSecret, orderID, "pay_123")
	code, _ = ts.request(http.MethodPost, "/payments/verify", alice.token, map[string]any{
		"orderId":   orderID,
		"paymentId": "pay_123",
		"signature": sig,
	})
	require.Equal(t, http.StatusOK, code)

	code, body = ts.request(http.MethodGet, "/profile", alice.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["profile"].(map[string]any)["isPremium"])

	code, _ = ts.request(http.MethodPost, "/payments/verify", alice.token, map[string]any{
		"orderId":   "order_doesnotexist",
		"paymentId": "pay_123",
		"signature": sig,
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSessionRefresh(t *testing.T) {
	ts := mustSetupServer(t)

	alice := ts.makeAccount(t)

	// access tokens cannot refresh
	code, _ := ts.request(http.MethodPost, "/auth/refresh", alice.token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	email := gofakeit.Email()
	code, _ = ts.request(http.MethodPost, "/auth/signup", "", map[string]any{
		"username": "refresher",
		"fullname": "Re Fresher",
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusCreated, code)

	code, body := ts.request(http.MethodPost, "/auth/signin", "", map[string]any{
		"email":    email,
		"password": "hunter22",
	})
	require.Equal(t, http.StatusOK, code)
	refresh := body["refreshToken"].(string)

	code, body = ts.request(http.MethodPost, "/auth/refresh", refresh, nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["token"])

	// refresh tokens open exactly one door
	code, _ = ts.request(http.MethodGet, "/profile", refresh, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMetricsSafeAcrossServers(t *testing.T) {
	// every server carries its own collector registry, so two instances in
	// one process must not collide
	a := mustSetupServer(t)
	b := mustSetupServer(t)

	for _, ts := range []*testServer{a, b} {
		resp, err := http.Get(ts.host + "/metrics")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	ts := mustSetupServer(t)

	cases := []struct {
		err  error
		code int
	}{
		{graph.ErrNoSuchUser, http.StatusNotFound},
		{ErrNoSuchPost, http.StatusNotFound},
		{graph.ErrSelfFollow, http.StatusBadRequest},
		{graph.ErrAlreadyFollowing, http.StatusConflict},
		{ErrNotAuthorized, http.StatusForbidden},
		{ErrInvalidUsernameOrPassword, http.StatusUnauthorized},
		{fmt.Errorf("%w: following count lagging", graph.ErrPartialWrite), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(req, rec)

		ts.srv.errorHandler(tc.err, c)
		assert.Equal(t, tc.code, rec.Code, "wrong status for %v", tc.err)
	}
}

func TestDeleteAccount(t *testing.T) {
	ts := mustSetupServer(t)

	alice := ts.makeAccount(t)
	bob := ts.makeAccount(t)

	code, body := ts.request(http.MethodPost, "/posts", alice.token, map[string]any{"content": "ephemeral"})
	require.Equal(t, http.StatusCreated, code)
	postID := uint(body["post"].(map[string]any)["id"].(float64))

	code, _ = ts.request(http.MethodPost, fmt.Sprintf("/posts/%d/comments", postID), bob.token, map[string]any{
		"content": "will be orphaned otherwise",
	})
	require.Equal(t, http.StatusCreated, code)

	code, _ = ts.request(http.MethodPost, fmt.Sprintf("/follow/%d", alice.id), bob.token, nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = ts.request(http.MethodDelete, "/auth/account", alice.token, nil)
	require.Equal(t, http.StatusOK, code)

	// the token is now useless
	code, _ = ts.request(http.MethodGet, "/profile", alice.token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = ts.request(http.MethodGet, fmt.Sprintf("/posts/%d", postID), "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, body = ts.request(http.MethodGet, "/follow/following", bob.token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["following"], 0)
}
