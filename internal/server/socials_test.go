package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestSocialCheckerHeadsProfilePage(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	profiles := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		switch r.URL.Path {
		case "/alice":
			w.WriteHeader(http.StatusOK)
		case "/moved":
			http.Redirect(w, r, "/login", http.StatusFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer profiles.Close()

	c := newSocialChecker(SocialsConfig{ProfileURLs: map[string]string{"x": profiles.URL + "/"}, Timeout: time.Second})
	ctx := context.Background()
	cases := []struct {
		username string
		valid    bool
	}{
		{"alice", true},
		{"@alice", true},
		{"bob", false},
		{"moved", false},
	}
	for _, tc := range cases {
		res, err := c.Check(ctx, "X", tc.username)
		if err != nil {
			t.Fatalf("%s: %v", tc.username, err)
		}
		if res.Valid != tc.valid || res.Platform != "x" {
			t.Fatalf("%s: got %+v", tc.username, res)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for _, m := range methods {
		if m != http.MethodHead {
			t.Fatalf("expected HEAD requests, got %v", methods)
		}
	}

	if _, err := c.Check(ctx, "telegram", "alice"); err == nil {
		t.Fatalf("expected unsupported platform")
	}
	if _, err := c.Check(ctx, "x", "../admin"); err == nil {
		t.Fatalf("expected rejected handle")
	}
}

func TestSocialCheckerUnreachableIsInvalid(t *testing.T) {
	profiles := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := profiles.URL + "/"
	profiles.Close()

	c := newSocialChecker(SocialsConfig{ProfileURLs: map[string]string{"telegram": url}, Timeout: 200 * time.Millisecond})
	res, err := c.Check(context.Background(), "telegram", "alice")
	if err != nil || res.Valid {
		t.Fatalf("expected invalid without error, got %+v %v", res, err)
	}
}

func TestSocialCheckRoute(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/socials/check?platform=myspace&username=alice", nil, as("sub"))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/socials/check?platform=x&username=a%20b", nil, as("sub"))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/users/socials/check?platform=x&username=alice", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected auth required, got %d: %s", res.StatusCode, data)
	}
}
