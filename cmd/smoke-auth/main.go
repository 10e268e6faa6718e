// Command smoke-auth drives a running API through a full session lifecycle.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type session struct {
	AccountID    string `json:"account_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	base := envOr("AFILIADOS_SMOKE_URL", "http://localhost:8080")
	identifier := os.Getenv("AFILIADOS_SMOKE_IDENTIFIER")
	password := os.Getenv("AFILIADOS_SMOKE_PASSWORD")
	if identifier == "" || password == "" {
		log.Fatalf("AFILIADOS_SMOKE_IDENTIFIER and AFILIADOS_SMOKE_PASSWORD are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	c := &client{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 5 * time.Second}}

	var sess session
	if status := c.post(ctx, "/v1/auth/login", "", map[string]string{"identifier": identifier, "password": password}, &sess); status != http.StatusOK {
		log.Fatalf("login: status %d", status)
	}

	var rotated session
	if status := c.post(ctx, "/v1/auth/refresh", "", map[string]string{"refresh_token": sess.RefreshToken}, &rotated); status != http.StatusOK {
		log.Fatalf("refresh: status %d", status)
	}
	if rotated.RefreshToken == "" || rotated.RefreshToken == sess.RefreshToken {
		log.Fatalf("refresh did not rotate the secret")
	}
	if status := c.post(ctx, "/v1/auth/refresh", "", map[string]string{"refresh_token": sess.RefreshToken}, nil); status != http.StatusUnauthorized {
		log.Fatalf("replayed refresh secret: want 401, got %d", status)
	}

	var tok session
	if status := c.post(ctx, "/v1/auth/token", "", map[string]string{"refresh_token": rotated.RefreshToken}, &tok); status != http.StatusOK {
		log.Fatalf("token exchange: status %d", status)
	}
	if status := c.get(ctx, "/v1/auth/me", tok.AccessToken); status != http.StatusOK {
		log.Fatalf("me: status %d", status)
	}

	if status := c.post(ctx, "/v1/auth/logout", tok.AccessToken, map[string]string{"refresh_token": rotated.RefreshToken}, nil); status != http.StatusNoContent {
		log.Fatalf("logout: status %d", status)
	}
	if status := c.get(ctx, "/v1/auth/me", tok.AccessToken); status != http.StatusUnauthorized {
		log.Fatalf("me after logout: want 401, got %d", status)
	}
	if status := c.post(ctx, "/v1/auth/refresh", "", map[string]string{"refresh_token": rotated.RefreshToken}, nil); status != http.StatusUnauthorized {
		log.Fatalf("refresh after logout: want 401, got %d", status)
	}

	fmt.Printf("auth smoke test passed: account=%s\n", sess.AccountID)
}

func (c *client) post(ctx context.Context, path, bearer string, body, out any) int {
	raw, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("encode %s: %v", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		log.Fatalf("build %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, bearer, out)
}

func (c *client) get(ctx context.Context, path, bearer string) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		log.Fatalf("build %s: %v", path, err)
	}
	return c.do(req, bearer, nil)
}

func (c *client) do(req *http.Request, bearer string, out any) int {
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", req.URL.Path, err)
		}
		return resp.StatusCode
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
