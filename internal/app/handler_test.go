package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"loom-backend/internal/config"
	"loom-backend/internal/engine"
	"loom-backend/internal/schema"
	"loom-backend/internal/store"
)

func newTestApp(t *testing.T) (*fiber.App, *engine.Registry) {
	t.Helper()
	reg := engine.NewRegistry()

	specs := []engine.TypeSpec{
		{
			Name: "user",
			Fields: []schema.Field{
				{Name: "email", Type: schema.TypeString, Required: true},
				{Name: "name", Type: schema.TypeString, Nullable: true},
				{Name: "password_hash", Type: schema.TypeString, Nullable: true, Private: true},
			},
			Relationships: []engine.RelationshipSpec{
				{
					Name:  "articles",
					Joins: []engine.JoinSpec{{Left: "user._id", Right: "article.author_id"}},
					Many:  true,
				},
			},
		},
		{
			Name: "article",
			Fields: []schema.Field{
				{Name: "title", Type: schema.TypeString, Required: true},
				{Name: "author_id", Type: schema.TypeUUID, Nullable: true},
				{Name: "views", Type: schema.TypeInt, Default: int64(0)},
			},
			Relationships: []engine.RelationshipSpec{
				{
					Name:     "author",
					Joins:    []engine.JoinSpec{{Left: "article.author_id", Right: "user._id"}},
					Nullable: true,
				},
			},
		},
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			t.Fatalf("register %s: %v", spec.Name, err)
		}
	}
	if err := reg.BindWith(func(string) store.Store {
		return store.NewMemoryStore()
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTLHours = 1
	return New(reg, cfg), reg
}

func doJSON(t *testing.T, app *fiber.App, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var parsed map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatalf("%s %s: bad JSON %q: %v", method, path, raw, err)
		}
	}
	return resp, parsed
}

// registerAndLogin provisions a user through the auth routes and returns a
// valid bearer token.
func registerAndLogin(t *testing.T, app *fiber.App, email string) string {
	t.Helper()
	creds := map[string]any{"email": email, "password": "hunter22", "name": "tester"}
	resp, _ := doJSON(t, app, "POST", "/auth/register", "", creds)
	if resp.StatusCode != 201 {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	resp, body := doJSON(t, app, "POST", "/auth/login", "", creds)
	if resp.StatusCode != 200 {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("login: missing access_token in %v", body)
	}
	return token
}

func TestHealth(t *testing.T) {
	app, _ := newTestApp(t)
	resp, body := doJSON(t, app, "GET", "/health", "", nil)
	if resp.StatusCode != 200 || body["status"] != "ok" {
		t.Fatalf("unexpected health response: %d %v", resp.StatusCode, body)
	}
}

func TestRegisterHidesPasswordHash(t *testing.T) {
	app, _ := newTestApp(t)
	resp, body := doJSON(t, app, "POST", "/auth/register", "", map[string]any{
		"email": "a@x.com", "password": "hunter22",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	if _, ok := data["password_hash"]; ok {
		t.Fatal("password hash leaked in register response")
	}
	if data["email"] != "a@x.com" {
		t.Fatalf("unexpected data: %v", data)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	app, _ := newTestApp(t)
	registerAndLogin(t, app, "a@x.com")

	resp, body := doJSON(t, app, "POST", "/auth/login", "", map[string]any{
		"email": "a@x.com", "password": "wrong",
	})
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %d: %v", resp.StatusCode, body)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %v", errObj)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	app, _ := newTestApp(t)
	resp, body := doJSON(t, app, "GET", "/api/article", "", nil)
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401 without token, got %d: %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, app, "GET", "/api/article", "garbage-token", nil)
	if resp.StatusCode != 401 {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
}

func TestResourceCRUD(t *testing.T) {
	app, _ := newTestApp(t)
	token := registerAndLogin(t, app, "a@x.com")

	resp, body := doJSON(t, app, "POST", "/api/article", token, map[string]any{
		"title": "hello",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create: expected 201, got %d: %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	id, _ := data["_id"].(string)
	if id == "" {
		t.Fatalf("create: missing _id in %v", data)
	}
	if data["views"] != float64(0) {
		t.Fatalf("create: default views not applied: %v", data)
	}

	resp, body = doJSON(t, app, "GET", "/api/article/"+id, token, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	data = body["data"].(map[string]any)
	if data["title"] != "hello" {
		t.Fatalf("get: unexpected data %v", data)
	}

	resp, body = doJSON(t, app, "PATCH", "/api/article/"+id, token, map[string]any{
		"title": "updated",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("patch: expected 200, got %d: %v", resp.StatusCode, body)
	}
	data = body["data"].(map[string]any)
	if data["title"] != "updated" || data["_rev"] != float64(2) {
		t.Fatalf("patch: unexpected data %v", data)
	}

	resp, _ = doJSON(t, app, "DELETE", "/api/article/"+id, token, nil)
	if resp.StatusCode != 204 {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, app, "GET", "/api/article/"+id, token, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 after delete, got %d: %v", resp.StatusCode, body)
	}
}

func TestListFilterSortPage(t *testing.T) {
	app, _ := newTestApp(t)
	token := registerAndLogin(t, app, "a@x.com")

	for i := 1; i <= 5; i++ {
		resp, body := doJSON(t, app, "POST", "/api/article", token, map[string]any{
			"title": fmt.Sprintf("a%d", i),
			"views": i * 10,
		})
		if resp.StatusCode != 201 {
			t.Fatalf("seed %d: %d %v", i, resp.StatusCode, body)
		}
	}

	resp, body := doJSON(t, app, "GET", "/api/article?filter[views.gte]=30&sort=-views&per_page=2", token, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("list: expected 200, got %d: %v", resp.StatusCode, body)
	}
	data := body["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(data))
	}
	first := data[0].(map[string]any)
	second := data[1].(map[string]any)
	if first["title"] != "a5" || second["title"] != "a4" {
		t.Fatalf("unexpected order: %v, %v", first["title"], second["title"])
	}
	meta := body["meta"].(map[string]any)
	if meta["per_page"] != float64(2) || meta["total"] != float64(5) {
		t.Fatalf("unexpected meta: %v", meta)
	}

	resp, body = doJSON(t, app, "GET", "/api/article?filter[views.gte]=30&sort=-views&per_page=2&page=2", token, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("list page 2: expected 200, got %d", resp.StatusCode)
	}
	data = body["data"].([]any)
	if len(data) != 1 || data[0].(map[string]any)["title"] != "a3" {
		t.Fatalf("unexpected second page: %v", data)
	}
}

func TestListRejectsUnknownFilterField(t *testing.T) {
	app, _ := newTestApp(t)
	token := registerAndLogin(t, app, "a@x.com")

	resp, body := doJSON(t, app, "GET", "/api/article?filter[ghost]=1", token, nil)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "UNKNOWN_RESOLVER" {
		t.Fatalf("expected UNKNOWN_RESOLVER, got %v", errObj)
	}
}

func TestUnknownTypeReturns404(t *testing.T) {
	app, _ := newTestApp(t)
	token := registerAndLogin(t, app, "a@x.com")

	resp, body := doJSON(t, app, "GET", "/api/ghost", token, nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d: %v", resp.StatusCode, body)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "UNKNOWN_TYPE" {
		t.Fatalf("expected UNKNOWN_TYPE, got %v", errObj)
	}
}

func TestCreateValidationError(t *testing.T) {
	app, _ := newTestApp(t)
	token := registerAndLogin(t, app, "a@x.com")

	resp, body := doJSON(t, app, "POST", "/api/article", token, map[string]any{
		"views": 1,
	})
	if resp.StatusCode != 422 {
		t.Fatalf("expected 422, got %d: %v", resp.StatusCode, body)
	}
	errObj := body["error"].(map[string]any)
	if errObj["code"] != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %v", errObj)
	}
}

// include= pulls relationships into the list payload.
func TestListWithInclude(t *testing.T) {
	app, reg := newTestApp(t)
	token := registerAndLogin(t, app, "a@x.com")

	users, err := reg.Type("user")
	if err != nil {
		t.Fatalf("type user: %v", err)
	}
	owner, err := users.Select().WhereEq("email", "a@x.com").First(context.Background())
	if err != nil || owner == nil {
		t.Fatalf("find owner: %v", err)
	}

	resp, body := doJSON(t, app, "POST", "/api/article", token, map[string]any{
		"title":     "mine",
		"author_id": owner.ID(),
	})
	if resp.StatusCode != 201 {
		t.Fatalf("create: %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, app, "GET", "/api/article?include=author", token, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("list: expected 200, got %d: %v", resp.StatusCode, body)
	}
	row := body["data"].([]any)[0].(map[string]any)
	author, ok := row["author"].(map[string]any)
	if !ok {
		t.Fatalf("expected embedded author, got %v", row["author"])
	}
	if author["email"] != "a@x.com" {
		t.Fatalf("unexpected author: %v", author)
	}
	if _, leaked := author["password_hash"]; leaked {
		t.Fatal("private attribute leaked through include")
	}
}
