package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"loom-backend/internal/config"
	"loom-backend/internal/engine"
	"loom-backend/internal/store"
)

type Handler struct {
	registry *engine.Registry
	cfg      *config.Config
}

func NewHandler(reg *engine.Registry, cfg *config.Config) *Handler {
	return &Handler{registry: reg, cfg: cfg}
}

func (h *Handler) resolveType(c *fiber.Ctx) (*engine.Type, error) {
	return h.registry.Type(c.Params("type"))
}

// List handles GET /api/:type
func (h *Handler) List(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}

	q, page, err := BuildQuery(c, t)
	if err != nil {
		return err
	}

	batch, err := q.Execute(c.Context())
	if err != nil {
		return fmt.Errorf("list %s: %w", t.Name(), err)
	}

	total, err := t.Store().Count(c.Context())
	if err != nil {
		return fmt.Errorf("count %s: %w", t.Name(), err)
	}

	data := make([]map[string]any, batch.Len())
	for i, r := range batch.Items() {
		data[i] = r.Dump()
	}

	return c.JSON(fiber.Map{
		"data": data,
		"meta": fiber.Map{
			"page":     page.Number,
			"per_page": page.PerPage,
			"total":    total,
		},
	})
}

// GetByID handles GET /api/:type/:id
func (h *Handler) GetByID(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}

	r, err := t.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}

	if inc := c.Query("include"); inc != "" {
		q, _, err := BuildQuery(c, t)
		if err != nil {
			return err
		}
		batch, err := q.WhereEq("_id", r.ID()).Execute(c.Context())
		if err != nil {
			return fmt.Errorf("get %s/%s: %w", t.Name(), r.ID(), err)
		}
		if batch.First() != nil {
			r = batch.First()
		}
	}

	return c.JSON(fiber.Map{"data": r.Dump()})
}

// Create handles POST /api/:type
func (h *Handler) Create(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}

	r := t.New(nil)
	for k, v := range body {
		if err := r.Set(k, v); err != nil {
			return err
		}
	}

	if err := r.Create(c.Context()); err != nil {
		return handleWriteError(t, err)
	}
	return c.Status(201).JSON(fiber.Map{"data": r.Dump()})
}

// Update handles PATCH /api/:type/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}

	r, err := t.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}

	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	for k, v := range body {
		if err := r.Set(k, v); err != nil {
			return err
		}
	}

	if err := r.Update(c.Context()); err != nil {
		return handleWriteError(t, err)
	}
	return c.JSON(fiber.Map{"data": r.Dump()})
}

// Delete handles DELETE /api/:type/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	t, err := h.resolveType(c)
	if err != nil {
		return err
	}

	r, err := t.Get(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	if err := r.Delete(c.Context()); err != nil {
		return fmt.Errorf("delete %s/%s: %w", t.Name(), c.Params("id"), err)
	}
	return c.SendStatus(204)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Register handles POST /auth/register
func (h *Handler) Register(c *fiber.Ctx) error {
	users, err := h.registry.Type("user")
	if err != nil {
		return err
	}

	var body credentials
	if err := c.BodyParser(&body); err != nil || body.Email == "" || body.Password == "" {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "email and password are required")
	}

	hash, err := HashPassword(body.Password)
	if err != nil {
		return err
	}

	r := users.New(nil)
	for k, v := range map[string]any{
		"email":         body.Email,
		"name":          body.Name,
		"password_hash": hash,
	} {
		if err := r.Set(k, v); err != nil {
			return err
		}
	}
	if err := r.Create(c.Context()); err != nil {
		return handleWriteError(users, err)
	}
	return c.Status(201).JSON(fiber.Map{"data": r.Dump()})
}

// Login handles POST /auth/login
func (h *Handler) Login(c *fiber.Ctx) error {
	users, err := h.registry.Type("user")
	if err != nil {
		return err
	}

	var body credentials
	if err := c.BodyParser(&body); err != nil || body.Email == "" || body.Password == "" {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "email and password are required")
	}

	r, err := users.Select().WhereEq("email", body.Email).First(c.Context())
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if r == nil {
		return engine.UnauthorizedError("Invalid credentials")
	}
	hash, err := r.Get(c.Context(), "password_hash")
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	hashStr, _ := hash.(string)
	if !CheckPassword(body.Password, hashStr) {
		return engine.UnauthorizedError("Invalid credentials")
	}

	ttl := time.Duration(h.cfg.Auth.TokenTTLHours) * time.Hour
	token, err := GenerateAccessToken(r.ID(), body.Email, h.cfg.Auth.JWTSecret, ttl)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"access_token": token})
}

func handleWriteError(t *engine.Type, err error) error {
	if errors.Is(err, store.ErrUniqueViolation) {
		return engine.NewAppError("CONFLICT", 409, fmt.Sprintf("%s violates a unique constraint", t.Name()))
	}
	if errors.Is(err, store.ErrNotFound) {
		return engine.NewAppError("NOT_FOUND", 404, fmt.Sprintf("%s not found", t.Name()))
	}
	return err
}
