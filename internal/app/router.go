package app

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"loom-backend/internal/config"
	"loom-backend/internal/engine"
)

// New assembles the Fiber application: error handling, request logging,
// auth routes and the dynamic resource routes.
func New(reg *engine.Registry, cfg *config.Config) *fiber.App {
	fa := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	fa.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	fa.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	fa.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	h := NewHandler(reg, cfg)

	fa.Post("/auth/register", h.Register)
	fa.Post("/auth/login", h.Login)

	authMW := AuthMiddleware(cfg.Auth.JWTSecret)
	api := fa.Group("/api", authMW)
	api.Get("/:type", h.List)
	api.Get("/:type/:id", h.GetByID)
	api.Post("/:type", h.Create)
	api.Patch("/:type/:id", h.Update)
	api.Delete("/:type/:id", h.Delete)

	return fa
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
