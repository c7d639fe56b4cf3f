package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

// ContentService is the subset of content.Manager the access point needs. It
// allows injecting fakes during tests.
type ContentService interface {
	Retrieve(ctx context.Context, key store.StoreKey, path string) (*transfer.Transfer, error)
	Store(ctx context.Context, key store.StoreKey, path string, body io.Reader) (*transfer.Transfer, error)
	Delete(ctx context.Context, key store.StoreKey, path string) (bool, error)
	List(ctx context.Context, key store.StoreKey, dir string) ([]transfer.Resource, error)
	Digest(ctx context.Context, key store.StoreKey, path string, algs ...digest.Algorithm) (*digest.Record, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Content    ContentService
	ListenPort int
	// BodyLimit caps upload size in bytes; 0 uses defaultBodyLimit.
	BodyLimit int
}

const (
	contextKeyRequestID = "_contenthub_request_id"

	defaultBodyLimit = 512 << 20
)

// NewApp builds a Fiber application with request-id middleware, content
// routes and structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Content == nil {
		return nil, errors.New("content service is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	limit := opts.BodyLimit
	if limit <= 0 {
		limit = defaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     limit,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &contentHandler{content: opts.Content, logger: opts.Logger}
	const target = "/:pkg/:type/:name/*"
	app.Get("/api/content"+target, h.get)
	app.Head("/api/content"+target, h.get)
	app.Put("/api/content"+target, h.put)
	app.Delete("/api/content"+target, h.delete)
	app.Get("/api/digest"+target, h.digest)
	app.Get("/api/browse"+target, h.browse)

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID，并写入响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDirectoryRequest(c fiber.Ctx) bool {
	return strings.HasSuffix(string(c.Request().URI().Path()), "/")
}
