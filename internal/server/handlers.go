package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/content-hub/internal/content"
	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/logging"
	"github.com/any-hub/content-hub/internal/store"
)

var errInvalidTarget = errors.New("invalid store key")

type contentHandler struct {
	content ContentService
	logger  *logrus.Logger
}

func (h *contentHandler) get(c fiber.Ctx) error {
	if isDirectoryRequest(c) {
		return h.browse(c)
	}
	started := time.Now()
	key, p, err := target(c)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}
	ctx := requestContext(c)

	t, err := h.content.Retrieve(ctx, key, p)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}
	result, err := t.Open(ctx)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}

	c.Set("Content-Type", contentType(t.Path))
	c.Response().Header.SetContentLength(int(result.Entry.SizeBytes))
	c.Set("Last-Modified", result.Entry.ModTime.UTC().Format(http.TimeFormat))
	c.Set("X-Content-Hub-Origin", t.Origin.String())
	c.Set("X-Content-Hub-Generated", strconv.FormatBool(t.Generated))
	if t.WriteLocked() {
		c.Set("X-Content-Hub-Write-Locked", "true")
	}
	c.Status(fiber.StatusOK)

	if c.Method() == http.MethodHead {
		result.Reader.Close()
		h.logResult(c, key, p, fiber.StatusOK, t.Generated, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), result.Reader)
	result.Reader.Close()
	h.logResult(c, key, p, fiber.StatusOK, t.Generated, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, fmt.Sprintf("read content failed: %v", err))
	}
	return nil
}

func (h *contentHandler) put(c fiber.Ctx) error {
	started := time.Now()
	key, p, err := target(c)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}
	if p == "" || isDirectoryRequest(c) {
		return h.fail(c, key, p, started, fmt.Errorf("%w: upload path must name a file", store.ErrPolicyViolation))
	}

	t, err := h.content.Store(requestContext(c), key, p, bytes.NewReader(c.Body()))
	if err != nil {
		return h.fail(c, key, p, started, err)
	}
	h.logResult(c, key, p, fiber.StatusCreated, false, started, nil)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"store": t.Origin.String(),
		"path":  t.Path,
	})
}

func (h *contentHandler) delete(c fiber.Ctx) error {
	started := time.Now()
	key, p, err := target(c)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}

	deleted, err := h.content.Delete(requestContext(c), key, p)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}
	if !deleted {
		h.logResult(c, key, p, fiber.StatusNotFound, false, started, nil)
		return writeError(c, fiber.StatusNotFound, "not_found")
	}
	h.logResult(c, key, p, fiber.StatusNoContent, false, started, nil)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *contentHandler) digest(c fiber.Ctx) error {
	started := time.Now()
	key, p, err := target(c)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}
	algs := digest.DefaultAlgorithms
	if raw := strings.TrimSpace(c.Query("alg")); raw != "" {
		algs, err = digest.ParseAlgorithms(strings.Split(raw, ","))
		if err != nil {
			h.logResult(c, key, p, fiber.StatusBadRequest, false, started, err)
			return writeError(c, fiber.StatusBadRequest, "unsupported_algorithm")
		}
	}

	rec, err := h.content.Digest(requestContext(c), key, p, algs...)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}
	checksums := make(map[string]string, len(algs))
	for _, alg := range algs {
		if sum, ok := rec.Checksum(alg); ok {
			checksums[string(alg)] = sum
		}
	}
	h.logResult(c, key, p, fiber.StatusOK, false, started, nil)
	return c.JSON(fiber.Map{
		"store":         key.String(),
		"path":          p,
		"size":          rec.Size,
		"last_modified": rec.LastModified,
		"checksums":     checksums,
	})
}

func (h *contentHandler) browse(c fiber.Ctx) error {
	started := time.Now()
	key, p, err := target(c)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}

	items, err := h.content.List(requestContext(c), key, p)
	if err != nil {
		return h.fail(c, key, p, started, err)
	}
	h.logResult(c, key, p, fiber.StatusOK, false, started, nil)
	return c.JSON(fiber.Map{
		"store": key.String(),
		"path":  p,
		"items": items,
	})
}

// fail 将错误分类映射为状态码并输出 JSON 错误体。
func (h *contentHandler) fail(c fiber.Ctx, key store.StoreKey, p string, started time.Time, err error) error {
	status, code := statusFor(err)
	h.logResult(c, key, p, status, false, started, err)
	return writeError(c, status, code)
}

func (h *contentHandler) logResult(c fiber.Ctx, key store.StoreKey, p string, status int, generated bool, started time.Time, err error) {
	fields := logging.RequestFields(RequestID(c), c.Method(), key.String(), p, status, generated)
	fields["action"] = "access"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	switch {
	case err != nil && status >= fiber.StatusInternalServerError:
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("request_failed")
	case err != nil:
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Warn("request_rejected")
	default:
		h.logger.WithFields(fields).Info("request_complete")
	}
}

// statusFor 按错误分类返回 HTTP 状态码与错误码。
func statusFor(err error) (int, string) {
	if errors.Is(err, errInvalidTarget) {
		return fiber.StatusBadRequest, "invalid_store_key"
	}
	switch content.KindOf(err) {
	case content.KindNotFound:
		return fiber.StatusNotFound, "not_found"
	case content.KindPolicyViolation:
		if errors.Is(err, content.ErrRemoteReadOnly) || errors.Is(err, content.ErrNoWritableMember) {
			return fiber.StatusMethodNotAllowed, "write_not_allowed"
		}
		return fiber.StatusBadRequest, "policy_violation"
	case content.KindTopology:
		return fiber.StatusConflict, "topology_error"
	case content.KindTransportFault:
		return fiber.StatusBadGateway, "upstream_failed"
	case content.KindGenerationFault:
		return fiber.StatusInternalServerError, "generation_failed"
	}
	return fiber.StatusInternalServerError, "storage_fault"
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

// target 从路由参数解析仓库键与逻辑路径。
func target(c fiber.Ctx) (store.StoreKey, string, error) {
	key := store.NewKey(c.Params("pkg"), store.StoreType(c.Params("type")), c.Params("name"))
	if key.PackageType == "" || key.Name == "" || !key.Type.Valid() {
		return key, "", fmt.Errorf("%w: %s", errInvalidTarget, key)
	}
	return key, strings.Trim(c.Params("*"), "/"), nil
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	switch {
	case path.Base(p) == "package.json":
		return "application/json"
	case strings.HasSuffix(p, "@v/list"):
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}
