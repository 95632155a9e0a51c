package middleware

import (
	"errors"
	"time"

	"bytetrade.io/web3os/upload-gateway/pkg/upload/models"

	"github.com/gofiber/fiber/v2"
	"k8s.io/klog/v2"
)

// RequestLogger logs one line per request at verbosity 2.
func RequestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		klog.V(2).Infof("%s %s status:%d, took:%v, err:%v",
			c.Method(), c.OriginalURL(), c.Response().StatusCode(), time.Since(start), err)
		return err
	}
}

// ErrorHandler renders errors that reach fiber, e.g. unknown routes or
// oversized bodies, in the same envelope as the handlers' own errors.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		msg = e.Message
	} else {
		klog.Errorf("%s %s, err:%v", c.Method(), c.OriginalURL(), err)
	}

	return c.Status(code).JSON(models.NewResponse(models.CodeError, msg, nil))
}
