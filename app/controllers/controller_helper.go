package controllers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/seranking/paygate/internal/pkg/apperr"
)

var validate = validator.New()

// errorCode maps a status to the machine-readable error slug used in JSON
// bodies alongside the human-readable message.
func errorCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return "bad_request"
	case fiber.StatusUnauthorized:
		return "unauthorized"
	case fiber.StatusNotFound:
		return "not_found"
	case fiber.StatusTooManyRequests:
		return "rate_limited"
	case fiber.StatusBadGateway:
		return "upstream_error"
	case fiber.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal_server_error"
	}
}

// respondError renders a classified error. Expected rejections come out with
// their own status and reason string; anything else is a 500 and the cause
// goes to the log, not the client.
func respondError(c *fiber.Ctx, err error) error {
	if !apperr.IsExpected(err) {
		log.Printf("request_failed path=%s error=%v", c.Path(), err)
	}
	status := apperr.StatusOf(err)
	return c.Status(status).JSON(fiber.Map{
		"error":   errorCode(status),
		"message": apperr.MessageOf(err),
	})
}

// parseBody decodes and validates a JSON request body.
func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return apperr.Validation("Invalid request body").WithErr(err)
	}
	if err := validate.Struct(out); err != nil {
		return apperr.Validation("Invalid request body").WithErr(err)
	}
	return nil
}
