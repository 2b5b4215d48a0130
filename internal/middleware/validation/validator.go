package validation

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// SanitizedQueryKey holds the cleaned question text in fiber locals.
const SanitizedQueryKey = "sanitized_query"

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	// QueryPaths are the POST routes whose JSON body carries a "query" field.
	QueryPaths          []string
	AllowedContentTypes []string
	Logger              *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if len(cfg.QueryPaths) == 0 {
		cfg.QueryPaths = []string{"/api/v1/nlq"}
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{fiber.MIMEApplicationJSON}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" && !allowedType(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"success": false,
					"error":   "Unsupported content type",
				})
			}
		}

		if c.Method() != fiber.MethodPost || !matchesPath(c.Path(), cfg.QueryPaths) {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid JSON format",
			})
		}

		raw, present := req["query"]
		if !present {
			return c.Next()
		}
		query, ok := raw.(string)
		if !ok {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "query must be a string",
			})
		}

		if containsXSS(query) {
			cfg.Logger.Warn("Potential XSS attempt",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "Invalid query content",
			})
		}

		c.Locals(SanitizedQueryKey, Sanitize(query))
		return c.Next()
	}
}

func allowedType(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func matchesPath(path string, paths []string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, p := range paths {
		if path == p {
			return true
		}
	}
	return false
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

// Sanitize trims the input and drops control characters other than
// whitespace.
func Sanitize(input string) string {
	input = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(input)
}
