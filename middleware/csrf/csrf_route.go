package csrf

import "github.com/gofiber/fiber/v2"

// TokenHandler returns the token the middleware stored in locals along
// with the form field and header names. Mount it behind New on a GET
// route.
func TokenHandler(contextKey ...string) fiber.Handler {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}

	return func(c *fiber.Ctx) error {
		token, _ := c.Locals(key).(string)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": ErrTokenMissing.Error(),
			})
		}

		c.Set(fiber.HeaderCacheControl, "no-store, max-age=0")
		c.Set(fiber.HeaderPragma, "no-cache")
		c.Set(fiber.HeaderExpires, "0")

		fieldName := DefaultFormFieldName
		if v, ok := c.Locals(key + "_field").(string); ok && v != "" {
			fieldName = v
		}

		headerName := DefaultHeaderName
		if v, ok := c.Locals(key + "_header").(string); ok && v != "" {
			headerName = v
		}

		return c.JSON(fiber.Map{
			"token":       token,
			"field_name":  fieldName,
			"header_name": headerName,
		})
	}
}
