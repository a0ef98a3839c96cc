package auth

import (
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
)

// LoginRequest is the payload for the login form. Username is accepted
// as an alias for Email; accounts are always looked up by email.
type LoginRequest struct {
	Email    string `json:"email" form:"email"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Identifier returns Email, falling back to Username
func (r LoginRequest) Identifier() string {
	if r.Email != "" {
		return r.Email
	}
	return r.Username
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	r.Email = r.Identifier()
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

// RefreshRequest carries a refresh token to exchange
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

// Validate will run validation rules
func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// LoginResponse is the body of a successful login
type LoginResponse struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         *User     `json:"user"`
}

// TokenResponse is the body of a token exchange
type TokenResponse struct {
	AccessToken string    `json:"access_token,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (a *RouteAuthenticator) RegisterPost(c *fiber.Ctx) error {
	payload := new(RegistrationRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, newError(ErrValidation, err, map[string]any{"field": "body"}))
	}

	user, err := a.registry.Register(c.UserContext(), *payload)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(user)
}

func (a *RouteAuthenticator) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, newError(ErrValidation, err, map[string]any{"field": "body"}))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(c, validationError(err))
	}

	result, err := a.auth.Login(c.UserContext(), payload.Identifier(), payload.Password)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	a.setCookieToken(c, result.Access.Token, result.Access.ExpiresAt)

	res := LoginResponse{
		ExpiresAt: result.Access.ExpiresAt,
		User:      result.User,
	}
	if a.cfg.GetExposeBearer() {
		res.AccessToken = result.Access.Token
	}
	if result.Refresh != nil {
		res.RefreshToken = result.Refresh.Token
	}

	return c.JSON(res)
}

func (a *RouteAuthenticator) LogoutPost(c *fiber.Ctx) error {
	raw := a.rawToken(c)
	if raw == "" {
		return a.ErrorHandler(c, newError(ErrInvalidSignature, nil, map[string]any{"reason": "missing token"}))
	}

	receipt, err := a.auth.Logout(c.UserContext(), raw)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	a.cookieDel(c)
	return c.JSON(receipt)
}

func (a *RouteAuthenticator) RefreshPost(c *fiber.Ctx) error {
	payload := new(RefreshRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, newError(ErrValidation, err, map[string]any{"field": "body"}))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(c, validationError(err))
	}

	token, err := a.auth.Exchange(c.UserContext(), payload.RefreshToken)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	a.setCookieToken(c, token.Token, token.ExpiresAt)

	res := TokenResponse{ExpiresAt: token.ExpiresAt}
	if a.cfg.GetExposeBearer() {
		res.AccessToken = token.Token
	}
	return c.JSON(res)
}

func (a *RouteAuthenticator) ConfirmGet(c *fiber.Ctx) error {
	user, err := a.auth.ConfirmEmail(c.UserContext(), c.Params("token"))
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Email confirmed",
		"user":    user,
	})
}

func (a *RouteAuthenticator) MeGet(c *fiber.Ctx) error {
	claims, ok := GetFiberClaims(c, a.cfg.GetContextKey())
	if !ok {
		return a.ErrorHandler(c, newError(ErrInvalidSignature, nil, nil))
	}

	body := fiber.Map{"claims": claims}
	if user, ok := UserFromContext(c.UserContext()); ok {
		body["user"] = user
		body["identity"] = NewIdentityFromUser(user)
	}

	return c.JSON(body)
}

func (a *RouteAuthenticator) MePatch(c *fiber.Ctx) error {
	user, ok := UserFromContext(c.UserContext())
	if !ok {
		return a.ErrorHandler(c, newError(ErrInvalidSignature, nil, nil))
	}

	payload := new(ProfileUpdate)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, newError(ErrValidation, err, map[string]any{"field": "body"}))
	}

	updated, err := a.registry.UpdateProfile(c.UserContext(), user.ID, *payload)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.JSON(updated)
}

// RoleRequest is the payload for changing a user's role
type RoleRequest struct {
	Role UserRole `json:"type_of_user" form:"type_of_user"`
}

func (a *RouteAuthenticator) UserRolePut(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return a.ErrorHandler(c, newError(ErrValidation, err, map[string]any{"field": "id"}))
	}

	payload := new(RoleRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.ErrorHandler(c, newError(ErrValidation, err, map[string]any{"field": "body"}))
	}

	user, err := a.registry.SetRole(c.UserContext(), id, payload.Role)
	if err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.JSON(user)
}

// UsersGet lists users. ?type_of_user= filters by role and ?username=
// returns the matching user only.
func (a *RouteAuthenticator) UsersGet(c *fiber.Ctx) error {
	if username := c.Query("username"); username != "" {
		user, err := a.registry.GetByUsername(c.UserContext(), username)
		if err != nil {
			return a.ErrorHandler(c, err)
		}
		return c.JSON(fiber.Map{"users": []*User{user}})
	}

	var role *UserRole
	if raw := c.Query("type_of_user"); raw != "" {
		r := UserRole(raw)
		role = &r
	}

	users, err := a.registry.List(c.UserContext(), role)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(fiber.Map{"users": users})
}

func (a *RouteAuthenticator) UserGet(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return a.ErrorHandler(c, newError(ErrValidation, err, map[string]any{"field": "id"}))
	}

	user, err := a.registry.GetByID(c.UserContext(), id)
	if err != nil {
		return a.ErrorHandler(c, err)
	}
	return c.JSON(user)
}

func (a *RouteAuthenticator) UserDelete(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return a.ErrorHandler(c, newError(ErrValidation, err, map[string]any{"field": "id"}))
	}

	if err := a.registry.Delete(c.UserContext(), id); err != nil {
		return a.ErrorHandler(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
