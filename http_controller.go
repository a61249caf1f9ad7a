package auth

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
)

const registeredMessage = "User registered successfully! You need to pay for a membership to become a member."

// AuthControllerRoutes are mounted relative to the router passed to
// RegisterAuthRoutes
type AuthControllerRoutes struct {
	Login    string
	Logout   string
	Register string
	Refresh  string
	Profile  string
	Me       string
	UserRole string
}

// AuthController serves the login, registration, refresh and profile
// endpoints
type AuthController struct {
	Debug   bool
	Logger  Logger
	Auther  *Auther
	HTTP    *RouteAuthenticator
	Limiter *RateLimiter
	Routes  *AuthControllerRoutes
	// LoginRedirect is the default landing page after a form login
	LoginRedirect string
}

type AuthControllerOption func(*AuthController) *AuthController

// WithControllerLogger sets the controller logger
func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if logger != nil {
			ac.Logger = logger
		}
		return ac
	}
}

// WithRateLimiter guards login and registration
func WithRateLimiter(rl *RateLimiter) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Limiter = rl
		return ac
	}
}

// WithLoginRedirect sets the landing page used after a form login
func WithLoginRedirect(path string) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		if path != "" {
			ac.LoginRedirect = path
		}
		return ac
	}
}

// WithDebug logs request payloads
func WithDebug(debug bool) AuthControllerOption {
	return func(ac *AuthController) *AuthController {
		ac.Debug = debug
		return ac
	}
}

// NewAuthController creates the controller. It panics when required
// collaborators are missing.
func NewAuthController(auther *Auther, httpAuth *RouteAuthenticator, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger(),
		Auther: auther,
		HTTP:   httpAuth,
		Routes: &AuthControllerRoutes{
			Login:    "/login",
			Logout:   "/logout",
			Register: "/register",
			Refresh:  "/token/refresh",
			Profile:  "/profile",
			Me:       "/users/me",
			UserRole: "/users/:id/role",
		},
		LoginRedirect: "/dashboard",
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auther == nil {
		panic("Missing Auther in auth controller...")
	}

	if c.HTTP == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the controller on r
func RegisterAuthRoutes(r fiber.Router, controller *AuthController) {
	limited := []fiber.Handler{}
	if controller.Limiter != nil {
		limited = append(limited, controller.Limiter.Middleware())
	}

	r.Post(controller.Routes.Register, append(limited, controller.RegistrationCreate)...).
		Name("register.post")
	r.Post(controller.Routes.Login, append(limited, controller.LoginPost)...).
		Name("sign-in.post")
	r.Post(controller.Routes.Logout, controller.LogOut).
		Name("sign-out.post")
	r.Post(controller.Routes.Refresh, controller.RefreshPost).
		Name("token-refresh.post")

	r.Get(controller.Routes.Profile, controller.HTTP.Protect(controller.ProfileGet)).
		Name("profile.get")
	r.Get(controller.Routes.Me, controller.HTTP.Protect(controller.MeGet)).
		Name("users-me.get")
	r.Put(controller.Routes.UserRole, controller.HTTP.Protect(controller.UserRoleUpdate, AdminOnly)).
		Name("user-role.put")
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
	if err != nil {
		return DeriveError(ErrValidation, "Email and password are required", err)
	}
	return nil
}

// LoginResponse is returned by a JSON login
type LoginResponse struct {
	TokenPair
	Token   string `json:"token"`
	Role    Role   `json:"role"`
	Message string `json:"message"`
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.HTTP.HandleError(c, DeriveError(ErrValidation, "Email and password are required", err))
	}

	if err := payload.Validate(); err != nil {
		return a.HTTP.HandleError(c, err)
	}

	if a.Debug {
		a.Logger.Debug("login request", "email", payload.Email)
	}

	result, err := a.Auther.Login(c.UserContext(), payload.Email, payload.Password)
	if err != nil {
		return a.HTTP.HandleError(c, err)
	}

	// a session from a previous login would win over the new token
	a.HTTP.ForgetSession(c)
	a.HTTP.SetTokenCookie(c, result.AccessToken, result.ExpiresAt)

	if isFormPost(c) {
		redirect := a.HTTP.GetRedirectOrDefault(c, a.LoginRedirect)
		a.Logger.Debug("login redirect", "to", redirect)
		return c.Redirect(redirect, fiber.StatusSeeOther)
	}

	return c.JSON(LoginResponse{
		TokenPair: result.TokenPair,
		Token:     result.AccessToken,
		Role:      result.Identity.Role,
		Message:   "Login successful",
	})
}

func (a *AuthController) LogOut(c *fiber.Ctx) error {
	var identity *Identity
	sessionKey := a.HTTP.SessionKey(c)
	if res, err := a.HTTP.Authenticate(c); err == nil {
		identity = &res.Identity
		sessionKey = res.SessionKey
	}

	if err := a.Auther.Logout(c.UserContext(), sessionKey, identity); err != nil {
		return a.HTTP.HandleError(c, err)
	}

	a.HTTP.ClearAuthCookies(c)

	if isFormPost(c) {
		return c.Redirect(a.HTTP.Options().LoginPath, fiber.StatusSeeOther)
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

// RefreshRequest payload. The token may also be sent as a bearer header.
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

func (a *AuthController) RefreshPost(c *fiber.Ctx) error {
	payload := new(RefreshRequest)
	if len(c.Body()) > 0 {
		if err := c.BodyParser(payload); err != nil {
			return a.HTTP.HandleError(c, WrapError(ErrMalformedCredential, err))
		}
	}

	token := strings.TrimSpace(payload.RefreshToken)
	if token == "" {
		token = bearerToken(c)
	}
	if token == "" {
		return a.HTTP.HandleError(c, ErrMissingCredential)
	}

	result, err := a.Auther.Refresh(c.UserContext(), token)
	if err != nil {
		return a.HTTP.HandleError(c, err)
	}

	return c.JSON(result.TokenPair)
}

// RegistrationCreate handles POST register
func (a *AuthController) RegistrationCreate(c *fiber.Ctx) error {
	payload := new(RegisterInput)
	if err := c.BodyParser(payload); err != nil {
		return a.HTTP.HandleError(c, DeriveError(ErrValidation, "Missing required fields", err))
	}

	if a.Debug {
		a.Logger.Debug("register request", "payload", print.MaybePrettyJSON(RegisterInput{
			Name:        payload.Name,
			Email:       payload.Email,
			Phone:       payload.Phone,
			AutoPayment: payload.AutoPayment,
		}))
	}

	user, err := a.Auther.Register(c.UserContext(), *payload)
	if err != nil {
		return a.HTTP.HandleError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": registeredMessage,
		"id":      user.ID,
	})
}

func (a *AuthController) ProfileGet(c *fiber.Ctx, identity Identity) error {
	user, err := a.Auther.Profile(c.UserContext(), identity)
	if err != nil {
		return a.HTTP.HandleError(c, err)
	}
	return c.JSON(user)
}

func (a *AuthController) MeGet(c *fiber.Ctx, identity Identity) error {
	return c.JSON(identity)
}

// RoleUpdateRequest payload
type RoleUpdateRequest struct {
	Role string `form:"role" json:"role"`
}

// Validate checks the role is one of the known roles
func (r RoleUpdateRequest) Validate() error {
	roles := make([]any, 0, len(GetAllRoles()))
	for _, role := range GetAllRoles() {
		roles = append(roles, string(role))
	}
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Role, validation.Required, validation.In(roles...)),
	)
	if err != nil {
		return DeriveError(ErrValidation, "Invalid role", err)
	}
	return nil
}

func (a *AuthController) UserRoleUpdate(c *fiber.Ctx, identity Identity) error {
	payload := new(RoleUpdateRequest)
	if err := c.BodyParser(payload); err != nil {
		return a.HTTP.HandleError(c, DeriveError(ErrValidation, "Invalid role", err))
	}

	if err := payload.Validate(); err != nil {
		return a.HTTP.HandleError(c, err)
	}

	userID := c.Params("id")
	role := Role(payload.Role)
	if err := a.Auther.ChangeRole(c.UserContext(), identity, userID, role); err != nil {
		return a.HTTP.HandleError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("User %s role updated to %s.", userID, role),
	})
}

func isFormPost(c *fiber.Ctx) bool {
	ct := string(c.Request().Header.ContentType())
	return strings.HasPrefix(ct, fiber.MIMEApplicationForm) || strings.HasPrefix(ct, fiber.MIMEMultipartForm)
}

func bearerToken(c *fiber.Ctx) string {
	h := c.Get(fiber.HeaderAuthorization)
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
