package user

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/helpably/volunteerhub/internal/config"
)

// Mailer is the outbound email surface the handlers consume. Dispatch is
// fire-and-forget: errors are logged and never fail the request.
type Mailer interface {
	SendNewAccountEmail(to, username, token string) error
	SendNewAccountInfo(to, username, fullName, about string) error
	SendWelcomeEmail(to, username string) error
}

// TokenCodec issues and verifies the registration verification tokens.
type TokenCodec interface {
	Issue(userID string) (string, error)
	Decode(token string) (string, error)
}

type Handler struct {
	Store  Store
	Mailer Mailer
	Tokens TokenCodec
	Cfg    config.Config
}

func NewHandler(store Store, mailer Mailer, tokens TokenCodec, cfg config.Config) *Handler {
	return &Handler{Store: store, Mailer: mailer, Tokens: tokens, Cfg: cfg}
}

const (
	msgInvalidToken  = "There was an error validating the provided token."
	msgTokenNotFound = "User with provided token not found."
)

// GET /users/
func (h *Handler) ListUsers(c echo.Context) error {
	skip := 0
	if v := c.QueryParam("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid skip parameter"})
		}
		skip = n
	}
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit parameter"})
		}
		limit = n
	}

	users, err := h.Store.List(c.Request().Context(), skip, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch users"})
	}
	if users == nil {
		users = []User{}
	}
	return c.JSON(http.StatusOK, users)
}

type CreateUserRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	FullName        string `json:"full_name"`
	IsHospitalStaff bool   `json:"is_hospital_staff"`
	IsSuperuser     bool   `json:"is_superuser"`
	IsActive        *bool  `json:"is_active"`
}

// POST /users/
func (h *Handler) CreateUser(c echo.Context) error {
	req := new(CreateUserRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password are required"})
	}

	ctx := c.Request().Context()
	existing, err := h.Store.GetByEmail(ctx, req.Email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not check email"})
	}
	if existing != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "The user with this email already exists in the system."})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server error"})
	}

	u := &User{
		Email:           req.Email,
		FullName:        req.FullName,
		HashedPassword:  string(hashed),
		IsHospitalStaff: req.IsHospitalStaff,
		IsSuperuser:     req.IsSuperuser,
		IsActive:        true,
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}
	if err := h.Store.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "The user with this email already exists in the system."})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create user"})
	}
	return c.JSON(http.StatusOK, u)
}

type UpdateMeRequest struct {
	Password *string `json:"password"`
	FullName *string `json:"full_name"`
	Email    *string `json:"email"`
}

// PUT /users/me
//
// Only the supplied fields overwrite the caller's record; everything else
// survives the round-trip untouched. Unknown fields are rejected.
func (h *Handler) UpdateMe(c echo.Context) error {
	current := c.Get("current_user").(*User)

	req := new(UpdateMeRequest)
	if err := bindStrict(c, req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	updated := *current
	if req.Password != nil {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server error"})
		}
		updated.HashedPassword = string(hashed)
	}
	if req.FullName != nil {
		updated.FullName = *req.FullName
	}
	if req.Email != nil {
		updated.Email = *req.Email
	}

	if err := h.Store.Update(c.Request().Context(), &updated); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "The user with this email already exists in the system."})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update profile"})
	}
	return c.JSON(http.StatusOK, &updated)
}

// GET /users/me
func (h *Handler) ReadMe(c echo.Context) error {
	return c.JSON(http.StatusOK, c.Get("current_user").(*User))
}

type OpenRegistrationRequest struct {
	Password        string `json:"password"`
	Email           string `json:"email"`
	FullName        string `json:"full_name"`
	IsHospitalStaff bool   `json:"is_hospital_staff"`
	About           string `json:"about"`
}

// POST /users/open
func (h *Handler) CreateUserOpen(c echo.Context) error {
	if !h.Cfg.UsersOpenRegistration {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "Open user registration is forbidden on this server."})
	}

	req := new(OpenRegistrationRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	if req.Email == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password are required"})
	}

	ctx := c.Request().Context()
	existing, err := h.Store.GetByEmail(ctx, req.Email)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not check email"})
	}
	if existing != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "The user with this email already exists in the system"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server error"})
	}

	// The about text travels only in the operator notification below; it is
	// not a column on the user record.
	u := &User{
		Email:           req.Email,
		FullName:        req.FullName,
		HashedPassword:  string(hashed),
		IsHospitalStaff: req.IsHospitalStaff,
		IsActive:        true,
	}
	if err := h.Store.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "The user with this email already exists in the system"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create user"})
	}

	verification, err := h.Tokens.Issue(u.ID)
	if err != nil {
		log.Printf("failed to issue verification token for %s: %v", u.ID, err)
		return c.JSON(http.StatusOK, u)
	}
	if err := h.Mailer.SendNewAccountEmail(u.Email, u.Email, verification); err != nil {
		log.Printf("new account email for %s not sent: %v", u.Email, err)
	}
	if err := h.Mailer.SendNewAccountInfo(h.Cfg.EmailsFromEmail, u.Email, req.FullName, req.About); err != nil {
		log.Printf("new account info for %s not sent: %v", u.Email, err)
	}
	return c.JSON(http.StatusOK, u)
}

// PUT /users/confirm-registration/:token
func (h *Handler) ConfirmRegistration(c echo.Context) error {
	userID, err := h.Tokens.Decode(c.Param("token"))
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"msg": msgInvalidToken})
	}

	ctx := c.Request().Context()
	u, err := h.Store.GetByID(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load user"})
	}
	if u == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"msg": msgTokenNotFound})
	}

	u.IsVerified = true
	u.IsVolunteer = true
	if err := h.Store.Update(ctx, u); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update user"})
	}
	if err := h.Mailer.SendWelcomeEmail(u.Email, u.Email); err != nil {
		log.Printf("welcome email for %s not sent: %v", u.Email, err)
	}
	return c.JSON(http.StatusOK, u)
}

// DELETE /users/cancel-registration/:token
//
// Registration abandonment, not general account deletion: reachable only
// through the same token that confirm uses. The response carries the last
// known state of the now-deleted record.
func (h *Handler) CancelRegistration(c echo.Context) error {
	userID, err := h.Tokens.Decode(c.Param("token"))
	if err != nil {
		return c.JSON(http.StatusForbidden, echo.Map{"msg": msgInvalidToken})
	}

	ctx := c.Request().Context()
	u, err := h.Store.GetByID(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load user"})
	}
	if u == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"msg": msgTokenNotFound})
	}

	snapshot := *u
	if err := h.Store.Remove(ctx, u.ID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete user"})
	}
	return c.JSON(http.StatusOK, &snapshot)
}

// GET /users/:user_id
func (h *Handler) ReadUserByID(c echo.Context) error {
	current := c.Get("current_user").(*User)
	userID := c.Param("user_id")

	if userID == current.ID {
		return c.JSON(http.StatusOK, current)
	}
	if !current.IsSuperuser {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "The user doesn't have enough privileges."})
	}

	u, err := h.Store.GetByID(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load user"})
	}
	if u == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "user not found"})
	}
	return c.JSON(http.StatusOK, u)
}

type UpdateUserRequest struct {
	Email           *string `json:"email"`
	Password        *string `json:"password"`
	FullName        *string `json:"full_name"`
	IsHospitalStaff *bool   `json:"is_hospital_staff"`
	IsSuperuser     *bool   `json:"is_superuser"`
	IsActive        *bool   `json:"is_active"`
}

// PUT /users/:user_id
func (h *Handler) UpdateUser(c echo.Context) error {
	req := new(UpdateUserRequest)
	if err := bindStrict(c, req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	ctx := c.Request().Context()
	u, err := h.Store.GetByID(ctx, c.Param("user_id"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load user"})
	}
	if u == nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "The user with this id does not exist in the system"})
	}

	if req.Email != nil {
		u.Email = *req.Email
	}
	if req.Password != nil {
		hashed, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "server error"})
		}
		u.HashedPassword = string(hashed)
	}
	if req.FullName != nil {
		u.FullName = *req.FullName
	}
	if req.IsHospitalStaff != nil {
		u.IsHospitalStaff = *req.IsHospitalStaff
	}
	if req.IsSuperuser != nil {
		u.IsSuperuser = *req.IsSuperuser
	}
	if req.IsActive != nil {
		u.IsActive = *req.IsActive
	}

	if err := h.Store.Update(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "The user with this email already exists in the system."})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update user"})
	}
	return c.JSON(http.StatusOK, u)
}

// bindStrict decodes the JSON body rejecting fields the patch shape doesn't
// declare, so a typoed field name fails loudly instead of silently no-oping.
func bindStrict(c echo.Context, v interface{}) error {
	dec := json.NewDecoder(c.Request().Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
