package user_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/helpably/volunteerhub/internal/config"
	mware "github.com/helpably/volunteerhub/internal/middleware"
	"github.com/helpably/volunteerhub/internal/token"
	"github.com/helpably/volunteerhub/internal/user"
)

const testSecret = "test-secret"

// fakeStore is a map-backed Store for handler tests.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*user.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*user.User{}}
}

func (s *fakeStore) GetByID(_ context.Context, id string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) GetByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) List(_ context.Context, skip, limit int) ([]user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []user.User
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if skip >= len(out) {
		return []user.User{}, nil
	}
	out = out[skip:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Create(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return user.ErrDuplicateEmail
		}
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *fakeStore) Update(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return fmt.Errorf("no rows updated")
	}
	for id, existing := range s.users {
		if id != u.ID && existing.Email == u.Email {
			return user.ErrDuplicateEmail
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *fakeStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

type sentEmail struct {
	kind     string
	to       string
	username string
	fullName string
	about    string
	token    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentEmail
}

func (m *fakeMailer) SendNewAccountEmail(to, username, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{kind: "new_account", to: to, username: username, token: token})
	return nil
}

func (m *fakeMailer) SendNewAccountInfo(to, username, fullName, about string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{kind: "new_account_info", to: to, username: username, fullName: fullName, about: about})
	return nil
}

func (m *fakeMailer) SendWelcomeEmail(to, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEmail{kind: "welcome", to: to, username: username})
	return nil
}

func (m *fakeMailer) byKind(kind string) []sentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentEmail
	for _, s := range m.sent {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type env struct {
	e      *echo.Echo
	store  *fakeStore
	mailer *fakeMailer
	codec  *token.Codec
	cfg    config.Config
}

// newEnv mirrors the route wiring in cmd/api/main.go against fakes.
func newEnv(openRegistration bool) *env {
	cfg := config.Config{
		JWTSecret:             testSecret,
		SessionTokenTTL:       time.Hour,
		UsersOpenRegistration: openRegistration,
		EmailTokenTTL:         time.Hour,
		EmailsFromEmail:       "info@volunteerhub.test",
		ProjectName:           "VolunteerHub",
	}
	store := newFakeStore()
	mailer := &fakeMailer{}
	codec := token.NewCodec(cfg.JWTSecret, cfg.EmailTokenTTL)
	h := user.NewHandler(store, mailer, codec, cfg)

	e := echo.New()
	e.POST("/users/open", h.CreateUserOpen)
	e.PUT("/users/confirm-registration/:token", h.ConfirmRegistration)
	e.DELETE("/users/cancel-registration/:token", h.CancelRegistration)

	me := e.Group("/users")
	me.Use(mware.JWTAuth(cfg.JWTSecret))
	me.Use(mware.RequireActiveUser(store))
	me.GET("/me", h.ReadMe)
	me.PUT("/me", h.UpdateMe)
	me.GET("/:user_id", h.ReadUserByID)

	admin := e.Group("/users")
	admin.Use(mware.JWTAuth(cfg.JWTSecret))
	admin.Use(mware.RequireActiveUser(store))
	admin.Use(mware.RequireSuperuser)
	admin.GET("/", h.ListUsers)
	admin.POST("/", h.CreateUser)
	admin.PUT("/:user_id", h.UpdateUser)

	return &env{e: e, store: store, mailer: mailer, codec: codec, cfg: cfg}
}

func (te *env) seedUser(t *testing.T, email, password string, superuser, active bool) *user.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	u := &user.User{
		Email:          email,
		FullName:       "Seeded User",
		HashedPassword: string(hashed),
		IsSuperuser:    superuser,
		IsActive:       active,
	}
	require.NoError(t, te.store.Create(context.Background(), u))
	return u
}

func sessionToken(t *testing.T, userID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (te *env) do(method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	te.e.ServeHTTP(w, req)
	return w
}

func decodeUser(t *testing.T, w *httptest.ResponseRecorder) user.User {
	t.Helper()
	var u user.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	return u
}

func TestListUsers_RequiresSuperuser(t *testing.T) {
	te := newEnv(true)
	regular := te.seedUser(t, "regular@example.com", "secret", false, true)
	admin := te.seedUser(t, "admin@example.com", "secret", true, true)

	w := te.do(http.MethodGet, "/users/", sessionToken(t, regular.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = te.do(http.MethodGet, "/users/", sessionToken(t, admin.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var users []user.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 2)
}

func TestListUsers_Pagination(t *testing.T) {
	te := newEnv(true)
	admin := te.seedUser(t, "admin@example.com", "secret", true, true)
	for i := 0; i < 4; i++ {
		te.seedUser(t, fmt.Sprintf("user%d@example.com", i), "secret", false, true)
	}

	w := te.do(http.MethodGet, "/users/?skip=1&limit=2", sessionToken(t, admin.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var users []user.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 2)
}

func TestCreateUser_NeverExposesPassword(t *testing.T) {
	te := newEnv(true)
	admin := te.seedUser(t, "admin@example.com", "secret", true, true)

	w := te.do(http.MethodPost, "/users/", sessionToken(t, admin.ID), map[string]interface{}{
		"email":             "new@example.com",
		"password":          "changeme",
		"full_name":         "New Person",
		"is_hospital_staff": true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))
	assert.NotContains(t, raw, "password")
	assert.NotContains(t, raw, "hashed_password")
	assert.Equal(t, "new@example.com", raw["email"])

	stored, err := te.store.GetByEmail(context.Background(), "new@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "New Person", stored.FullName)
	assert.True(t, stored.IsHospitalStaff)
	assert.False(t, stored.IsVerified)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.HashedPassword), []byte("changeme")))

	// admin-created accounts trigger no email
	assert.Empty(t, te.mailer.sent)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	te := newEnv(true)
	admin := te.seedUser(t, "admin@example.com", "secret", true, true)

	payload := map[string]interface{}{"email": "dup@example.com", "password": "changeme"}
	w := te.do(http.MethodPost, "/users/", sessionToken(t, admin.ID), payload)
	require.Equal(t, http.StatusOK, w.Code)

	w = te.do(http.MethodPost, "/users/", sessionToken(t, admin.ID), payload)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, te.store.count()) // admin + the single created user
}

func TestCreateUser_ForbiddenForRegularUser(t *testing.T) {
	te := newEnv(true)
	regular := te.seedUser(t, "regular@example.com", "secret", false, true)

	w := te.do(http.MethodPost, "/users/", sessionToken(t, regular.ID), map[string]interface{}{
		"email": "x@example.com", "password": "changeme",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOpenRegistration_Disabled(t *testing.T) {
	te := newEnv(false)

	w := te.do(http.MethodPost, "/users/open", "", map[string]interface{}{
		"email": "someone@example.com", "password": "changeme",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, te.store.count())
	assert.Empty(t, te.mailer.sent)
}

func TestOpenRegistration_Success(t *testing.T) {
	te := newEnv(true)

	w := te.do(http.MethodPost, "/users/open", "", map[string]interface{}{
		"email":     "vol@example.com",
		"password":  "changeme",
		"full_name": "Vol Unteer",
		"about":     "I want to help at the hospital",
	})
	require.Equal(t, http.StatusOK, w.Code)

	created := decodeUser(t, w)
	assert.False(t, created.IsVerified)
	assert.False(t, created.IsVolunteer)
	assert.True(t, created.IsActive)

	stored, err := te.store.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	accountMails := te.mailer.byKind("new_account")
	require.Len(t, accountMails, 1)
	assert.Equal(t, "vol@example.com", accountMails[0].to)

	// the token in the email resolves back to the new user
	sub, err := te.codec.Decode(accountMails[0].token)
	require.NoError(t, err)
	assert.Equal(t, created.ID, sub)

	infoMails := te.mailer.byKind("new_account_info")
	require.Len(t, infoMails, 1)
	assert.Equal(t, te.cfg.EmailsFromEmail, infoMails[0].to)
	assert.Equal(t, "Vol Unteer", infoMails[0].fullName)
	assert.Equal(t, "I want to help at the hospital", infoMails[0].about)
}

func TestOpenRegistration_DuplicateEmail(t *testing.T) {
	te := newEnv(true)
	te.seedUser(t, "taken@example.com", "secret", false, true)

	w := te.do(http.MethodPost, "/users/open", "", map[string]interface{}{
		"email": "taken@example.com", "password": "changeme",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, te.store.count())
	assert.Empty(t, te.mailer.sent)
}

func TestConfirmRegistration_InvalidToken(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "pending@example.com", "secret", false, true)

	w := te.do(http.MethodPut, "/users/confirm-registration/not-a-token", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "There was an error validating the provided token.", body["msg"])

	stored, _ := te.store.GetByID(context.Background(), u.ID)
	assert.False(t, stored.IsVerified)
	assert.Empty(t, te.mailer.sent)
}

func TestConfirmRegistration_ExpiredToken(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "pending@example.com", "secret", false, true)

	expired := token.NewCodec(testSecret, -time.Minute)
	tok, err := expired.Issue(u.ID)
	require.NoError(t, err)

	w := te.do(http.MethodPut, "/users/confirm-registration/"+tok, "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestConfirmRegistration_UnknownUser(t *testing.T) {
	te := newEnv(true)
	tok, err := te.codec.Issue(uuid.New().String())
	require.NoError(t, err)

	w := te.do(http.MethodPut, "/users/confirm-registration/"+tok, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "User with provided token not found.", body["msg"])
}

func TestConfirmRegistration_Success(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "pending@example.com", "secret", false, true)
	tok, err := te.codec.Issue(u.ID)
	require.NoError(t, err)

	w := te.do(http.MethodPut, "/users/confirm-registration/"+tok, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	confirmed := decodeUser(t, w)
	assert.True(t, confirmed.IsVerified)
	assert.True(t, confirmed.IsVolunteer)

	stored, _ := te.store.GetByID(context.Background(), u.ID)
	assert.True(t, stored.IsVerified)
	assert.True(t, stored.IsVolunteer)

	welcome := te.mailer.byKind("welcome")
	require.Len(t, welcome, 1)
	assert.Equal(t, "pending@example.com", welcome[0].to)
}

func TestCancelRegistration_TokenContract(t *testing.T) {
	te := newEnv(true)

	w := te.do(http.MethodDelete, "/users/cancel-registration/garbage", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	tok, err := te.codec.Issue(uuid.New().String())
	require.NoError(t, err)
	w = te.do(http.MethodDelete, "/users/cancel-registration/"+tok, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelRegistration_DeletesUser(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "quitter@example.com", "secret", false, true)
	tok, err := te.codec.Issue(u.ID)
	require.NoError(t, err)

	w := te.do(http.MethodDelete, "/users/cancel-registration/"+tok, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	snapshot := decodeUser(t, w)
	assert.Equal(t, "quitter@example.com", snapshot.Email)

	stored, err := te.store.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestReadMe(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "me@example.com", "secret", false, true)

	w := te.do(http.MethodGet, "/users/me", sessionToken(t, u.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeUser(t, w)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "me@example.com", got.Email)
}

func TestReadMe_RequiresAuth(t *testing.T) {
	te := newEnv(true)

	w := te.do(http.MethodGet, "/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReadMe_InactiveUser(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "gone@example.com", "secret", false, false)

	w := te.do(http.MethodGet, "/users/me", sessionToken(t, u.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateMe_PasswordOnlyLeavesRestUntouched(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "me@example.com", "oldpass", false, true)

	w := te.do(http.MethodPut, "/users/me", sessionToken(t, u.ID), map[string]interface{}{
		"password": "newpass",
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, _ := te.store.GetByID(context.Background(), u.ID)
	assert.Equal(t, u.Email, stored.Email)
	assert.Equal(t, u.FullName, stored.FullName)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.HashedPassword), []byte("newpass")))
}

func TestUpdateMe_RejectsUnknownFields(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "me@example.com", "secret", false, true)

	w := te.do(http.MethodPut, "/users/me", sessionToken(t, u.ID), map[string]interface{}{
		"is_superuser": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stored, _ := te.store.GetByID(context.Background(), u.ID)
	assert.False(t, stored.IsSuperuser)
}

func TestReadUserByID_SelfAlwaysAllowed(t *testing.T) {
	te := newEnv(true)
	u := te.seedUser(t, "regular@example.com", "secret", false, true)

	w := te.do(http.MethodGet, "/users/"+u.ID, sessionToken(t, u.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeUser(t, w)
	assert.Equal(t, u.ID, got.ID)
}

func TestReadUserByID_OtherRequiresSuperuser(t *testing.T) {
	te := newEnv(true)
	regular := te.seedUser(t, "regular@example.com", "secret", false, true)
	other := te.seedUser(t, "other@example.com", "secret", false, true)
	admin := te.seedUser(t, "admin@example.com", "secret", true, true)

	w := te.do(http.MethodGet, "/users/"+other.ID, sessionToken(t, regular.ID), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = te.do(http.MethodGet, "/users/"+other.ID, sessionToken(t, admin.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decodeUser(t, w)
	assert.Equal(t, other.ID, got.ID)
}

func TestUpdateUser_NotFound(t *testing.T) {
	te := newEnv(true)
	admin := te.seedUser(t, "admin@example.com", "secret", true, true)

	w := te.do(http.MethodPut, "/users/"+uuid.New().String(), sessionToken(t, admin.ID), map[string]interface{}{
		"full_name": "Nobody",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateUser_PartialMerge(t *testing.T) {
	te := newEnv(true)
	admin := te.seedUser(t, "admin@example.com", "secret", true, true)
	target := te.seedUser(t, "target@example.com", "secret", false, true)

	w := te.do(http.MethodPut, "/users/"+target.ID, sessionToken(t, admin.ID), map[string]interface{}{
		"is_active": false,
	})
	require.Equal(t, http.StatusOK, w.Code)

	stored, _ := te.store.GetByID(context.Background(), target.ID)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "target@example.com", stored.Email)
	assert.Equal(t, target.FullName, stored.FullName)
}

func TestUpdateUser_ForbiddenForRegularUser(t *testing.T) {
	te := newEnv(true)
	regular := te.seedUser(t, "regular@example.com", "secret", false, true)
	target := te.seedUser(t, "target@example.com", "secret", false, true)

	w := te.do(http.MethodPut, "/users/"+target.ID, sessionToken(t, regular.ID), map[string]interface{}{
		"full_name": "Hijacked",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
