package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse phone numbers without a country code
const DefaultPhoneRegion = "US"

// RegisterInput is the registration payload
type RegisterInput struct {
	Name        string `json:"name" form:"name"`
	Email       string `json:"email" form:"email"`
	Password    string `json:"password" form:"password"`
	Phone       string `json:"phone_number" form:"phone_number"`
	AutoPayment bool   `json:"auto_payment" form:"auto_payment"`
}

// Validate checks the registration payload
func (r RegisterInput) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = normalizeEmail(r.Email)
	if r.Name == "" || r.Email == "" || r.Password == "" {
		return DeriveError(ErrValidation, "Missing required fields", nil)
	}

	err := validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(1, 255)),
		validation.Field(&r.Email, is.Email, validation.Length(3, 255)),
		validation.Field(&r.Password, validation.Length(1, 72)),
	)
	if err != nil {
		return DeriveError(ErrValidation, "Invalid registration details", err)
	}
	return nil
}

// LoginResult is returned by Login and Refresh
type LoginResult struct {
	TokenPair
	Identity Identity `json:"-"`
}

// Auther drives login, registration, token refresh and role administration
type Auther struct {
	users       UserStore
	provider    *UserProvider
	tokens      *TokenService
	gate        *Gate
	hasher      PasswordHasher
	phoneRegion string
	logger      Logger
	metrics     MetricsRecorder
	activity    ActivitySink
	now         Clock
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(users UserStore, tokens *TokenService, gate *Gate) *Auther {
	hasher := BcryptHasher{}
	return &Auther{
		users:       users,
		provider:    NewUserProvider(users, hasher),
		tokens:      tokens,
		gate:        gate,
		hasher:      hasher,
		phoneRegion: DefaultPhoneRegion,
		logger:      defLogger(),
		metrics:     noopMetrics{},
		activity:    noopActivitySink{},
		now:         systemClock,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger != nil {
		s.logger = logger
		s.provider.WithLogger(logger)
	}
	return s
}

// WithHasher sets the password hasher used for registration and login
func (s *Auther) WithHasher(hasher PasswordHasher) *Auther {
	if hasher != nil {
		s.hasher = hasher
		s.provider = NewUserProvider(s.users, hasher).WithLogger(s.logger)
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activity = normalizeActivitySink(sink)
	return s
}

// WithMetrics sets the metrics recorder
func (s *Auther) WithMetrics(m MetricsRecorder) *Auther {
	if m != nil {
		s.metrics = m
	}
	return s
}

// WithPhoneRegion sets the default region for phone numbers
func (s *Auther) WithPhoneRegion(region string) *Auther {
	if region != "" {
		s.phoneRegion = strings.ToUpper(region)
	}
	return s
}

// WithClock overrides the time source for activity events
func (s *Auther) WithClock(clock Clock) *Auther {
	if clock != nil {
		s.now = clock
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() *TokenService {
	return s.tokens
}

// Gate returns the Gate used to resolve identities
func (s *Auther) Gate() *Gate {
	return s.gate
}

// Login verifies credentials and issues a token pair. Expired members are
// downgraded before the tokens are issued.
func (s *Auther) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, DeriveError(ErrValidation, "Email and password are required", nil)
	}

	user, err := s.provider.VerifyIdentity(ctx, email, password)
	if err != nil {
		s.logger.Warn("login failed", "error", err)
		s.emit(ctx, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata: map[string]any{
				"email": normalizeEmail(email),
				"code":  outcomeOf(err),
			},
		})
		return nil, err
	}

	identity, err := s.gate.LoadIdentity(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	result, err := s.issue(identity)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		ActorID:   identity.ID,
		UserID:    identity.ID,
		ToRole:    identity.Role,
	})

	return result, nil
}

// Register creates a non_member account
func (s *Auther) Register(ctx context.Context, input RegisterInput) (*User, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	phone, err := s.normalizePhone(input.Phone)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.users.Create(ctx, &User{
		Name:         strings.TrimSpace(input.Name),
		Email:        normalizeEmail(input.Email),
		Phone:        phone,
		PasswordHash: hash,
		Role:         RoleNonMember,
		AutoPayment:  input.AutoPayment,
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEvent{
		EventType: ActivityEventRegister,
		ActorID:   user.ID,
		UserID:    user.ID,
		ToRole:    user.Role,
	})

	return user, nil
}

// Refresh exchanges a refresh token for a new pair. The identity is read
// from the store so role changes and downgrades are reflected.
func (s *Auther) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.VerifyKind(refreshToken, TokenKindRefresh)
	if err != nil {
		return nil, err
	}

	identity, err := s.gate.LoadIdentity(ctx, claims.UserID())
	if err != nil {
		return nil, err
	}

	result, err := s.issue(identity)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
		ActorID:   identity.ID,
		UserID:    identity.ID,
		Metadata:  map[string]any{"jti": claims.ID},
	})

	return result, nil
}

// Logout drops the session entry. Issued tokens remain valid until they
// expire.
func (s *Auther) Logout(ctx context.Context, sessionKey string, identity *Identity) error {
	if err := s.gate.Forget(ctx, sessionKey); err != nil {
		s.logger.Warn("failed to delete session on logout", "error", err)
	}

	event := ActivityEvent{EventType: ActivityEventLogout}
	if identity != nil {
		event.ActorID = identity.ID
		event.UserID = identity.ID
	}
	s.emit(ctx, event)
	return nil
}

// Profile returns the stored user for identity
func (s *Auther) Profile(ctx context.Context, identity Identity) (*User, error) {
	user, err := s.users.FindUser(ctx, identity.ID)
	if err != nil {
		return nil, storeFailure(err)
	}
	// the gate may have downgraded after the row was read elsewhere
	user.Role = identity.Role
	return user, nil
}

// ChangeRole sets a user's role on behalf of an admin
func (s *Auther) ChangeRole(ctx context.Context, actor Identity, userID string, role Role) error {
	if err := AdminOnly(actor); err != nil {
		return err
	}

	if !role.IsValid() {
		return DeriveError(ErrValidation, "Invalid role", nil)
	}

	from := Role("")
	if current, err := s.users.FindByID(ctx, userID); err == nil {
		from = current.Role
	} else {
		return storeFailure(err)
	}

	if err := s.users.SetRole(ctx, userID, role); err != nil {
		return storeFailure(err)
	}

	s.emit(ctx, ActivityEvent{
		EventType: ActivityEventRoleChanged,
		ActorID:   actor.ID,
		UserID:    userID,
		FromRole:  from,
		ToRole:    role,
	})

	return nil
}

func (s *Auther) issue(identity Identity) (*LoginResult, error) {
	pair, err := s.tokens.IssuePair(identity)
	if err != nil {
		s.logger.Error("failed to issue token pair", "user_id", identity.ID, "error", err)
		return nil, err
	}

	s.metrics.RecordTokenIssued(TokenKindAccess)
	s.metrics.RecordTokenIssued(TokenKindRefresh)

	return &LoginResult{TokenPair: pair, Identity: identity}, nil
}

func (s *Auther) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, s.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", DeriveError(ErrValidation, "Invalid phone number", nil)
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func (s *Auther) emit(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}
	recordActivity(ctx, s.activity, s.logger, event)
}
