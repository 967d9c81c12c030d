package authflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harborline/storefront-go/pkg/config"
	"github.com/harborline/storefront-go/pkg/enums"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/events"
	"github.com/harborline/storefront-go/pkg/logger"
	"github.com/harborline/storefront-go/pkg/metrics"
	"github.com/harborline/storefront-go/pkg/session"
	"github.com/harborline/storefront-go/pkg/types"
)

type authAPI interface {
	CheckCustomer(ctx context.Context, email string) (*types.CustomerCheckResult, error)
	PasswordLogin(ctx context.Context, email, password string) (*types.AuthResponse, error)
	SendAuthCode(ctx context.Context, email string) error
	VerifyAuthCode(ctx context.Context, email, code string) (*types.AuthResponse, error)
}

// Service runs the authentication sub-flow on the customer step: classify
// the email, then branch to a password prompt, a one-time code, or straight
// through for unknown emails. Dismissing the prompt is sticky until the
// email changes.
type Service struct {
	api     authAPI
	session *session.Session
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	bus     *events.Bus
	cfg     config.AuthConfig

	mu         sync.Mutex
	stage      enums.AuthStage
	email      string
	generation uint64
	inFlight   bool
	dismissed  bool
	knownEmail bool
	message    string
	otp        *OTPInput
}

type ServiceParams struct {
	API     authAPI
	Session *session.Session
	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics
	Bus     *events.Bus
	Config  config.AuthConfig
}

func NewService(params ServiceParams) (*Service, error) {
	if params.API == nil {
		return nil, fmt.Errorf("auth api required")
	}
	if params.Session == nil {
		return nil, fmt.Errorf("session required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.OTPLength == 0 {
		cfg.OTPLength = 6
	}
	return &Service{
		api:     params.API,
		session: params.Session,
		logg:    params.Logger,
		metrics: params.Metrics,
		bus:     params.Bus,
		cfg:     cfg,
		stage:   enums.AuthStageCheck,
	}, nil
}

func (s *Service) Stage() enums.AuthStage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Message returns the user-visible message for the last failed attempt,
// empty when the last attempt succeeded.
func (s *Service) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// OTP returns the active code input model, nil outside the otp stage.
func (s *Service) OTP() *OTPInput {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.otp
}

// SetEmail records the email under classification. Changing it invalidates
// any in-flight check, resets a sticky dismissal, and restarts the flow.
func (s *Service) SetEmail(email string) {
	email = strings.ToLower(strings.TrimSpace(email))

	s.mu.Lock()
	defer s.mu.Unlock()
	if email == s.email {
		return
	}
	s.email = email
	s.generation++
	s.stage = enums.AuthStageCheck
	s.dismissed = false
	s.knownEmail = false
	s.message = ""
	s.otp = nil
}

// CheckEmail classifies the current email against the server and advances
// the stage. Responses that arrive after the email changed are dropped.
// At most one auth request runs at a time; a duplicate check is a no-op.
func (s *Service) CheckEmail(ctx context.Context) error {
	s.mu.Lock()
	if s.email == "" {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	if s.inFlight || s.stage.IsSettled() || s.stage != enums.AuthStageCheck {
		s.mu.Unlock()
		return nil
	}
	if s.dismissed {
		s.mu.Unlock()
		return nil
	}
	s.inFlight = true
	email := s.email
	generation := s.generation
	s.mu.Unlock()

	result, err := s.api.CheckCustomer(ctx, email)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	if generation != s.generation {
		// The email changed while the check was in flight.
		return nil
	}
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "email", email), "customer check failed")
		return err
	}

	s.knownEmail = result.Exists
	switch {
	case result.Exists && result.HasPassword:
		s.stage = enums.AuthStagePassword
	default:
		// Unknown email, or a known account without a password: proceed
		// as guest. Known accounts are offered a one-time code to load
		// their saved details.
		s.stage = enums.AuthStageDismissed
	}
	s.publishStageLocked()
	return nil
}

// CanRequestCode reports whether the classified email belongs to a known
// account, making the "email me a code" action available.
func (s *Service) CanRequestCode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.knownEmail
}

// Dismiss continues as guest. The prompt stays dismissed until the email
// changes.
func (s *Service) Dismiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.IsSettled() {
		return
	}
	s.stage = enums.AuthStageDismissed
	s.dismissed = true
	s.message = ""
	s.otp = nil
	s.publishStageLocked()
}

// SubmitPassword attempts a password login for the classified email.
func (s *Service) SubmitPassword(ctx context.Context, password string) error {
	if password == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "password is required")
	}

	s.mu.Lock()
	if s.stage != enums.AuthStagePassword {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "password prompt is not active")
	}
	if s.inFlight {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "an auth request is already in progress")
	}
	s.inFlight = true
	email := s.email
	s.mu.Unlock()
	defer s.endRequest()

	resp, err := s.api.PasswordLogin(ctx, email, password)
	if err != nil {
		s.recordFailure(ctx, "password", err)
		return err
	}
	return s.resolve(ctx, "password", resp)
}

// SendCode requests a one-time code for the classified email and enters
// code entry. Available from the password prompt's "email me a code" path
// and as the "load saved details" action for known accounts.
func (s *Service) SendCode(ctx context.Context) error {
	s.mu.Lock()
	allowed := s.stage == enums.AuthStagePassword || s.stage == enums.AuthStageOTP || s.knownEmail
	if !allowed {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "code entry is not available")
	}
	if s.inFlight {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "an auth request is already in progress")
	}
	s.inFlight = true
	email := s.email
	s.mu.Unlock()
	defer s.endRequest()

	if err := s.api.SendAuthCode(ctx, email); err != nil {
		s.recordFailure(ctx, "send_code", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = enums.AuthStageOTP
	s.message = ""
	if s.otp == nil {
		s.otp = NewOTPInput(s.cfg.OTPLength)
	} else {
		s.otp.Clear()
	}
	s.publishStageLocked()
	return nil
}

// ResendCode restarts code entry: new code, cleared input.
func (s *Service) ResendCode(ctx context.Context) error {
	return s.SendCode(ctx)
}

// VerifyCode exchanges the entered code for a session.
func (s *Service) VerifyCode(ctx context.Context, code string) error {
	if len(code) != s.cfg.OTPLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "enter the full code")
	}

	s.mu.Lock()
	if s.stage != enums.AuthStageOTP {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "code entry is not active")
	}
	if s.inFlight {
		s.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "an auth request is already in progress")
	}
	s.inFlight = true
	email := s.email
	s.mu.Unlock()
	defer s.endRequest()

	resp, err := s.api.VerifyAuthCode(ctx, email, code)
	if err != nil {
		s.recordFailure(ctx, "otp", err)
		return err
	}
	return s.resolve(ctx, "otp", resp)
}

// Reset returns the sub-flow to its initial state, e.g. on logout.
func (s *Service) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = enums.AuthStageCheck
	s.generation++
	s.dismissed = false
	s.knownEmail = false
	s.message = ""
	s.otp = nil
}

func (s *Service) endRequest() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Service) resolve(ctx context.Context, kind string, resp *types.AuthResponse) error {
	if resp == nil || resp.AccessToken == "" {
		return pkgerrors.New(pkgerrors.CodeInternal, "empty auth response")
	}
	if err := s.session.SetToken(resp.AccessToken); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store session token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stage = enums.AuthStageResolved
	s.message = ""
	s.otp = nil
	s.metrics.ObserveAuthAttempt(kind, "success")
	s.publishStageLocked()
	s.logg.Info(s.logg.WithField(ctx, "auth_kind", kind), "customer authenticated")
	return nil
}

func (s *Service) recordFailure(ctx context.Context, kind string, err error) {
	code := pkgerrors.CodeOf(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch code {
	case pkgerrors.CodeRateLimit:
		s.message = "Too many attempts. Please wait a moment and try again."
		s.metrics.ObserveAuthAttempt(kind, "rate_limited")
	case pkgerrors.CodeAuthExpired:
		s.message = "That code has expired. Request a new one."
		s.metrics.ObserveAuthAttempt(kind, "expired")
	case pkgerrors.CodeAuthInvalid:
		if kind == "otp" {
			s.message = "That code is not valid. Check it and try again."
		} else {
			s.message = "Incorrect email or password."
		}
		s.metrics.ObserveAuthAttempt(kind, "invalid")
	default:
		s.message = "Something went wrong. Please try again."
		s.metrics.ObserveAuthAttempt(kind, "error")
	}
	s.logg.Warn(s.logg.WithField(ctx, "auth_kind", kind), "auth attempt failed")
}

func (s *Service) publishStageLocked() {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(events.TopicAuthChanged, events.AuthChanged{
		Stage: s.stage.String(),
		Email: s.email,
	}); err != nil {
		s.logg.Warn(context.Background(), "publish auth change failed")
	}
}
