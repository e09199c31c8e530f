package flows

import "context"

// Service is the centralized flow runner built once by the root authenticator.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Authenticate.VerifyAccess != nil
}

func (s Service) Authenticate(ctx context.Context, in AuthenticateInput) AuthenticateResult {
	return RunAuthenticate(ctx, in, s.deps.Authenticate)
}

func (s Service) Login(ctx context.Context, userID int64) LoginResult {
	return RunLogin(ctx, userID, s.deps.Login)
}

func (s Service) Logout(ctx context.Context, userID int64) error {
	return RunLogout(ctx, userID, s.deps.Logout)
}

func (s Service) LogoutByRefreshToken(ctx context.Context, value string) LogoutByRefreshResult {
	return RunLogoutByRefreshToken(ctx, value, s.deps.Logout)
}
