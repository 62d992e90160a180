package federation

import "errors"

var (
	ErrProviderMisconfigured = errors.New("provider configuration incomplete")
	ErrExchangeCodeFailed    = errors.New("failed to exchange authorization code")
	ErrFetchUserInfoFailed   = errors.New("failed to fetch user info from provider")
)
