package auth

import (
	"errors"
	"fmt"

	"github.com/nkiryanov/caroauth/internal/apperrors"
	"github.com/nkiryanov/caroauth/internal/metrics"
	"github.com/nkiryanov/caroauth/internal/models"
	"github.com/nkiryanov/caroauth/internal/service/auth/tokenmanager"
)

var errNoCredentials = errors.New("no credentials")

// Authenticate HTTP request by access token.
// Empty or bad token is not an error: the request goes on as anonymous
func (s *AuthService) AuthenticateRequest(bearer string) (models.Principal, bool) {
	principal, err := s.authenticate(bearer)

	switch {
	case err == nil:
		s.metrics.Authentications.WithLabelValues(metrics.GateRequest, metrics.OutcomeOK).Inc()
		return principal, true
	case errors.Is(err, errNoCredentials):
	default:
		s.logger.Debug("request token rejected, continue as anonymous", "reason", err)
	}

	s.metrics.Authentications.WithLabelValues(metrics.GateRequest, metrics.OutcomeAnonymous).Inc()
	return models.Principal{}, false
}

// Authenticate persistent channel handshake by access token.
// Absent or bad token refuses the handshake with apperrors.ErrHandshakeRefused
func (s *AuthService) AuthenticateHandshake(bearer string) (models.Principal, error) {
	principal, err := s.authenticate(bearer)
	if err != nil {
		s.metrics.Authentications.WithLabelValues(metrics.GateHandshake, metrics.OutcomeRefused).Inc()
		s.logger.Info("handshake refused", "reason", err)
		return models.Principal{}, fmt.Errorf("%w: %w", apperrors.ErrHandshakeRefused, err)
	}

	s.metrics.Authentications.WithLabelValues(metrics.GateHandshake, metrics.OutcomeOK).Inc()
	return principal, nil
}

func (s *AuthService) authenticate(bearer string) (models.Principal, error) {
	if bearer == "" {
		return models.Principal{}, errNoCredentials
	}

	token, err := s.tokens.Verify(bearer)
	if err != nil {
		return models.Principal{}, err
	}

	// Refresh token is never a credential
	if token.Type != tokenmanager.TypeAccess {
		return models.Principal{}, fmt.Errorf("token type is '%s'", token.Type)
	}

	return models.Principal{Identity: token.Identity, Username: token.Username}, nil
}
