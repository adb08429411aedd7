package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"vending-machine/pkg"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const tokenTTL = time.Hour

// AuthService issues tokens for the machine's admin API.
type AuthService interface {
	Authenticate(username, password string) (string, error)
}

type authService struct {
	username  string
	password  string
	log       pkg.Logger
	jwtSecret string
}

func NewAuthService(username, password string, logger pkg.Logger, jwtSecret string) AuthService {
	return &authService{
		username:  username,
		password:  password,
		log:       logger,
		jwtSecret: jwtSecret,
	}
}

func (s *authService) Authenticate(username, password string) (string, error) {
	if s.jwtSecret == "" {
		s.log.Error("auth: empty JWT secret key")
		return "", errors.New("could not generate token: empty secret key")
	}
	if s.password == "" {
		s.log.Warn("auth: admin password not configured", zap.String("username", username))
		return "", fmt.Errorf("%w: admin login disabled", ErrInvalidCredentials)
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !userOK || !passOK {
		s.log.Warn("invalid credentials", zap.String("username", username))
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": username,
		"role":     "admin",
		"exp":      time.Now().Add(tokenTTL).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.log.Error("failed to generate token", zap.String("username", username), zap.Error(err))
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	s.log.Info("Admin authenticated", zap.String("username", username))
	return tokenString, nil
}
