package services

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cppla/audiohub/utils"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrInvalidCredential   = errors.New("invalid credentials")
	ErrTokenExpired        = utils.ErrTokenExpired
	ErrTokenInvalid        = utils.ErrTokenInvalid
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrAuthProvider        = errors.New("identity provider error")
	ErrPersistence         = errors.New("persistence failure")
	ErrForbidden           = errors.New("forbidden")
	ErrValidation          = errors.New("validation failed")
	ErrProviderDisabled    = errors.New("identity provider not configured")
)

// AlreadyExistsError names the fields that collided with an existing account.
type AlreadyExistsError struct {
	Fields []string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists", strings.Join(e.Fields, " and "))
}

// Is makes errors.Is(err, ErrAlreadyExists) hold.
func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// logPersistence records an unexpected store error with its context and hides
// the details from the caller.
func logPersistence(logger *zap.Logger, op string, key any, err error) error {
	logger.Error("database operation failed", zap.String("op", op), zap.Any("key", key), zap.Error(err))
	return fmt.Errorf("%w: %s", ErrPersistence, op)
}
