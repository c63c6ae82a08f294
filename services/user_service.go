package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/audiohub/models"
	"github.com/cppla/audiohub/storage"
	"github.com/cppla/audiohub/utils"
)

// UserService implements account CRUD on top of the userprofile table.
type UserService struct {
	db     *gorm.DB
	store  storage.Storage
	logger *zap.Logger
}

// NewUserService creates a UserService. store is used to remove the files of
// deleted accounts and may be nil.
func NewUserService(db *gorm.DB, store storage.Storage, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{db: db, store: store, logger: logger.Named("users")}
}

// NewUser is the input of CreateUser.
type NewUser struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
	Role      models.Role
	// Provider and ProviderID are set for accounts created by an identity provider,
	// the only accounts allowed to have no password.
	Provider   string
	ProviderID string
}

// UserPatch carries a partial update; nil fields are left untouched.
type UserPatch struct {
	FirstName *string
	LastName  *string
	Role      *models.Role
	Password  *string
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Role == nil && p.Password == nil
}

// CreateUser validates uniqueness of email and username, hashes the password and inserts the row.
func (s *UserService) CreateUser(ctx context.Context, in NewUser) (*models.UserProfile, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validateNewUser(in); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}

	user := &models.UserProfile{
		Email:      in.Email,
		Username:   in.Username,
		FirstName:  utils.SanitizeText(in.FirstName, 100),
		LastName:   utils.SanitizeText(in.LastName, 100),
		Role:       in.Role,
		Provider:   in.Provider,
		ProviderID: in.ProviderID,
	}
	if in.Password != "" {
		hash, err := utils.HashPassword(in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.PasswordHash = hash
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields, err := conflictingFields(tx, user.Email, user.Username)
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			return &AlreadyExistsError{Fields: fields}
		}
		return tx.Create(user).Error
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyExists):
		return nil, err
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// lost a race against a concurrent insert; report what collides now
		fields, cerr := conflictingFields(s.db.WithContext(ctx), user.Email, user.Username)
		if cerr != nil || len(fields) == 0 {
			fields = []string{"email", "username"}
		}
		return nil, &AlreadyExistsError{Fields: fields}
	default:
		return nil, s.persistenceError("create user", user.Email, err)
	}

	s.logger.Info("user created", zap.Uint("user_id", user.ID), zap.String("role", string(user.Role)), zap.String("provider", user.Provider))
	return user, nil
}

func validateNewUser(in NewUser) error {
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return validationError("a valid email is required")
	}
	if n := utf8.RuneCountInString(in.Username); n == 0 || n > models.UsernameMaxLen {
		return validationError("username must be 1-%d characters", models.UsernameMaxLen)
	}
	if in.Password == "" && in.Provider == "" {
		return validationError("password is required")
	}
	if in.Role != "" && !in.Role.Valid() {
		return validationError("unknown role %q", in.Role)
	}
	return nil
}

func conflictingFields(tx *gorm.DB, email, username string) ([]string, error) {
	var fields []string
	var n int64
	if err := tx.Model(&models.UserProfile{}).Where("email = ?", email).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		fields = append(fields, "email")
	}
	if err := tx.Model(&models.UserProfile{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		fields = append(fields, "username")
	}
	return fields, nil
}

// GetUserByID returns ErrNotFound when no account has id.
func (s *UserService) GetUserByID(ctx context.Context, id uint) (*models.UserProfile, error) {
	var user models.UserProfile
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, s.persistenceError("get user", id, err)
	}
	return &user, nil
}

// GetUserByEmail looks an account up by exact email. The boolean is false when absent.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*models.UserProfile, bool, error) {
	return s.findOne(ctx, "email = ?", strings.TrimSpace(email))
}

// GetUserByUsername looks an account up by exact username. The boolean is false when absent.
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*models.UserProfile, bool, error) {
	return s.findOne(ctx, "username = ?", strings.TrimSpace(username))
}

func (s *UserService) findOne(ctx context.Context, query string, arg string) (*models.UserProfile, bool, error) {
	if arg == "" {
		return nil, false, nil
	}
	var users []models.UserProfile
	if err := s.db.WithContext(ctx).Where(query, arg).Limit(1).Find(&users).Error; err != nil {
		return nil, false, s.persistenceError("find user", arg, err)
	}
	if len(users) == 0 {
		return nil, false, nil
	}
	return &users[0], true, nil
}

// ListUsers returns one page of accounts, newest first, and the total count.
func (s *UserService) ListUsers(ctx context.Context, page, pageSize int) ([]models.UserProfile, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.UserProfile{}).Count(&total).Error; err != nil {
		return nil, 0, s.persistenceError("count users", page, err)
	}
	var users []models.UserProfile
	err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&users).Error
	if err != nil {
		return nil, 0, s.persistenceError("list users", page, err)
	}
	return users, total, nil
}

// UpdateUser applies the non-nil fields of patch to account id.
func (s *UserService) UpdateUser(ctx context.Context, id uint, patch UserPatch) (*models.UserProfile, error) {
	updates := map[string]interface{}{}
	if patch.FirstName != nil {
		updates["first_name"] = utils.SanitizeText(*patch.FirstName, 100)
	}
	if patch.LastName != nil {
		updates["last_name"] = utils.SanitizeText(*patch.LastName, 100)
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return nil, validationError("unknown role %q", *patch.Role)
		}
		updates["role"] = *patch.Role
	}
	if patch.Password != nil {
		hash, err := utils.HashPassword(*patch.Password)
		if err != nil {
			return nil, validationError("password must not be empty")
		}
		updates["password_hash"] = hash
	}

	var user models.UserProfile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&user).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return nil, s.persistenceError("update user", id, err)
	}
	return s.GetUserByID(ctx, id)
}

// DeleteUser removes account id together with its audio files.
func (s *UserService) DeleteUser(ctx context.Context, id uint) error {
	var locations, unshared []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.UserProfile
		if err := tx.First(&user, id).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AudioFile{}).Where("owner_id = ?", id).Pluck("filepath", &locations).Error; err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", id).Delete(&models.AudioFile{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&user).Error; err != nil {
			return err
		}
		// keys are shared across owners; keep objects other rows still use
		var err error
		unshared, err = unreferencedLocations(tx, locations)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("user %d: %w", id, ErrNotFound)
		}
		return s.persistenceError("delete user", id, err)
	}

	s.removeObjects(ctx, unshared)
	s.logger.Info("user deleted", zap.Uint("user_id", id), zap.Int("files", len(locations)), zap.Int("objects_removed", len(unshared)))
	return nil
}

func (s *UserService) removeObjects(ctx context.Context, locations []string) {
	if s.store == nil {
		return
	}
	for _, loc := range locations {
		if err := s.store.Delete(ctx, loc); err != nil {
			s.logger.Warn("remove stored file failed", zap.String("location", loc), zap.Error(err))
		}
	}
}

// EnsureSuperuser provisions a superuser when none exists yet. An existing
// account with the same email is promoted instead. It reports whether anything changed.
func (s *UserService) EnsureSuperuser(ctx context.Context, email, username, password string) (bool, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return false, nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.UserProfile{}).Where("role = ?", models.RoleSuperuser).Count(&n).Error; err != nil {
		return false, s.persistenceError("count superusers", email, err)
	}
	if n > 0 {
		return false, nil
	}

	existing, found, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	if found {
		role := models.RoleSuperuser
		if _, err := s.UpdateUser(ctx, existing.ID, UserPatch{Role: &role}); err != nil {
			return false, err
		}
		s.logger.Info("promoted existing account to superuser", zap.Uint("user_id", existing.ID))
		return true, nil
	}

	if strings.TrimSpace(username) == "" {
		username = "admin"
	}
	username, err = s.UniqueUsername(ctx, username, "admin")
	if err != nil {
		return false, err
	}
	if _, err := s.CreateUser(ctx, NewUser{
		Email:    email,
		Username: username,
		Password: password,
		Role:     models.RoleSuperuser,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// UniqueUsername derives a free username from base, falling back to fallback
// when base has no usable characters. Collisions get a numeric suffix.
func (s *UserService) UniqueUsername(ctx context.Context, base, fallback string) (string, error) {
	candidateBase := sanitizeUsername(base)
	if candidateBase == "" {
		candidateBase = sanitizeUsername(fallback)
	}
	if candidateBase == "" {
		candidateBase = "user"
	}
	candidateBase = truncateRunes(candidateBase, models.UsernameMaxLen-8)

	candidate := candidateBase
	for suffix := 1; suffix < 10000; suffix++ {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.UserProfile{}).Where("username = ?", candidate).Count(&count).Error; err != nil {
			return "", s.persistenceError("check username", candidate, err)
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", candidateBase, suffix)
	}
	return "", fmt.Errorf("%w: no free username for %q", ErrAlreadyExists, candidateBase)
}

// sanitizeUsername lowercases input and keeps letters and digits; separators become '_'.
func sanitizeUsername(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range input {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '.' || unicode.IsSpace(r):
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

func truncateRunes(s string, n int) string {
	if rs := []rune(s); len(rs) > n {
		return strings.TrimRight(string(rs[:n]), "_")
	}
	return s
}

func (s *UserService) persistenceError(op string, key any, err error) error {
	return logPersistence(s.logger, op, key, err)
}
