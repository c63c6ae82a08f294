package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/audiohub/models"
	"github.com/cppla/audiohub/storage"
	"github.com/cppla/audiohub/utils"
)

// AllowedAudioExtensions lists the accepted upload extensions, lowercase without dot.
var AllowedAudioExtensions = map[string]struct{}{
	"mp3":  {},
	"wav":  {},
	"flac": {},
	"ogg":  {},
}

const (
	sniffLen            = 3072
	descriptionMaxRunes = 2000
	filenameMaxRunes    = 200
	referenceBatchSize  = 200
)

// UploadInput is the input of AudioService.Upload.
type UploadInput struct {
	OwnerID     uint
	Filename    string // logical name chosen by the uploader
	Description string
	// OriginalName is the client file name; its extension wins over Filename's.
	OriginalName string
	Body         io.Reader
}

// AudioService stores uploaded tracks and their metadata.
type AudioService struct {
	db     *gorm.DB
	users  *UserService
	store  storage.Storage
	logger *zap.Logger
}

func NewAudioService(db *gorm.DB, users *UserService, store storage.Storage, logger *zap.Logger) *AudioService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioService{db: db, users: users, store: store, logger: logger.Named("audio")}
}

// Upload writes the bytes first and records the row afterwards. If the row
// cannot be inserted the stored object is removed again.
func (s *AudioService) Upload(ctx context.Context, in UploadInput) (*models.AudioFile, error) {
	if in.Body == nil {
		return nil, validationError("missing file")
	}
	if _, err := s.users.GetUserByID(ctx, in.OwnerID); err != nil {
		return nil, err
	}

	ext := AudioExtension(in.OriginalName)
	if ext == "" {
		ext = AudioExtension(in.Filename)
	}
	if _, ok := AllowedAudioExtensions[ext]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFileType, path.Ext(fallback(in.OriginalName, in.Filename)))
	}

	logical := logicalName(in.Filename)
	if logical == "" {
		logical = logicalName(in.OriginalName)
	}
	if logical == "" {
		return nil, validationError("filename is required")
	}
	key := logical + "." + ext

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	head = head[:n]
	contentType := mimetype.Detect(head).String()

	obj, err := s.store.Save(ctx, key, io.MultiReader(bytes.NewReader(head), in.Body))
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, validationError("file exceeds the upload size limit")
		}
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, validationError("invalid filename")
		}
		s.logger.Error("store upload failed", zap.String("key", key), zap.Uint("owner_id", in.OwnerID), zap.Error(err))
		return nil, fmt.Errorf("%w: store file", ErrPersistence)
	}

	record := &models.AudioFile{
		Filename:    logical,
		Filepath:    obj.Location,
		Description: utils.SanitizeText(in.Description, descriptionMaxRunes),
		ContentType: contentType,
		Size:        obj.Size,
		OwnerID:     in.OwnerID,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.discardUpload(context.WithoutCancel(ctx), obj.Location)
		// the owner may have been deleted between the check and the insert
		if _, uerr := s.users.GetUserByID(ctx, in.OwnerID); errors.Is(uerr, ErrNotFound) {
			return nil, uerr
		}
		return nil, s.persistenceError("insert audio file", key, err)
	}

	s.logger.Info("audio uploaded", zap.Uint("file_id", record.ID), zap.Uint("owner_id", in.OwnerID), zap.Int64("size", record.Size))
	return record, nil
}

// ListByOwner returns the files of ownerID, newest first. An unknown owner has no files.
func (s *AudioService) ListByOwner(ctx context.Context, ownerID uint) ([]models.AudioFile, error) {
	var files []models.AudioFile
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at desc, id desc").Find(&files).Error; err != nil {
		return nil, s.persistenceError("list audio files", ownerID, err)
	}
	return files, nil
}

// ListAll returns every file, newest first.
func (s *AudioService) ListAll(ctx context.Context) ([]models.AudioFile, error) {
	var files []models.AudioFile
	if err := s.db.WithContext(ctx).Order("created_at desc, id desc").Find(&files).Error; err != nil {
		return nil, s.persistenceError("list all audio files", "*", err)
	}
	return files, nil
}

func (s *AudioService) GetByID(ctx context.Context, id uint) (*models.AudioFile, error) {
	var file models.AudioFile
	if err := s.db.WithContext(ctx).First(&file, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("audio file %d: %w", id, ErrNotFound)
		}
		return nil, s.persistenceError("get audio file", id, err)
	}
	return &file, nil
}

// DeleteByID removes the row and then the stored object, unless another row
// still points at the same object.
func (s *AudioService) DeleteByID(ctx context.Context, id uint) error {
	var (
		file     models.AudioFile
		unshared []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&file, id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&file).Error; err != nil {
			return err
		}
		var err error
		unshared, err = unreferencedLocations(tx, []string{file.Filepath})
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("audio file %d: %w", id, ErrNotFound)
		}
		return s.persistenceError("delete audio file", id, err)
	}
	for _, loc := range unshared {
		if err := s.store.Delete(ctx, loc); err != nil {
			s.logger.Warn("remove stored file failed", zap.Uint("file_id", id), zap.String("location", loc), zap.Error(err))
		}
	}
	s.logger.Info("audio deleted", zap.Uint("file_id", id), zap.Uint("owner_id", file.OwnerID), zap.Bool("object_removed", len(unshared) > 0))
	return nil
}

// discardUpload removes the object of a failed insert. An object that an
// earlier row already points at is kept.
func (s *AudioService) discardUpload(ctx context.Context, location string) {
	unshared, err := unreferencedLocations(s.db.WithContext(ctx), []string{location})
	if err != nil {
		// the orphan sweep picks it up later
		s.logger.Warn("check upload references failed", zap.String("location", location), zap.Error(err))
		return
	}
	for _, loc := range unshared {
		if err := s.store.Delete(ctx, loc); err != nil {
			s.logger.Warn("remove orphaned upload failed", zap.String("location", loc), zap.Error(err))
		}
	}
}

// unreferencedLocations returns the distinct locations that no audio_files row
// refers to through db.
func unreferencedLocations(db *gorm.DB, locations []string) ([]string, error) {
	referenced := make(map[string]struct{}, len(locations))
	for start := 0; start < len(locations); start += referenceBatchSize {
		var known []string
		batch := locations[start:min(start+referenceBatchSize, len(locations))]
		if err := db.Model(&models.AudioFile{}).Where("filepath IN ?", batch).Pluck("filepath", &known).Error; err != nil {
			return nil, err
		}
		for _, k := range known {
			referenced[k] = struct{}{}
		}
	}
	var out []string
	for _, loc := range locations {
		if _, ok := referenced[loc]; ok {
			continue
		}
		referenced[loc] = struct{}{}
		out = append(out, loc)
	}
	return out, nil
}

// SweepOrphans deletes files below root that are older than grace and have no
// audio_files row. It returns the number of files removed.
func (s *AudioService) SweepOrphans(ctx context.Context, root string, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)
	var candidates []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			candidates = append(candidates, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk %s: %w", root, err)
	}

	removed := 0
	for start := 0; start < len(candidates); start += referenceBatchSize {
		end := min(start+referenceBatchSize, len(candidates))
		batch := candidates[start:end]

		orphans, err := unreferencedLocations(s.db.WithContext(ctx), batch)
		if err != nil {
			return removed, s.persistenceError("sweep orphans", root, err)
		}
		for _, p := range orphans {
			if err := s.store.Delete(ctx, p); err != nil {
				s.logger.Warn("remove orphan failed", zap.String("location", p), zap.Error(err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("orphan files removed", zap.Int("count", removed))
	}
	return removed, nil
}

func (s *AudioService) persistenceError(op string, key any, err error) error {
	return logPersistence(s.logger, op, key, err)
}

// AudioExtension returns the lowercase extension of name without the dot.
func AudioExtension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(strings.TrimSpace(name)), "."))
}

// logicalName strips directories and a known audio extension and keeps a safe
// subset of characters, so the result can be used as a storage key.
func logicalName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	name = path.Base(name)
	if _, ok := AllowedAudioExtensions[AudioExtension(name)]; ok {
		name = strings.TrimSuffix(name, path.Ext(name))
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r), r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if rs := []rune(out); len(rs) > filenameMaxRunes {
		out = string(rs[:filenameMaxRunes])
	}
	return out
}
