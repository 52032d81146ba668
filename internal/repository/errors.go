package repository

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// Common repository errors
var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
)

// translate maps gorm errors onto the repository sentinels and wraps the rest
func translate(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return errors.Wrap(ErrDuplicateKey, op)
	default:
		return errors.Wrap(err, op)
	}
}
