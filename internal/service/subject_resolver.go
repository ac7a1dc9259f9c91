package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/finance-tracker-auth/internal/repository"
)

const unknownSubjectNamespace = "subject"

// DefaultUnknownSubjectTTL bounds how long a subject with no user is
// remembered.
const DefaultUnknownSubjectTTL = time.Minute

// SubjectResolver maps a verified token subject (the user's email) to its
// tenant, rejecting subjects whose user does not exist.
type SubjectResolver struct {
	users   repository.UserRepository
	missing NegativeLookupCache
	ttl     time.Duration
	logger  *slog.Logger
}

func NewSubjectResolver(users repository.UserRepository, missing NegativeLookupCache, ttl time.Duration, logger *slog.Logger) *SubjectResolver {
	if missing == nil {
		missing = NoopNegativeLookupCache{}
	}
	if ttl <= 0 {
		ttl = DefaultUnknownSubjectTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SubjectResolver{users: users, missing: missing, ttl: ttl, logger: logger}
}

// ResolveSubject returns ErrTokenInvalid for an empty or unknown subject.
// Other errors are lookup failures.
func (r *SubjectResolver) ResolveSubject(ctx context.Context, subject string) (uint, error) {
	key := repository.NormalizeEmail(subject)
	if key == "" {
		return 0, ErrTokenInvalid
	}
	if hit, err := r.missing.IsMissing(ctx, unknownSubjectNamespace, key); err != nil {
		r.logger.WarnContext(ctx, "negative lookup cache read failed", "error", err)
	} else if hit {
		return 0, ErrTokenInvalid
	}
	user, err := r.users.FindByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			if err := r.missing.MarkMissing(ctx, unknownSubjectNamespace, key, r.ttl); err != nil {
				r.logger.WarnContext(ctx, "negative lookup cache write failed", "error", err)
			}
			return 0, ErrTokenInvalid
		}
		return 0, err
	}
	return user.ID, nil
}
