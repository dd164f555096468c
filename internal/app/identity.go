package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"quizarena/internal/domain"
)

// Credential is the already-verified identity material the external layer
// extracted from a request. Token verification is not this package's job;
// by the time a Credential arrives, UserID/GuestID are trusted.
type Credential struct {
	UserID     *uuid.UUID
	GuestID    *uuid.UUID
	RemoteAddr string
	UserAgent  string
	Path       string
}

// IdentityService maps credentials to participants and merges guest history
// into accounts at registration.
type IdentityService struct {
	store IdentityStore
	now   func() time.Time
}

func NewIdentityService(store IdentityStore) *IdentityService {
	return NewIdentityServiceWithClock(store, time.Now)
}

// NewIdentityServiceWithClock is test-only for deterministic timestamps.
func NewIdentityServiceWithClock(store IdentityStore, now func() time.Time) *IdentityService {
	return &IdentityService{store: store, now: now}
}

// GuestIDFromAddr derives the stable guest identity for a network address,
// so repeat visits from the same address without a token reuse one account.
func GuestIDFromAddr(addr string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(addr))
}

// Resolve maps a credential to exactly one participant. A verified account
// wins; otherwise an active guest token; otherwise a guest is provisioned
// keyed by the originating address. When nothing resolves, required decides
// between ErrAuthenticationRequired and an anonymous zero participant.
func (s *IdentityService) Resolve(ctx context.Context, cred Credential, required bool) (domain.Participant, error) {
	if cred.UserID != nil {
		user, err := s.store.UserByID(ctx, *cred.UserID)
		if err == nil {
			s.logActivity(ctx, domain.Participant{User: user}, cred.Path)
			return domain.Participant{User: user}, nil
		}
		if !isNotFound(err) {
			return domain.Participant{}, err
		}
	}

	if cred.GuestID != nil {
		guest, err := s.store.GuestByID(ctx, *cred.GuestID)
		if err == nil && guest.Status == domain.GuestActive {
			return s.touch(ctx, guest, cred)
		}
		if err != nil && !isNotFound(err) {
			return domain.Participant{}, err
		}
	}

	addr := hostOnly(cred.RemoteAddr)
	if addr == "" {
		if required {
			return domain.Participant{}, domain.ErrAuthenticationRequired
		}
		return domain.Participant{}, nil
	}

	id := GuestIDFromAddr(addr)
	guest, err := s.store.GuestByID(ctx, id)
	switch {
	case err == nil:
		if guest.Status != domain.GuestActive {
			if required {
				return domain.Participant{}, domain.ErrAuthenticationRequired
			}
			return domain.Participant{}, nil
		}
		return s.touch(ctx, guest, cred)
	case isNotFound(err):
		now := s.now()
		guest = &domain.GuestAccount{
			ID:          id,
			RemoteAddr:  addr,
			UserAgent:   cred.UserAgent,
			Status:      domain.GuestActive,
			FirstSeenAt: now,
			LastSeenAt:  now,
		}
		if err := s.store.CreateGuest(ctx, guest); err != nil {
			return domain.Participant{}, err
		}
		s.logActivity(ctx, domain.Participant{Guest: guest}, cred.Path)
		return domain.Participant{Guest: guest}, nil
	default:
		return domain.Participant{}, err
	}
}

// Register creates an account and merges all unlinked guest accounts from
// the same address into it: their attempts and activity become attributable
// to the account while the guest rows stay behind for audit. It returns the
// new user and the number of guests merged.
func (s *IdentityService) Register(ctx context.Context, email, password, remoteAddr string) (*domain.User, int, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, 0, fmt.Errorf("%w: a valid email is required", domain.ErrValidation)
	}
	if len(password) < 6 {
		return nil, 0, fmt.Errorf("%w: password must be at least 6 characters", domain.ErrValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, 0, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, 0, err
	}

	merged := 0
	if addr := hostOnly(remoteAddr); addr != "" {
		merged, err = s.store.MergeGuests(ctx, addr, user.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("merge guest history: %w", err)
		}
	}
	return user, merged, nil
}

// Login authenticates an email/password pair. Unknown emails and wrong
// passwords fail identically so the endpoint does not leak which emails
// exist.
func (s *IdentityService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: unknown email or wrong password", domain.ErrAuthenticationRequired)
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, fmt.Errorf("%w: unknown email or wrong password", domain.ErrAuthenticationRequired)
	}
	return user, nil
}

func (s *IdentityService) touch(ctx context.Context, guest *domain.GuestAccount, cred Credential) (domain.Participant, error) {
	guest.LastSeenAt = s.now()
	if err := s.store.SaveGuest(ctx, guest); err != nil {
		return domain.Participant{}, err
	}
	s.logActivity(ctx, domain.Participant{Guest: guest}, cred.Path)
	return domain.Participant{Guest: guest}, nil
}

// logActivity is best-effort; failing to write the audit trail never fails
// the request.
func (s *IdentityService) logActivity(ctx context.Context, p domain.Participant, path string) {
	if path == "" {
		return
	}
	entry := &domain.ActivityLog{Path: path, Timestamp: s.now()}
	if p.User != nil {
		id := p.User.ID
		entry.UserID = &id
	} else if p.Guest != nil {
		id := p.Guest.ID
		entry.GuestID = &id
	}
	if err := s.store.AppendActivity(ctx, entry); err != nil {
		log.Printf("activity log write failed for %s: %v", path, err)
	}
}

func hostOnly(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	if idx := strings.LastIndex(remoteAddr, ":"); idx > 0 && strings.Count(remoteAddr, ":") == 1 {
		return remoteAddr[:idx]
	}
	// Bracketed IPv6 host:port.
	if strings.HasPrefix(remoteAddr, "[") {
		if idx := strings.Index(remoteAddr, "]"); idx > 0 {
			return remoteAddr[1:idx]
		}
	}
	return remoteAddr
}
