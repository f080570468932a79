package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/tansu/internal/model"
)

// IdentitySource loads the identities a PIN is checked against.
type IdentitySource interface {
	ListActiveIdentities(ctx context.Context, tenantID string) ([]model.Identity, error)
	TouchLastLogin(ctx context.Context, tenantID string, id int64, at time.Time) error
}

// PINVerifier matches a PIN against every active identity of a tenant.
type PINVerifier struct {
	src  IdentitySource
	cost int
	now  func() time.Time

	dummyOnce sync.Once
	dummy     []byte

	wg sync.WaitGroup
}

// NewPINVerifier returns a verifier over src. cost is the bcrypt cost used for
// the placeholder comparison when a tenant has no identities; it should match
// the cost new PINs are hashed with.
func NewPINVerifier(src IdentitySource, cost int, now func() time.Time) *PINVerifier {
	if now == nil {
		now = time.Now
	}
	return &PINVerifier{src: src, cost: cost, now: now}
}

// Verify returns the identity whose PIN matches. Every identity is compared,
// so the work done does not depend on which one matched.
func (v *PINVerifier) Verify(ctx context.Context, tenantID, pin string) (*model.Identity, error) {
	if err := model.ValidatePIN(pin); err != nil {
		return nil, ErrInvalidCredential
	}

	identities, err := v.src.ListActiveIdentities(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("loading identities: %w", err)
	}

	match := v.match(identities, pin)
	if match == nil || !match.Active {
		return nil, ErrInvalidCredential
	}

	v.touch(ctx, match)
	return match, nil
}

// InUse reports whether an active identity other than exceptID already has pin.
// PINs must be unique per tenant since login is by PIN alone.
func (v *PINVerifier) InUse(ctx context.Context, tenantID, pin string, exceptID int64) (bool, error) {
	identities, err := v.src.ListActiveIdentities(ctx, tenantID)
	if err != nil {
		return false, fmt.Errorf("loading identities: %w", err)
	}
	for _, ident := range identities {
		if ident.ID == exceptID {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(ident.PINHash), []byte(pin)) == nil {
			return true, nil
		}
	}
	return false, nil
}

// Wait blocks until pending last-login updates are done.
func (v *PINVerifier) Wait() {
	v.wg.Wait()
}

func (v *PINVerifier) match(identities []model.Identity, pin string) *model.Identity {
	if len(identities) == 0 {
		bcrypt.CompareHashAndPassword(v.dummyHash(), []byte(pin))
		return nil
	}

	var match *model.Identity
	for i := range identities {
		ok := bcrypt.CompareHashAndPassword([]byte(identities[i].PINHash), []byte(pin)) == nil
		if ok && match == nil {
			match = &identities[i]
		}
	}
	return match
}

func (v *PINVerifier) dummyHash() []byte {
	v.dummyOnce.Do(func() {
		v.dummy, _ = bcrypt.GenerateFromPassword([]byte("00000000"), v.cost)
	})
	return v.dummy
}

// touch updates last-login off the request path. Failures are only logged.
func (v *PINVerifier) touch(ctx context.Context, ident *model.Identity) {
	at := v.now()
	tenantID, id, code := ident.TenantID, ident.ID, ident.Code
	ctx = context.WithoutCancel(ctx)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := v.src.TouchLastLogin(ctx, tenantID, id, at); err != nil {
			slog.Error("failed to update last login", "identity", code, "error", err)
		}
	}()
}

// HashPIN hashes a PIN for storage.
func HashPIN(pin string, cost int) (string, error) {
	if err := model.ValidatePIN(pin); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", fmt.Errorf("hashing pin: %w", err)
	}
	return string(hash), nil
}

// GeneratePIN returns a random 8-digit PIN.
func GeneratePIN() (string, error) {
	result := make([]byte, model.PINLength)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		result[i] = byte('0' + n.Int64())
	}
	return string(result), nil
}
