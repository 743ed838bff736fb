package auth

import (
	"fmt"
	"strconv"
	"time"

	"mediagate/pkg/types"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const credentialIssuer = "mediagate-cluster"

// CredentialClaims are carried by an exported credential
type CredentialClaims struct {
	SourceDatacenter int `json:"src_dc"`
	jwt.RegisteredClaims
}

// CredentialIssuer signs credentials that let a session on one datacenter
// be established on another. All datacenters of a cluster share the key.
type CredentialIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewCredentialIssuer creates an issuer with the shared cluster key
func NewCredentialIssuer(key []byte, ttl time.Duration) (*CredentialIssuer, error) {
	if len(key) < 16 {
		return nil, ErrWeakSigningKey
	}
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &CredentialIssuer{
		key: key,
		ttl: ttl,
		now: time.Now,
	}, nil
}

// Export signs a credential for the target datacenter
func (ci *CredentialIssuer) Export(from, to types.DatacenterID, subject string) ([]byte, error) {
	now := ci.now()
	claims := CredentialClaims{
		SourceDatacenter: int(from),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    credentialIssuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{to.String()},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ci.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ci.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign credential: %w", err)
	}

	return []byte(signed), nil
}

// Import verifies that a credential was issued for this datacenter
func (ci *CredentialIssuer) Import(credential []byte, dc types.DatacenterID) (*CredentialClaims, error) {
	claims := &CredentialClaims{}

	_, err := jwt.ParseWithClaims(string(credential), claims,
		func(*jwt.Token) (interface{}, error) { return ci.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(credentialIssuer),
		jwt.WithAudience(dc.String()),
		jwt.WithTimeFunc(ci.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	if claims.SourceDatacenter == int(dc) {
		return nil, fmt.Errorf("%w: credential exported to its own datacenter", ErrInvalidCredential)
	}

	return claims, nil
}

// SourceDatacenterID returns the datacenter that exported the credential
func (c *CredentialClaims) SourceDatacenterID() types.DatacenterID {
	return types.DatacenterID(c.SourceDatacenter)
}

// TargetDatacenterID returns the datacenter the credential is valid on
func (c *CredentialClaims) TargetDatacenterID() (types.DatacenterID, error) {
	if len(c.Audience) == 0 {
		return 0, ErrInvalidCredential
	}
	id, err := strconv.Atoi(c.Audience[0])
	if err != nil {
		return 0, fmt.Errorf("%w: audience %q", ErrInvalidCredential, c.Audience[0])
	}
	return types.DatacenterID(id), nil
}
