package auth

import (
	"github.com/rentledger/rentledger-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	TenantID *uuid.UUID
	Role     enums.MemberRole
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued to clients. TenantID is
// set only for tenant-role tokens and scopes reads to that tenant's records.
type AccessTokenClaims struct {
	UserID   uuid.UUID        `json:"user_id"`
	TenantID *uuid.UUID       `json:"tenant_id,omitempty"`
	Role     enums.MemberRole `json:"role"`
	jwt.RegisteredClaims
}
