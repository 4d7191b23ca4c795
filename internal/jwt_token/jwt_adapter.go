package jwttoken

import (
	dErrors "crowdledger/pkg/domain-errors"
	authmw "crowdledger/pkg/platform/middleware/auth"
)

// JWTServiceAdapter lets the auth middleware validate tokens with a JWTService.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*authmw.JWTClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	caller, err := claims.Identity()
	if err != nil {
		return nil, dErrors.New(dErrors.CodeUnauthenticated, "token subject is not an identity")
	}
	return &authmw.JWTClaims{Caller: caller, JTI: claims.ID}, nil
}
