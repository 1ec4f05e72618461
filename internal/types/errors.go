package types

import errorsmod "cosmossdk.io/errors"

// x/forge sentinel errors.
var (
	ErrInvalidRequest   = errorsmod.Register(ModuleName, 1, "invalid request")
	ErrOwnership        = errorsmod.Register(ModuleName, 2, "caller is not the token owner")
	ErrAuthorization    = errorsmod.Register(ModuleName, 3, "not authorized")
	ErrMalformedRequest = errorsmod.Register(ModuleName, 4, "malformed request")
	ErrTransientNetwork = errorsmod.Register(ModuleName, 5, "transient network failure")
	ErrOverflow         = errorsmod.Register(ModuleName, 6, "arithmetic overflow")
	ErrSoldierNotFound  = errorsmod.Register(ModuleName, 7, "soldier not found")
	ErrUnauthorizedTx   = errorsmod.Register(ModuleName, 8, "unauthorized tx")
	ErrUnknownTx        = errorsmod.Register(ModuleName, 9, "unknown tx type")
	ErrHandleNotFound   = errorsmod.Register(ModuleName, 10, "ciphertext handle not found")
	ErrHandleType       = errorsmod.Register(ModuleName, 11, "ciphertext type mismatch")
	ErrStatsAlreadySet  = errorsmod.Register(ModuleName, 12, "soldier stats already assigned")
	ErrInvalidState     = errorsmod.Register(ModuleName, 13, "invalid request state")
)
