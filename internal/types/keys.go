package types

const (
	// ModuleName is also the codespace of every registered error.
	ModuleName = "forge"

	// DefaultContractName is the name the game contract is registered under.
	DefaultContractName = "DarkForge"
)

// Tx types routed by the application.
const (
	TxTypeMintSoldier   = "forge/mint_soldier"
	TxTypeAttackMonster = "forge/attack_monster"
)

// ABCI query paths.
const (
	QueryPathContract = "/contract"
	QueryPathParams   = "/params"

	// QueryPathSoldiers is followed by the owner address.
	QueryPathSoldiers = "/soldiers/"
	// QueryPathSoldier is followed by the token id.
	QueryPathSoldier = "/soldier/"
	// QueryPathPoints is followed by the owner address.
	QueryPathPoints = "/points/"
)
