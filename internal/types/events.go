package types

// Event types emitted in tx results.
const (
	EventTypeSoldierMinted   = "SoldierMinted"
	EventTypeMonsterAttacked = "MonsterAttacked"
)

// Event attribute keys.
const (
	AttributeKeyTokenID = "tokenId"
	AttributeKeyOwner   = "owner"
	AttributeKeyAttack  = "attack"
	AttributeKeyDefense = "defense"
	AttributeKeyPoints  = "points"
)
