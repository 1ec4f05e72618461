package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"darkforge/internal/fhe"
)

// Params are the game constants. They are fixed at genesis.
type Params struct {
	StatMin uint32 `json:"statMin"`
	StatMax uint32 `json:"statMax"`

	// Points folded into the ledger when the soldier's attack beats the monster's
	// defense, and when it does not. Both must be positive.
	VictoryPoints     uint32 `json:"victoryPoints"`
	ConsolationPoints uint32 `json:"consolationPoints"`
}

func DefaultParams() Params {
	return Params{
		StatMin:           10,
		StatMax:           100,
		VictoryPoints:     10,
		ConsolationPoints: 1,
	}
}

func (p Params) Validate() error {
	if p.StatMax < p.StatMin {
		return fmt.Errorf("statMax %d below statMin %d", p.StatMax, p.StatMin)
	}
	if p.VictoryPoints == 0 || p.ConsolationPoints == 0 {
		return fmt.Errorf("reward points must be positive")
	}
	return nil
}

type State struct {
	Height int64 `json:"height"`

	NextTokenID uint64                `json:"nextTokenId"`
	Soldiers    map[uint64]*Soldier   `json:"soldiers"`
	OwnerTokens map[string][]uint64   `json:"ownerTokens"`        // owner (checksummed hex) -> token ids in mint order
	Points      map[string]fhe.Handle `json:"points"`             // owner -> accumulated points handle
	NonceMax    map[string]uint64     `json:"nonceMax,omitempty"` // signer -> last accepted tx.nonce, for replay protection

	Params Params `json:"params"`
}

func NewState() *State {
	return &State{
		Height:      0,
		NextTokenID: 1,
		Soldiers:    map[uint64]*Soldier{},
		OwnerTokens: map[string][]uint64{},
		Points:      map[string]fhe.Handle{},
		NonceMax:    map[string]uint64{},
		Params:      DefaultParams(),
	}
}

func (s *State) normalize() {
	if s.Soldiers == nil {
		s.Soldiers = map[uint64]*Soldier{}
	}
	if s.OwnerTokens == nil {
		s.OwnerTokens = map[string][]uint64{}
	}
	if s.Points == nil {
		s.Points = map[string]fhe.Handle{}
	}
	if s.NonceMax == nil {
		s.NonceMax = map[string]uint64{}
	}
	if s.NextTokenID == 0 {
		s.NextTokenID = 1
	}
	if s.Params == (Params{}) {
		s.Params = DefaultParams()
	}
}

func Load(home string) (*State, error) {
	path := filepath.Join(home, "state.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	st.normalize()
	return &st, nil
}

func (s *State) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return fmt.Errorf("mkdir home: %w", err)
	}
	path := filepath.Join(home, "state.json")
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Clone returns a deep copy of state suitable for staged tx execution.
func (s *State) Clone() (*State, error) {
	if s == nil {
		return nil, fmt.Errorf("state is nil")
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state clone: %w", err)
	}
	var out State
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode state clone: %w", err)
	}
	out.normalize()
	return &out, nil
}

func (s *State) AppHash() []byte {
	// Hash a normalized view: every map is flattened into a slice sorted by key.
	type soldierKV struct {
		ID      uint64   `json:"id"`
		Soldier *Soldier `json:"soldier"`
	}
	type ownerKV struct {
		Owner  string   `json:"owner"`
		Tokens []uint64 `json:"tokens"`
	}
	type pointsKV struct {
		Owner  string     `json:"owner"`
		Handle fhe.Handle `json:"handle"`
	}
	type nonceKV struct {
		Signer string `json:"signer"`
		Nonce  uint64 `json:"nonce"`
	}

	soldiers := make([]soldierKV, 0, len(s.Soldiers))
	for id, sd := range s.Soldiers {
		soldiers = append(soldiers, soldierKV{ID: id, Soldier: sd})
	}
	sort.Slice(soldiers, func(i, j int) bool { return soldiers[i].ID < soldiers[j].ID })

	owners := make([]ownerKV, 0, len(s.OwnerTokens))
	for k, v := range s.OwnerTokens {
		owners = append(owners, ownerKV{Owner: k, Tokens: v})
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Owner < owners[j].Owner })

	points := make([]pointsKV, 0, len(s.Points))
	for k, v := range s.Points {
		points = append(points, pointsKV{Owner: k, Handle: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Owner < points[j].Owner })

	nonces := make([]nonceKV, 0, len(s.NonceMax))
	for k, v := range s.NonceMax {
		nonces = append(nonces, nonceKV{Signer: k, Nonce: v})
	}
	sort.Slice(nonces, func(i, j int) bool { return nonces[i].Signer < nonces[j].Signer })

	normalized := struct {
		Height      int64       `json:"height"`
		NextTokenID uint64      `json:"nextTokenId"`
		Soldiers    []soldierKV `json:"soldiers"`
		OwnerTokens []ownerKV   `json:"ownerTokens"`
		Points      []pointsKV  `json:"points"`
		NonceMax    []nonceKV   `json:"nonceMax,omitempty"`
		Params      Params      `json:"params"`
	}{
		Height:      s.Height,
		NextTokenID: s.NextTokenID,
		Soldiers:    soldiers,
		OwnerTokens: owners,
		Points:      points,
		NonceMax:    nonces,
		Params:      s.Params,
	}

	b, _ := json.Marshal(normalized)
	sum := sha256.Sum256(b)
	return sum[:]
}
