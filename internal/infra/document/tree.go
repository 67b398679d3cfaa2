// Package document implements dotted-path writes and condition checks over a
// JSON-shaped game document. The memory and redis stores share it so both
// honour the same update semantics as the mongo store.
package document

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"panel-quiz-service/internal/domain"
)

// Tree is a decoded JSON object.
type Tree map[string]any

// FromGame encodes a game into a tree.
func FromGame(g domain.Game) (Tree, error) {
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("encode game: %w", err)
	}
	return Parse(raw)
}

// Parse decodes raw JSON into a tree.
func Parse(raw []byte) (Tree, error) {
	var t Tree
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return t, nil
}

// Game decodes the tree back into a game.
func (t Tree) Game() (domain.Game, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return domain.Game{}, fmt.Errorf("encode document: %w", err)
	}
	var g domain.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return domain.Game{}, fmt.Errorf("decode game: %w", err)
	}
	return g, nil
}

// Bytes encodes the tree as JSON.
func (t Tree) Bytes() ([]byte, error) {
	return json.Marshal(t)
}

// Get resolves a dotted path. Null values count as absent.
func (t Tree) Get(path string) (any, bool) {
	var cur any = map[string]any(t)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Set assigns v at path, creating intermediate objects.
func (t Tree) Set(path string, v any) error {
	norm, err := normalize(v)
	if err != nil {
		return err
	}
	parts := strings.Split(path, ".")
	cur := map[string]any(t)
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part]
		if !ok || next == nil {
			child := map[string]any{}
			cur[part] = child
			cur = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("path %q crosses a non-object at %q", path, part)
		}
		cur = child
	}
	cur[parts[len(parts)-1]] = norm
	return nil
}

// Matches reports whether every condition holds.
func (t Tree) Matches(conds []domain.Condition) (bool, error) {
	for _, c := range conds {
		got, present := t.Get(c.Path)
		switch c.Op {
		case domain.OpMissing:
			if present {
				return false, nil
			}
		case domain.OpPresent:
			if !present {
				return false, nil
			}
		case domain.OpEquals, domain.OpNotEquals:
			want, err := normalize(c.Value)
			if err != nil {
				return false, err
			}
			equal := present && reflect.DeepEqual(got, want)
			if c.Op == domain.OpEquals && !equal {
				return false, nil
			}
			if c.Op == domain.OpNotEquals && equal {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unknown condition op %q", c.Op)
		}
	}
	return true, nil
}

// Apply checks the update's conditions and applies its assignments. It
// returns domain.ErrConflict without modifying t when a condition fails.
func (t Tree) Apply(u domain.Update, now time.Time) error {
	ok, err := t.Matches(u.When)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConflict
	}
	for path, v := range u.Set {
		if domain.IsServerTimestamp(v) {
			v = now
		}
		if err := t.Set(path, v); err != nil {
			return err
		}
	}
	return nil
}

// normalize maps a Go value onto its JSON-decoded shape so comparisons and
// stored values agree with what Parse produces.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return out, nil
}
