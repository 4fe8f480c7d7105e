// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package rules

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/warden-dev/warden/pkg/types"
)

// snapshot is one immutable published view of the rule set. Readers load it
// atomically and never see a half-applied mutation; writers build a fresh
// snapshot and swap the pointer.
type snapshot struct {
	global []*Rule
	byChat map[string][]*Rule
}

var emptySnapshot = &snapshot{byChat: map[string][]*Rule{}}

// Registry is the in-memory rule cache. The read path (EffectiveRules,
// RulesForStage) is lock-free; writers serialize on a mutex, so concurrent
// mutation keeps creation ordering stable.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.snap.Store(emptySnapshot)
	return r
}

// Seed replaces the whole rule set, used at startup to rebuild the cache
// from persistence. Rules are re-sorted by creation time within each scope.
func (r *Registry) Seed(rules []*Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := &snapshot{byChat: map[string][]*Rule{}}
	for _, rule := range rules {
		if rule.Global() {
			next.global = append(next.global, rule)
		} else {
			next.byChat[rule.ChatID] = append(next.byChat[rule.ChatID], rule)
		}
	}
	sortByCreation(next.global)
	for _, chat := range next.byChat {
		sortByCreation(chat)
	}
	r.snap.Store(next)
}

// Add publishes a new snapshot containing the rule. The caller is expected
// to have persisted it first.
func (r *Registry) Add(rule *Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	next := cur.clone()
	if rule.Global() {
		next.global = append(next.global, rule)
	} else {
		next.byChat[rule.ChatID] = append(next.byChat[rule.ChatID], rule)
	}
	r.snap.Store(next)
}

// Remove drops the rule from the published view. It reports whether the
// rule was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	found := false
	next := &snapshot{byChat: make(map[string][]*Rule, len(cur.byChat))}
	next.global, found = without(cur.global, id)
	for chat, chatRules := range cur.byChat {
		kept, removed := without(chatRules, id)
		found = found || removed
		if len(kept) > 0 {
			next.byChat[chat] = kept
		}
	}
	if !found {
		return false
	}
	r.snap.Store(next)
	return true
}

// EffectiveRules returns the merged view evaluation sees for a chat:
// global rules first, then chat-scoped rules, each group in creation
// order. A chat rule flagged SuppressesGlobal hides global rules of the
// same category; otherwise both apply and severity decides in aggregation.
func (r *Registry) EffectiveRules(chatID string) []*Rule {
	snap := r.snap.Load()
	chat := snap.byChat[chatID]

	suppressed := map[string]bool{}
	for _, rule := range chat {
		if rule.SuppressesGlobal && rule.Category != "" {
			suppressed[rule.Category] = true
		}
	}

	merged := make([]*Rule, 0, len(snap.global)+len(chat))
	for _, rule := range snap.global {
		if suppressed[rule.Category] {
			continue
		}
		merged = append(merged, rule)
	}
	merged = append(merged, chat...)
	return merged
}

// RulesForStage filters the effective view down to one detector stage.
func (r *Registry) RulesForStage(stage types.StageID, chatID string) []*Rule {
	effective := r.EffectiveRules(chatID)
	out := effective[:0:0]
	for _, rule := range effective {
		if rule.Stage == stage {
			out = append(out, rule)
		}
	}
	return out
}

// List returns every rule when chatID is empty, or the effective view for
// a chat otherwise.
func (r *Registry) List(chatID string) []*Rule {
	if chatID != "" {
		return r.EffectiveRules(chatID)
	}
	snap := r.snap.Load()
	out := make([]*Rule, 0, len(snap.global))
	out = append(out, snap.global...)
	chats := make([]string, 0, len(snap.byChat))
	for chat := range snap.byChat {
		chats = append(chats, chat)
	}
	sort.Strings(chats)
	for _, chat := range chats {
		out = append(out, snap.byChat[chat]...)
	}
	return out
}

// Get returns the rule with the given ID, or nil.
func (r *Registry) Get(id string) *Rule {
	snap := r.snap.Load()
	for _, rule := range snap.global {
		if rule.ID == id {
			return rule
		}
	}
	for _, chat := range snap.byChat {
		for _, rule := range chat {
			if rule.ID == id {
				return rule
			}
		}
	}
	return nil
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		global: append([]*Rule(nil), s.global...),
		byChat: make(map[string][]*Rule, len(s.byChat)),
	}
	for chat, chatRules := range s.byChat {
		next.byChat[chat] = append([]*Rule(nil), chatRules...)
	}
	return next
}

func without(rules []*Rule, id string) ([]*Rule, bool) {
	for i, rule := range rules {
		if rule.ID == id {
			kept := make([]*Rule, 0, len(rules)-1)
			kept = append(kept, rules[:i]...)
			return append(kept, rules[i+1:]...), true
		}
	}
	return rules, false
}

func sortByCreation(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
}
