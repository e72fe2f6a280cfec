package message

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Permission is the shared fine-grained capability type C3's authorization
// checks and C9's permission-keyed cache fingerprint both consume.
// Grounded on original_source/fechatter_server/src/middlewares/permissions.rs's
// Permission enum, trimmed to the chat/message/workspace subset this core
// actually exercises (the original's file/search/invite/system tiers
// belong to modules outside this spec's scope).
type Permission string

const (
	WorkspaceGuest     Permission = "workspace.guest"
	WorkspaceMember    Permission = "workspace.member"
	WorkspaceModerator Permission = "workspace.moderator"
	WorkspaceAdmin     Permission = "workspace.admin"
	WorkspaceOwner     Permission = "workspace.owner"

	ChatObserver  Permission = "chat.observer"
	ChatMember    Permission = "chat.member"
	ChatModerator Permission = "chat.moderator"
	ChatAdmin     Permission = "chat.admin"
	ChatCreator   Permission = "chat.creator"

	MessageOwner  Permission = "message.owner"
	MessageEdit   Permission = "message.edit"
	MessageDelete Permission = "message.delete"
)

// Permissions is an unordered capability set. Its Fingerprint is stable
// regardless of assignment order, which is what makes it safe to fold
// into C9's cache key.
type Permissions []Permission

func (p Permissions) Has(want Permission) bool {
	for _, have := range p {
		if have == want {
			return true
		}
	}
	return false
}

// HasAny reports whether p grants at least one of wants.
func (p Permissions) HasAny(wants ...Permission) bool {
	for _, w := range wants {
		if p.Has(w) {
			return true
		}
	}
	return false
}

// Sorted returns a deterministically ordered copy, the form C9 hashes
// into its cache fingerprint (spec.md §4.9).
func (p Permissions) Sorted() Permissions {
	out := make(Permissions, len(p))
	copy(out, p)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fingerprint hashes the sorted permission set and returns the first 8 hex
// characters, the exact "[perms:first8 of hash(permissions)]" component
// spec.md §4.9 folds into C9's cache key. Sorting first means two
// differently-ordered assignments of the same permission set hash
// identically.
func (p Permissions) Fingerprint() string {
	sorted := p.Sorted()
	strs := make([]string, len(sorted))
	for i, perm := range sorted {
		strs[i] = string(perm)
	}
	sum := sha256.Sum256([]byte(strings.Join(strs, ",")))
	return hex.EncodeToString(sum[:])[:8]
}

// CanEditMessage implements C3's edit_message authorization: the original
// sender, or a chat admin/creator.
func CanEditMessage(actorID int64, msg *Message, actorPerms Permissions) bool {
	if actorID == msg.SenderID {
		return true
	}
	return actorPerms.HasAny(ChatAdmin, ChatCreator)
}

// CanDeleteMessage implements C3's delete_message authorization: the
// original sender, or a chat admin/creator.
func CanDeleteMessage(actorID int64, msg *Message, actorPerms Permissions) bool {
	if actorID == msg.SenderID {
		return true
	}
	return actorPerms.HasAny(ChatAdmin, ChatCreator)
}
