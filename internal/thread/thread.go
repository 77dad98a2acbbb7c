// Package thread assembles annotation reply chains.
//
// ThreadPrevID pointers form a singly linked chronological chain, but they
// are treated as an edit log rather than the authoritative read path:
// display order is always resolved by (CreatedAt, ID) sort so a single
// broken link never makes a thread unreadable.
package thread

import (
	"fmt"
	"sort"

	"marginalia/internal/domain/models"
)

// Thread is one root annotation with its replies in display order.
type Thread struct {
	Root    *models.Annotation   `json:"root"`
	Replies []*models.Annotation `json:"replies"`
}

// Build assembles a thread from a root record and its reply records.
// Replies are sorted by creation time, tie-broken by id. Replies pointing at
// a different root are rejected; a broken prev chain is tolerated.
func Build(root *models.Annotation, replies []*models.Annotation) (*Thread, error) {
	if root == nil {
		return nil, fmt.Errorf("thread root is nil")
	}
	if root.IsReply() {
		return nil, fmt.Errorf("annotation %s is a reply, not a thread root", root.ID)
	}

	sorted := make([]*models.Annotation, 0, len(replies))
	for _, r := range replies {
		if r.ThreadRootID == nil || *r.ThreadRootID != root.ID {
			return nil, fmt.Errorf("reply %s does not belong to thread %s", r.ID, root.ID)
		}
		sorted = append(sorted, r)
	}
	SortReplies(sorted)

	return &Thread{Root: root, Replies: sorted}, nil
}

// SortReplies orders replies by creation time, then id, in place.
func SortReplies(replies []*models.Annotation) {
	sort.Slice(replies, func(i, j int) bool {
		if replies[i].CreatedAt.Equal(replies[j].CreatedAt) {
			return replies[i].ID < replies[j].ID
		}
		return replies[i].CreatedAt.Before(replies[j].CreatedAt)
	})
}

// TailID resolves the id a new reply should chain onto: the latest reply by
// (CreatedAt, ID), or the root itself when the thread has no replies yet.
// Deliberately not pointer-chasing, so one broken link cannot orphan the tail.
func TailID(rootID string, replies []*models.Annotation) string {
	if len(replies) == 0 {
		return rootID
	}
	tail := replies[0]
	for _, r := range replies[1:] {
		if r.CreatedAt.After(tail.CreatedAt) ||
			(r.CreatedAt.Equal(tail.CreatedAt) && r.ID > tail.ID) {
			tail = r
		}
	}
	return tail.ID
}

// RelinkAfterDelete repairs the chain around a deleted reply: every reply
// whose ThreadPrevID pointed at the deleted record is repointed to the
// deleted record's own predecessor. Returns the replies that changed.
func RelinkAfterDelete(deleted *models.Annotation, replies []*models.Annotation) []*models.Annotation {
	if deleted.ThreadPrevID == nil {
		return nil
	}
	var relinked []*models.Annotation
	for _, r := range replies {
		if r.ID == deleted.ID {
			continue
		}
		if r.ThreadPrevID != nil && *r.ThreadPrevID == deleted.ID {
			prev := *deleted.ThreadPrevID
			r.ThreadPrevID = &prev
			relinked = append(relinked, r)
		}
	}
	return relinked
}
