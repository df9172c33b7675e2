// Package conversations folds a user's message stream into one row per counterpart.
package conversations

import (
	"sort"

	"globetales-service/internal/models"
)

// Thread is the most recent message exchanged with one counterpart.
type Thread struct {
	CounterpartID string
	Last          models.Message
}

// Aggregate groups the messages involving userID by counterpart. Each thread
// carries the newest message of its pair and threads come out newest first.
// Messages that do not involve userID are ignored. Ties on createdAt keep the
// input order.
func Aggregate(userID string, msgs []models.Message) []Thread {
	sorted := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.SenderID == userID || m.ReceiverID == userID {
			sorted = append(sorted, m)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	threads := make([]Thread, 0)
	seen := make(map[string]struct{})
	for _, m := range sorted {
		counterpart := m.Counterpart(userID)
		if _, ok := seen[counterpart]; ok {
			continue
		}
		seen[counterpart] = struct{}{}
		threads = append(threads, Thread{CounterpartID: counterpart, Last: m})
	}
	return threads
}

// CounterpartIDs lists the counterpart of every thread in order.
func CounterpartIDs(threads []Thread) []string {
	ids := make([]string, len(threads))
	for i, t := range threads {
		ids[i] = t.CounterpartID
	}
	return ids
}

// Expand joins threads with their counterpart profiles. Threads whose
// counterpart is not in users are dropped.
func Expand(threads []Thread, users map[string]models.User) []models.Conversation {
	out := make([]models.Conversation, 0, len(threads))
	for _, t := range threads {
		u, ok := users[t.CounterpartID]
		if !ok {
			continue
		}
		out = append(out, models.Conversation{
			User: u.Summary(),
			LastMessage: models.LastMessage{
				ID:        t.Last.ID,
				Content:   t.Last.Content,
				CreatedAt: t.Last.CreatedAt,
				IsRead:    t.Last.IsRead,
			},
		})
	}
	return out
}
