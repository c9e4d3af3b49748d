package timeline

import (
	"time"

	"github.com/inbox/internal/model"
)

const dateKeyLayout = "2006-01-02"

// DateGroup is one calendar day of a timeline. Messages with a malformed
// timestamp are grouped under their raw value and have Valid false.
type DateGroup struct {
	Key      string          `json:"key"`
	Valid    bool            `json:"valid"`
	Messages []model.Message `json:"messages"`
	// Runs splits Messages by sender so a client shows each name once.
	Runs []SenderRun `json:"runs"`
}

// SenderRun is a maximal run of consecutive messages from one sender.
type SenderRun struct {
	SenderID   string   `json:"sender_id"`
	SenderName string   `json:"sender_name"`
	MessageIDs []string `json:"message_ids"`
}

// GroupByDate partitions the current messages by calendar day in loc,
// keeping chronological order of groups and of messages within a group.
func (t *Timeline) GroupByDate(loc *time.Location) []DateGroup {
	return GroupByDate(t.Messages(), loc)
}

// GroupByDate groups already ordered messages by calendar day in loc.
func GroupByDate(msgs []model.Message, loc *time.Location) []DateGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DateGroup
	for _, m := range msgs {
		key := m.CreatedAtRaw
		if m.TimestampValid {
			key = m.CreatedAt.In(loc).Format(dateKeyLayout)
		}
		if n := len(groups); n > 0 && groups[n-1].Key == key && groups[n-1].Valid == m.TimestampValid {
			groups[n-1].Messages = append(groups[n-1].Messages, m)
			continue
		}
		groups = append(groups, DateGroup{Key: key, Valid: m.TimestampValid, Messages: []model.Message{m}})
	}
	for i := range groups {
		groups[i].Runs = GroupBySender(groups[i].Messages)
	}
	return groups
}

// GroupBySender splits ordered messages into runs of the same sender; the
// sender name is shown once per run.
func GroupBySender(msgs []model.Message) []SenderRun {
	var runs []SenderRun
	for _, m := range msgs {
		if n := len(runs); n > 0 && runs[n-1].SenderID == m.UserID {
			runs[n-1].MessageIDs = append(runs[n-1].MessageIDs, m.ID)
			continue
		}
		runs = append(runs, SenderRun{SenderID: m.UserID, SenderName: m.Sender.DisplayName(), MessageIDs: []string{m.ID}})
	}
	return runs
}
