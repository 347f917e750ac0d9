package storage

import (
	"time"

	"github.com/jackc/pgx/v4"
)

var participantColumns = []string{"chat_id", "user_id", "joined_at"}

type participantRow struct {
	chatID, userID int64
	joinedAt       time.Time
}

type participantBulk struct {
	rows []participantRow
	idx  int
}

func (pr participantRow) toInterface() []interface{} {
	return []interface{}{pr.chatID, pr.userID, pr.joinedAt}
}

func copyFromBulk(rows []participantRow) pgx.CopyFromSource {
	return &participantBulk{
		rows: rows,
		idx:  -1,
	}
}

func (pb *participantBulk) Next() bool {
	pb.idx++
	return pb.idx < len(pb.rows)
}

func (pb *participantBulk) Values() ([]interface{}, error) {
	return pb.rows[pb.idx].toInterface(), nil
}

func (pb *participantBulk) Err() error {
	return nil
}

// participantRows builds one row per user, all joined at the same instant
func participantRows(chatID int64, users []int64, joinedAt time.Time) []participantRow {
	rows := make([]participantRow, 0, len(users))
	for _, user := range users {
		rows = append(rows, participantRow{
			chatID:   chatID,
			userID:   user,
			joinedAt: joinedAt,
		})
	}
	return rows
}
