package storage

import (
	"encoding/json"
	"fmt"

	"github.com/afom12/Taskflow/domain"
)

func encodeBoard(b domain.Board) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode board %s: %w", b.ID, err)
	}
	return data, nil
}

func decodeBoard(data []byte) (domain.Board, error) {
	var b domain.Board
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.Board{}, fmt.Errorf("decode board: %w", err)
	}
	b.Columns = domain.NormalizeColumns(b.Columns)
	if b.MemberIDs == nil {
		b.MemberIDs = []string{}
	}
	return b, nil
}
