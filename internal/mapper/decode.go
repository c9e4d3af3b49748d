package mapper

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingField is returned when a feed payload lacks a required column.
var ErrMissingField = errors.New("missing required field")

func decode[T any](raw json.RawMessage, v *T) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errors.New("empty row")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s: %w", name, ErrMissingField)
	}
	return nil
}

func DecodeMessageRow(raw json.RawMessage) (MessageRow, error) {
	var row MessageRow
	if err := decode(raw, &row); err != nil {
		return row, err
	}
	if err := errors.Join(requireField("id", row.ID), requireField("chat_id", row.ChatID), requireField("user_id", row.UserID)); err != nil {
		return row, err
	}
	row.Status = string(normalizeStatus(row.Status))
	return row, nil
}

func DecodeChatRow(raw json.RawMessage) (ChatRow, error) {
	var row ChatRow
	if err := decode(raw, &row); err != nil {
		return row, err
	}
	return row, requireField("id", row.ID)
}

func DecodeParticipantRow(raw json.RawMessage) (ParticipantRow, error) {
	var row ParticipantRow
	if err := decode(raw, &row); err != nil {
		return row, err
	}
	return row, errors.Join(requireField("chat_id", row.ChatID), requireField("user_id", row.UserID))
}

func DecodeTagRow(raw json.RawMessage) (TagRow, error) {
	var row TagRow
	if err := decode(raw, &row); err != nil {
		return row, err
	}
	return row, requireField("chat_id", row.ChatID)
}

// ChatRef extracts the owning chat id from a row of any feed table.
func ChatRef(table string, raw json.RawMessage) (string, error) {
	var ref struct {
		ID     string `json:"id"`
		ChatID string `json:"chat_id"`
	}
	if err := decode(raw, &ref); err != nil {
		return "", err
	}
	if table == "chats" {
		return ref.ID, requireField("id", ref.ID)
	}
	return ref.ChatID, requireField("chat_id", ref.ChatID)
}
