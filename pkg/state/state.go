// Package state keeps the ID of the tracked status message in a small JSON
// file so a restart can skip the pinned-message scan.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type TrackedMessage struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

type File struct {
	Path string
}

// Load returns a zero TrackedMessage when the file does not exist yet.
func (f *File) Load() (TrackedMessage, error) {
	var v TrackedMessage
	if err := readState(f.Path, &v); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TrackedMessage{}, nil
		}
		return TrackedMessage{}, fmt.Errorf("read state %s: %w", f.Path, err)
	}
	return v, nil
}

func (f *File) Save(v TrackedMessage) error {
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	if err := saveState(f.Path, v); err != nil {
		return fmt.Errorf("write state %s: %w", f.Path, err)
	}
	return nil
}

func readState(file string, v any) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(v)
}

func saveState(file string, v any) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(v)
}
