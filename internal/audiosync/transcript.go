package audiosync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// TranscriptEntry is one timed span of speech
type TranscriptEntry struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type transcriptFile struct {
	Segments []TranscriptEntry `json:"segments"`
}

// LoadTranscript reads a JSON transcript: either an array of entries or an
// object with a "segments" array. An empty path yields an empty transcript.
func LoadTranscript(path string) ([]TranscriptEntry, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	entries, err := ParseTranscript(data)
	if err != nil {
		return nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return entries, nil
}

// ParseTranscript decodes transcript JSON and orders entries by start time
func ParseTranscript(data []byte) ([]TranscriptEntry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var entries []TranscriptEntry
	if data[0] == '[' {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, err
		}
	} else {
		var file transcriptFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, err
		}
		entries = file.Segments
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Start < entries[j].Start
	})
	return entries, nil
}
