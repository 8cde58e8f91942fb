package session

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Transcript is the JSON record written by --transcript.
type Transcript struct {
	ID      uuid.UUID    `json:"id"`
	Model   string       `json:"model,omitempty"`
	Started time.Time    `json:"started"`
	Turns   []TurnRecord `json:"turns"`

	mu sync.Mutex
}

// TurnRecord is one completed turn.
type TurnRecord struct {
	Time         time.Time `json:"time"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	PromptTokens int       `json:"prompt_tokens"`
	Generated    int       `json:"generated_tokens"`
	Dropped      int       `json:"dropped_messages,omitempty"`
	Stop         string    `json:"stop"`
	PrefillTPS   float64   `json:"prefill_tps"`
	DecodeTPS    float64   `json:"decode_tps"`
	Interrupted  bool      `json:"interrupted,omitempty"`
}

func NewTranscript(model string) *Transcript {
	return &Transcript{ID: uuid.New(), Model: model, Started: time.Now().UTC()}
}

func (t *Transcript) Append(r TurnRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Turns = append(t.Turns, r)
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Turns)
}

// Save writes the transcript atomically through a temp file in the same
// directory.
func (t *Transcript) Save(path string) error {
	t.mu.Lock()
	data, err := json.MarshalIndent(t, "", "  ")
	t.mu.Unlock()
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".transcript-*.json")
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &PersistenceError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &PersistenceError{Path: path, Err: err}
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// LoadTranscript reads a transcript written by Save.
func LoadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t := &Transcript{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, err
	}
	return t, nil
}
