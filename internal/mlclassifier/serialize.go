package mlclassifier

import (
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// Snapshot is a classifier's serializable state: enough to reconstruct an
// equivalent Classifier (vocabulary names, account order, weight rows)
// without any of the runtime locking machinery. Used to persist a
// newly-promoted model as a blob artifact, the same msgpack-then-hash idiom
// internal/promoter.ContentHash uses for rule versions.
type Snapshot struct {
	ModelVersionID string      `msgpack:"model_version_id"`
	VocabNames     []string    `msgpack:"vocab_names"`
	Accounts       []string    `msgpack:"accounts"`
	Weights        [][]float64 `msgpack:"weights"`
}

// Snapshot captures c's current state under its read lock.
func (c *Classifier) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows := make([][]float64, len(c.Accounts))
	for i := range c.Accounts {
		rows[i] = mat.Row(nil, i, c.Weights)
	}
	return Snapshot{
		ModelVersionID: c.ModelVersionID,
		VocabNames:     append([]string(nil), c.Vocab.names...),
		Accounts:       append([]string(nil), c.Accounts...),
		Weights:        rows,
	}
}

// Marshal encodes the snapshot for blob storage.
func (s Snapshot) Marshal() ([]byte, error) {
	return msgpack.Marshal(s)
}

// UnmarshalSnapshot decodes a blob artifact previously written by
// Snapshot.Marshal.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// FromSnapshot rebuilds a live Classifier from a previously-persisted
// Snapshot, restoring the exact vocabulary order and weight rows it was
// trained with rather than rederiving them.
func FromSnapshot(s Snapshot) *Classifier {
	vocab := vocabularyFromNames(s.VocabNames)
	c := NewClassifier(s.ModelVersionID, vocab, s.Accounts)
	for i, account := range c.Accounts {
		if i < len(s.Weights) {
			c.SetWeights(account, s.Weights[i])
		}
	}
	return c
}
