package maintenance

import (
	"encoding/json"
	"os"
	"time"
)

// StateFile is the sidecar JSON file recording the timestamps of the
// most recent full verification and defragmentation (§6's "Persistent
// state layout").
type StateFile struct {
	path string

	LastVerification    time.Time `json:"last_verification"`
	LastDefragmentation time.Time `json:"last_defragmentation"`
}

// LoadStateFile reads path, returning a zero-valued StateFile (both
// timestamps at the zero time, so both jobs run on first startup) if it
// does not yet exist.
func LoadStateFile(path string) (*StateFile, error) {
	sf := &StateFile{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sf, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, sf); err != nil {
		return nil, err
	}
	sf.path = path
	return sf, nil
}

func (sf *StateFile) save() error {
	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(sf.path, raw, 0o600)
}

func (sf *StateFile) RecordVerification(at time.Time) error {
	sf.LastVerification = at
	return sf.save()
}

func (sf *StateFile) RecordDefragmentation(at time.Time) error {
	sf.LastDefragmentation = at
	return sf.save()
}
